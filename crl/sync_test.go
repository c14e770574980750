package crl

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"genesismesh/audit"
)

func TestAuditBlacklistedAppendsNodeBlacklistedEvent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := audit.Open("node-under-test", audit.Options{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	g := &Gossip{log: log}
	g.auditBlacklisted("peer-x")

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lastLine string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lastLine = sc.Text()
	}
	require.NoError(t, sc.Err())
	require.NotEmpty(t, lastLine)

	var ev audit.Event
	require.NoError(t, json.Unmarshal([]byte(lastLine), &ev))
	require.Equal(t, audit.KindNodeBlacklisted, ev.Kind)
	require.Equal(t, "peer-x", ev.PeerID)
}

func TestAuditBlacklistedIsNoOpWithoutLog(t *testing.T) {
	g := &Gossip{}
	require.NotPanics(t, func() { g.auditBlacklisted("peer-y") })
}
