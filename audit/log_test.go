package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestAppendBuildsVerifiableChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := Open("node-1", Options{Path: path})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := log.Append(Event{
			Timestamp: time.Now(),
			Kind:      KindConnEstablished,
			PeerID:    "peer-x",
		})
		require.NoError(t, err)
	}
	require.NoError(t, log.Close())

	n, err := VerifyChain(path)
	require.NoError(t, err)
	require.Equal(t, 5, n)
}

func TestVerifyChainDetectsTampering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	log, err := Open("node-1", Options{Path: path})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := log.Append(Event{Timestamp: time.Now(), Kind: KindNodeStarted})
		require.NoError(t, err)
	}
	require.NoError(t, log.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := []byte(string(raw))
	tampered[len(tampered)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(path, tampered, 0o644))

	_, err = VerifyChain(path)
	require.Error(t, err)
}

func TestOpenResumesChainAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	first, err := Open("node-1", Options{Path: path})
	require.NoError(t, err)
	last, err := first.Append(Event{Timestamp: time.Now(), Kind: KindNodeStarted})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open("node-1", Options{Path: path})
	require.NoError(t, err)
	next, err := second.Append(Event{Timestamp: time.Now(), Kind: KindNodeStopped})
	require.NoError(t, err)
	require.NoError(t, second.Close())

	require.Equal(t, last.ThisHash, next.PrevHash)
	require.Equal(t, uint64(1), next.Sequence)
}
