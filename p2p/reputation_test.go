package p2p

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReputationClampsAndBlacklists(t *testing.T) {
	m := NewReputationManager()
	now := time.Now()

	status := m.Adjust("peer-1", deltaSignatureInvalid, now)
	require.False(t, status.Blacklisted)

	for i := 0; i < 4; i++ {
		status = m.Adjust("peer-1", deltaSignatureInvalid, now)
	}
	require.True(t, status.Blacklisted)
	require.True(t, m.IsBlacklisted("peer-1", now))
	require.False(t, m.IsBlacklisted("peer-1", status.BlacklistUntil.Add(time.Second)))
}

func TestReputationBlacklistBackoffDoubles(t *testing.T) {
	m := NewReputationManager()
	now := time.Now()

	m.Adjust("peer-1", -1, now)
	first := m.Status("peer-1", now).BlacklistUntil
	require.Equal(t, now.Add(initialBlacklistDur), first)

	// Trigger a second blacklist window after the first expires.
	after := first.Add(time.Second)
	m.Adjust("peer-1", -1, after)
	second := m.Status("peer-1", after).BlacklistUntil
	require.Equal(t, after.Add(2*initialBlacklistDur), second)
}

func TestReputationScoreNeverExceedsBounds(t *testing.T) {
	m := NewReputationManager()
	now := time.Now()
	for i := 0; i < 100; i++ {
		m.Adjust("peer-1", 1, now)
	}
	require.LessOrEqual(t, m.Status("peer-1", now).Score, 1.0)

	for i := 0; i < 100; i++ {
		m.Adjust("peer-2", -1, now)
	}
	require.GreaterOrEqual(t, m.Status("peer-2", now).Score, 0.0)
}
