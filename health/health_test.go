package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestEvaluateHealthyWithNoConcerns(t *testing.T) {
	now := time.Now()
	r := Evaluate(Input{
		PeerCount:       5,
		MinDesiredPeers: 3,
		CertExpiresAt:   now.Add(48 * time.Hour),
		Now:             now,
	})
	require.Equal(t, StatusHealthy, r.Status)
	require.Empty(t, r.Concerns)
}

func TestEvaluateDegradedOnLowPeerCount(t *testing.T) {
	now := time.Now()
	r := Evaluate(Input{
		PeerCount:       1,
		MinDesiredPeers: 3,
		CertExpiresAt:   now.Add(48 * time.Hour),
		Now:             now,
	})
	require.Equal(t, StatusDegraded, r.Status)
	require.Contains(t, r.Concerns, "peer count below desired minimum")
}

func TestEvaluateDegradedOnExpiringCertWithFailingRenewal(t *testing.T) {
	now := time.Now()
	r := Evaluate(Input{
		PeerCount:          5,
		MinDesiredPeers:    3,
		CertExpiresAt:      now.Add(time.Hour),
		CertRenewalFailing: true,
		Now:                now,
	})
	require.Equal(t, StatusDegraded, r.Status)
	require.Contains(t, r.Concerns, "certificate expires soon and renewal is failing")
}

func TestEvaluateUnhealthyOnBrokenChainOverridesEverythingElse(t *testing.T) {
	r := Evaluate(Input{ChainBroken: true, PeerCount: 0})
	require.Equal(t, StatusUnhealthy, r.Status)
	require.Equal(t, []string{"audit chain integrity check failed"}, r.Concerns)
}

func TestEvaluateDegradedOnExpiredCert(t *testing.T) {
	now := time.Now()
	r := Evaluate(Input{
		PeerCount:     5,
		CertExpiresAt: now.Add(-time.Minute),
		Now:           now,
	})
	require.Equal(t, StatusDegraded, r.Status)
	require.Contains(t, r.Concerns, "certificate has expired")
}
