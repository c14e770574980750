package certmgr

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"genesismesh/trust"
)

func certWithWindow(issued, expires time.Time) *trust.JoinCertificate {
	return &trust.JoinCertificate{
		JoinCertificatePayload: trust.JoinCertificatePayload{
			IssuedAt:  issued,
			ExpiresAt: expires,
			Serial:    1,
		},
	}
}

func TestRenewalDueAtHalfLifetime(t *testing.T) {
	issued := time.Now().Add(-time.Hour)
	expires := issued.Add(2 * time.Hour)
	cert := certWithWindow(issued, expires)

	require.False(t, renewalDue(cert, issued.Add(30*time.Minute), 0.5))
	require.True(t, renewalDue(cert, issued.Add(61*time.Minute), 0.5))
}

func TestRenewalDueImmediatelyForZeroLengthWindow(t *testing.T) {
	now := time.Now()
	cert := certWithWindow(now, now)
	require.True(t, renewalDue(cert, now, 0.5))
}

func TestRecordFailureEscalatesBackoffAndShutdown(t *testing.T) {
	shutdownCalled := false
	m := &Manager{
		nextTry: time.Time{},
		logger:  slog.Default(),
	}
	m.onShutdown = func(reason string) { shutdownCalled = true }

	now := time.Now()
	expired := certWithWindow(now.Add(-2*time.Hour), now.Add(-time.Hour))

	for i := 0; i < maxConsecutiveFailures-1; i++ {
		m.recordFailure(now, expired)
		require.False(t, shutdownCalled)
	}
	require.Equal(t, backoffSchedule[maxConsecutiveFailures-2], m.nextTry.Sub(now))

	m.recordFailure(now, expired)
	require.True(t, shutdownCalled)
}

func TestFailingReflectsOutstandingFailureCount(t *testing.T) {
	m := &Manager{}
	require.False(t, m.Failing())

	now := time.Now()
	stillValid := certWithWindow(now.Add(-time.Minute), now.Add(time.Hour))
	m.recordFailure(now, stillValid)
	require.True(t, m.Failing())

	m.mu.Lock()
	m.failures = 0
	m.mu.Unlock()
	require.False(t, m.Failing())
}

func TestRecordFailureDoesNotShutdownIfCertificateStillValid(t *testing.T) {
	shutdownCalled := false
	m := &Manager{}
	m.onShutdown = func(reason string) { shutdownCalled = true }

	now := time.Now()
	stillValid := certWithWindow(now.Add(-time.Minute), now.Add(time.Hour))

	for i := 0; i < maxConsecutiveFailures+2; i++ {
		m.recordFailure(now, stillValid)
	}
	require.False(t, shutdownCalled)
}
