package certmgr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"genesismesh/trust"
)

// backoffSchedule is the fixed retry ladder for failed renewal attempts,
// per spec.md section 4.2: 30s, 60s, 120s, 300s, then 600s and capped.
var backoffSchedule = []time.Duration{
	30 * time.Second,
	60 * time.Second,
	120 * time.Second,
	300 * time.Second,
	600 * time.Second,
}

// maxConsecutiveFailures is the failure count at which, combined with the
// certificate already having expired, the manager gives up and requests a
// shutdown rather than continuing to retry indefinitely.
const maxConsecutiveFailures = 5

// Manager owns this node's own JoinCertificate lifecycle: watching its
// expiry, renewing it from the Network Authority once the renewal window
// opens, and escalating to a shutdown request if renewal keeps failing past
// the certificate's expiry.
type Manager struct {
	client   *AuthorityClient
	logger   *slog.Logger
	interval time.Duration
	ratio    float64

	onRenewed  func(*trust.JoinCertificate)
	onShutdown func(reason string)

	mu       sync.Mutex
	current  *trust.JoinCertificate
	failures int
	nextTry  time.Time

	quit chan struct{}
	done chan struct{}
}

// Config controls Manager's polling cadence and renewal trigger point.
type Config struct {
	// CheckInterval is how often the manager wakes to evaluate whether a
	// renewal is due. It should be small relative to certificate
	// lifetimes; 1 minute is a reasonable default.
	CheckInterval time.Duration
	// RenewalRatio is the fraction of a certificate's total lifetime that
	// must have elapsed before renewal is attempted. spec.md section 4.2
	// specifies 0.5 (renew once half the total lifetime has passed).
	RenewalRatio float64
}

// NewManager builds a Manager for the given certificate, wired to client
// for the actual renewal call. onRenewed is invoked with the freshly issued
// certificate on success (node wiring plugs this into
// p2p.Server.SetCertificate); onShutdown is invoked once retries are
// exhausted past expiry (node wiring plugs this into the node's graceful
// shutdown path).
func NewManager(client *AuthorityClient, current *trust.JoinCertificate, cfg Config, logger *slog.Logger, onRenewed func(*trust.JoinCertificate), onShutdown func(string)) *Manager {
	if cfg.CheckInterval <= 0 {
		cfg.CheckInterval = time.Minute
	}
	if cfg.RenewalRatio <= 0 || cfg.RenewalRatio >= 1 {
		cfg.RenewalRatio = 0.5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:     client,
		logger:     logger.With(slog.String("component", "certmgr")),
		interval:   cfg.CheckInterval,
		ratio:      cfg.RenewalRatio,
		onRenewed:  onRenewed,
		onShutdown: onShutdown,
		current:    current,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the renewal loop in its own goroutine.
func (m *Manager) Start() { go m.run() }

// Stop signals the loop to exit and waits for it to do so.
func (m *Manager) Stop() {
	close(m.quit)
	<-m.done
}

// Certificate returns the currently held certificate.
func (m *Manager) Certificate() *trust.JoinCertificate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Failing reports whether the most recent renewal attempt failed and a
// retry is still outstanding.
func (m *Manager) Failing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failures > 0
}

func (m *Manager) run() {
	defer close(m.done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.tick()
		case <-m.quit:
			return
		}
	}
}

// renewalDue reports whether the elapsed fraction of the certificate's
// validity window has crossed ratio.
func renewalDue(cert *trust.JoinCertificate, now time.Time, ratio float64) bool {
	total := cert.ExpiresAt.Sub(cert.IssuedAt)
	if total <= 0 {
		return true
	}
	elapsed := now.Sub(cert.IssuedAt)
	return float64(elapsed) >= ratio*float64(total)
}

func (m *Manager) tick() {
	m.mu.Lock()
	cert := m.current
	nextTry := m.nextTry
	failures := m.failures
	m.mu.Unlock()

	now := time.Now()
	if now.Before(nextTry) {
		return
	}
	if !renewalDue(cert, now, m.ratio) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	renewed, err := m.client.Renew(ctx, cert)
	cancel()

	if err != nil {
		m.logger.Warn("certificate renewal failed", slog.Int("failures", failures+1), slog.String("error", err.Error()))
		m.recordFailure(now, cert)
		return
	}

	m.mu.Lock()
	m.current = renewed
	m.failures = 0
	m.nextTry = time.Time{}
	m.mu.Unlock()

	m.logger.Info("certificate renewed", slog.Uint64("serial", renewed.Serial), slog.Time("expiresAt", renewed.ExpiresAt))
	if m.onRenewed != nil {
		m.onRenewed(renewed)
	}
}

func (m *Manager) recordFailure(now time.Time, cert *trust.JoinCertificate) {
	m.mu.Lock()
	m.failures++
	failures := m.failures
	delay := backoffSchedule[len(backoffSchedule)-1]
	if failures-1 < len(backoffSchedule) {
		delay = backoffSchedule[failures-1]
	}
	m.nextTry = now.Add(delay)
	m.mu.Unlock()

	if failures >= maxConsecutiveFailures && now.After(cert.ExpiresAt) {
		m.logger.Error("certificate expired and renewal exhausted retries, requesting shutdown",
			slog.Int("failures", failures))
		if m.onShutdown != nil {
			m.onShutdown("certificate renewal exhausted retries past expiry")
		}
	}
}
