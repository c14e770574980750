package p2p

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter enforces a per-peer message budget plus a global ceiling
// across all connections, grounded on the gateway package's
// golang.org/x/time/rate-based middleware — the same library, generalized
// from per-HTTP-client keys to per-peer NodeIds. Control-plane frames
// (Control, CrlPush, CrlAnnounce, CrlRequest) are exempt from both the
// per-peer and the global rate limits per spec.md section 4.7, since throttling
// administrative traffic would make an operator's revoke/shutdown command
// arrive late during exactly the abuse scenario it exists to stop.
type RateLimiter struct {
	perPeerRate  rate.Limit
	perPeerBurst int

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
	global   *rate.Limiter
}

// NewRateLimiter builds a limiter allowing msgsPerSecond sustained per peer
// (burst = 2x) and globalPerSecond across the whole node.
func NewRateLimiter(msgsPerSecond, globalPerSecond float64) *RateLimiter {
	if msgsPerSecond <= 0 {
		msgsPerSecond = 20
	}
	if globalPerSecond <= 0 {
		globalPerSecond = 500
	}
	burst := int(msgsPerSecond * 2)
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		perPeerRate:  rate.Limit(msgsPerSecond),
		perPeerBurst: burst,
		visitors:     make(map[string]*rate.Limiter),
		global:       rate.NewLimiter(rate.Limit(globalPerSecond), burst*4),
	}
}

// Allow reports whether a message of the given kind from peerID may proceed.
// Control-plane kinds bypass the per-peer and global buckets entirely.
func (r *RateLimiter) Allow(peerID string, kind Kind) bool {
	if isControlPlaneKind(kind) {
		return true
	}
	if !r.global.Allow() {
		return false
	}
	return r.obtain(peerID).Allow()
}

func (r *RateLimiter) obtain(peerID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.visitors[peerID]
	if !ok {
		l = rate.NewLimiter(r.perPeerRate, r.perPeerBurst)
		r.visitors[peerID] = l
	}
	return l
}

// Forget drops a peer's bucket on disconnect to bound memory.
func (r *RateLimiter) Forget(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.visitors, peerID)
}

func isControlPlaneKind(k Kind) bool {
	switch k {
	case KindControl, KindCrlAnnounce, KindCrlRequest, KindCrlPush:
		return true
	default:
		return false
	}
}
