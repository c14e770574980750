// Package routing implements the mesh's distance-vector routing table:
// DSDV-style sequence-numbered route selection, TTL-bounded forwarding with
// loop/duplicate suppression, and periodic announcement with stale
// eviction. The teacher repo has no distance-vector routing of its own —
// nhbchain's peers all connect to a shared validator set rather than
// forwarding through intermediate hops — so this package is grounded more
// loosely on the general gossip/state-management idiom the rest of the
// corpus shows (a mutex-guarded map keyed by a stable identifier, exposing
// narrow Update/Remove/Snapshot methods) than on any single teacher file.
package routing

import (
	"sync"
	"time"

	"genesismesh/crypto"
)

// Entry is one row of the routing table: the best known way to reach
// Destination.
type Entry struct {
	Destination crypto.NodeId
	NextHop     crypto.NodeId
	Metric      uint32
	Sequence    uint64
	UpdatedAt   time.Time
}

// Table holds the current best route to every known destination, applying
// the DSDV selection rule on every candidate update: a strictly higher
// sequence number always wins; on a sequence tie, the lower metric wins; on
// a further tie, the lexically lower NextHop NodeId wins, so the existing
// route is kept when the candidate has the same NextHop or a lexically
// higher one.
type Table struct {
	mu      sync.RWMutex
	entries map[crypto.NodeId]Entry
}

// NewTable returns an empty routing table.
func NewTable() *Table {
	return &Table{entries: make(map[crypto.NodeId]Entry)}
}

// Update applies a candidate route, returning true if it replaced the
// current best route for candidate.Destination (i.e. the caller should
// re-announce).
func (t *Table) Update(candidate Entry) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	existing, ok := t.entries[candidate.Destination]
	if !ok {
		t.entries[candidate.Destination] = candidate
		return true
	}
	if !selects(candidate, existing) {
		return false
	}
	t.entries[candidate.Destination] = candidate
	return true
}

// selects reports whether candidate should replace existing per the
// section-header selection rule.
func selects(candidate, existing Entry) bool {
	if candidate.Sequence != existing.Sequence {
		return candidate.Sequence > existing.Sequence
	}
	if candidate.Metric != existing.Metric {
		return candidate.Metric < existing.Metric
	}
	// Equal sequence and metric: keep the existing route unless the
	// candidate arrives from a lexically lower NextHop, which is only
	// meaningful when the two entries actually disagree on next hop.
	if candidate.NextHop == existing.NextHop {
		return false
	}
	return candidate.NextHop < existing.NextHop
}

// Lookup returns the current best route to dest, if any.
func (t *Table) Lookup(dest crypto.NodeId) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[dest]
	return e, ok
}

// Remove deletes any route to dest, e.g. on explicit withdrawal.
func (t *Table) Remove(dest crypto.NodeId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.entries, dest)
}

// NextSequenceFor returns the next even (live) announcement sequence given
// the last sequence this node issued for a route it originates.
func NextSequenceFor(last uint64) uint64 {
	if last%2 == 0 {
		return last + 2
	}
	return last + 1
}

// WithdrawalSequence returns the odd sequence number that supersedes seq
// for a withdrawal.
func WithdrawalSequence(seq uint64) uint64 {
	if seq%2 == 0 {
		return seq + 1
	}
	return seq
}

// EvictStale removes every route not updated within maxAge, returning the
// destinations removed so the caller can propagate withdrawals.
func (t *Table) EvictStale(now time.Time, maxAge time.Duration) []crypto.NodeId {
	t.mu.Lock()
	defer t.mu.Unlock()
	var removed []crypto.NodeId
	cutoff := now.Add(-maxAge)
	for dest, e := range t.entries {
		if e.UpdatedAt.Before(cutoff) {
			delete(t.entries, dest)
			removed = append(removed, dest)
		}
	}
	return removed
}

// Snapshot returns every current route, for health/status reporting.
func (t *Table) Snapshot() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	return out
}
