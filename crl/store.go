// Package crl maintains the mesh's certificate revocation list: holding the
// current signed CRL, accepting only strictly-increasing sequence numbers,
// gossiping the current sequence to peers, and serving/requesting full CRL
// transfers when a peer is behind. It is the mesh's analogue of the trust
// package's static verification: trust.Chain answers "is this CRL valid",
// crl answers "which CRL is current and how do peers learn about it".
package crl

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"genesismesh/trust"
)

// ErrStaleSequence is returned when an incoming CRL's sequence number does
// not strictly exceed the one currently held.
var ErrStaleSequence = errors.New("crl: incoming sequence not newer than current")

// Store holds the current CRL under a lock and verifies replacements
// against the trust chain before accepting them.
type Store struct {
	chain  *trust.Chain
	logger *slog.Logger

	mu      sync.RWMutex
	current *trust.CRL
}

// NewStore builds an empty Store backed by chain for signature verification.
func NewStore(chain *trust.Chain, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{chain: chain, logger: logger.With(slog.String("component", "crl"))}
}

// Sequence returns the sequence number of the currently held CRL, or 0 if
// none has been received yet.
func (s *Store) Sequence() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return 0
	}
	return s.current.Sequence
}

// Current returns the currently held CRL, or nil.
func (s *Store) Current() *trust.CRL {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Accept verifies list's signature against the trust chain and, if it
// carries a strictly higher sequence than the one currently held, replaces
// the current CRL and propagates it to the chain (so trust.Chain.
// VerifyCertificate starts honoring the new revocations) and returns the
// list of newly revoked subjects so the caller can disconnect them.
func (s *Store) Accept(list *trust.CRL, now time.Time) ([]string, error) {
	if err := s.chain.VerifyCRL(list, now); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if s.current != nil && list.Sequence <= s.current.Sequence {
		s.mu.Unlock()
		return nil, ErrStaleSequence
	}
	previous := s.current
	s.current = list
	s.mu.Unlock()

	s.chain.UpdateCRL(list)
	s.logger.Info("crl updated", slog.Uint64("sequence", list.Sequence), slog.Int("revocations", len(list.Revocations)))
	return newlyRevoked(previous, list), nil
}

// newlyRevoked returns subjects present in next's revocation list but not in
// prev's, so a caller can react only to the delta rather than reprocessing
// every historical revocation on every update.
func newlyRevoked(prev, next *trust.CRL) []string {
	seen := make(map[string]bool)
	if prev != nil {
		for _, r := range prev.Revocations {
			seen[r.SubjectPubKey] = true
		}
	}
	var fresh []string
	for _, r := range next.Revocations {
		if !seen[r.SubjectPubKey] {
			fresh = append(fresh, r.SubjectPubKey)
		}
	}
	return fresh
}
