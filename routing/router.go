package routing

import (
	"errors"
	"time"

	"genesismesh/crypto"
	"genesismesh/internal/replay"
)

var (
	// ErrNoRoute is returned when no route exists to a forwarded payload's
	// destination and the node is not the destination itself.
	ErrNoRoute = errors.New("routing: no route to destination")
	// ErrTTLExceeded is returned when a payload's TTL reaches zero.
	ErrTTLExceeded = errors.New("routing: ttl exceeded")
	// ErrDuplicatePayload is returned for a payload_id already seen.
	ErrDuplicatePayload = errors.New("routing: duplicate payload")
)

// Sender is the interface routing needs from the transport layer to actually
// move bytes; the per-hop decision (forward, deliver locally, or drop with a
// reason) is Router.Decide's. Node wiring does not build a Sender: it calls
// *p2p.Server's SendTo directly with Decide's result.
type Sender interface {
	SendTo(id crypto.NodeId, kind byte, payload []byte) error
	Broadcast(kind byte, payload []byte)
}

// Router forwards data-plane payloads along the routes in Table, using a
// replay.Guard to suppress loops and duplicate delivery — the same
// bounded-LRU shape the handshake nonce check and control replay cache use,
// reused here for payload_id instead of a nonce or message id.
type Router struct {
	self  crypto.NodeId
	table *Table
	seen  *replay.Guard
}

// NewRouter builds a Router for self using table for destination lookups.
// The dedup window and capacity are the replay.Guard defaults (bounded LRU
// of 4096 entries, one-minute retention), enough to absorb gossip fan-out
// without holding every payload_id forever.
func NewRouter(self crypto.NodeId, table *Table) *Router {
	return &Router{self: self, table: table, seen: replay.NewGuard(0, 0)}
}

// Direction describes what should happen to a forwarded payload.
type Direction int

const (
	DirectionDeliverLocal Direction = iota
	DirectionForward
	DirectionDrop
)

// Decide applies the forwarding rules: drop duplicates (already-seen
// payload_id), deliver locally when this node is the destination, otherwise
// decrement TTL and drop if it has been exhausted, then look up the next
// hop. TTL is decremented here, before the zero-check, so a payload arriving
// with ttl=1 is decremented to 0 and dropped at this hop rather than
// forwarded one hop further. The returned ttl is the post-decrement value
// the caller should stamp onto the outgoing frame when direction is
// DirectionForward.
func (r *Router) Decide(payloadID string, destination crypto.NodeId, ttl uint8) (Direction, crypto.NodeId, uint8, error) {
	if !r.seen.Remember(payloadID, time.Now()) {
		return DirectionDrop, "", ttl, ErrDuplicatePayload
	}
	if destination == r.self {
		return DirectionDeliverLocal, "", ttl, nil
	}
	if ttl == 0 {
		return DirectionDrop, "", ttl, ErrTTLExceeded
	}
	ttl--
	if ttl == 0 {
		return DirectionDrop, "", ttl, ErrTTLExceeded
	}
	entry, ok := r.table.Lookup(destination)
	if !ok {
		return DirectionDrop, "", ttl, ErrNoRoute
	}
	return DirectionForward, entry.NextHop, ttl, nil
}
