package routing

import (
	"log/slog"
	"sync"
	"time"

	"genesismesh/crypto"
)

// Announcer periodically advertises this node's own reachability and, on
// disconnect, issues an odd-sequence withdrawal — the two edges of DSDV's
// sequence-number convention (even announces, odd withdraws). It also
// sweeps the table for stale entries at a multiple of the announce
// interval, matching the general "3x heartbeat interval declares dead"
// convention used across the corpus's peer-liveness code (e.g. the node
// repo's ping/pong timeout being a multiple of the ping interval).
type Announcer struct {
	self     crypto.NodeId
	table    *Table
	send     func(destination crypto.NodeId, sequence uint64, metric uint32, withdraw bool)
	interval time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	lastSeq  uint64
	quit     chan struct{}
}

// NewAnnouncer builds an Announcer. send is called once per announcement or
// withdrawal with the destination (always self for origin announcements),
// sequence number, and metric; node wiring translates this into a
// RouteAnnouncePayload/RouteWithdrawPayload broadcast over p2p.
func NewAnnouncer(self crypto.NodeId, table *Table, interval time.Duration, logger *slog.Logger, send func(crypto.NodeId, uint64, uint32, bool)) *Announcer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Announcer{
		self:     self,
		table:    table,
		send:     send,
		interval: interval,
		logger:   logger.With(slog.String("component", "routing")),
		quit:     make(chan struct{}),
	}
}

// StaleAfter is how long an entry may go without a refresh before eviction:
// three announce intervals, per spec.md section 4.4's staleness convention.
func (a *Announcer) StaleAfter() time.Duration {
	return 3 * a.interval
}

func (a *Announcer) Start() { go a.run() }
func (a *Announcer) Stop() {
	close(a.quit)
	a.withdraw()
}

func (a *Announcer) run() {
	a.announce()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	sweep := time.NewTicker(a.interval)
	defer sweep.Stop()
	for {
		select {
		case <-ticker.C:
			a.announce()
		case <-sweep.C:
			a.sweepStale()
		case <-a.quit:
			return
		}
	}
}

func (a *Announcer) announce() {
	a.mu.Lock()
	a.lastSeq = NextSequenceFor(a.lastSeq)
	seq := a.lastSeq
	a.mu.Unlock()

	a.table.Update(Entry{
		Destination: a.self,
		NextHop:     a.self,
		Metric:      0,
		Sequence:    seq,
		UpdatedAt:   time.Now(),
	})
	a.send(a.self, seq, 0, false)
}

// withdraw issues a final odd-sequence withdrawal for this node's own
// origin route, used on graceful shutdown.
func (a *Announcer) withdraw() {
	a.mu.Lock()
	seq := WithdrawalSequence(a.lastSeq)
	a.lastSeq = seq
	a.mu.Unlock()
	a.table.Remove(a.self)
	a.send(a.self, seq, 0, true)
}

func (a *Announcer) sweepStale() {
	removed := a.table.EvictStale(time.Now(), a.StaleAfter())
	for _, dest := range removed {
		a.logger.Debug("route expired", slog.String("destination", string(dest)))
	}
}
