package p2p

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"sort"
	"strings"
	"time"

	"genesismesh/crypto"
)

const connMgrCheckInterval = 3 * time.Second

// connManager keeps the peer set near cfg.MaxConnections: it dials
// bootstrap and persistent peers with jittered backoff, tops up outbound
// slots from the peerstore's best-scoring candidates, and prunes the
// lowest-reputation non-persistent peer when over capacity — the same
// responsibilities as the node repo's connManager, restructured around
// PeerReputation instead of the teacher's integer ban/grey scoring.
type connManager struct {
	server *Server
	quit   chan struct{}
}

func newConnManager(server *Server) *connManager {
	return &connManager{server: server, quit: make(chan struct{})}
}

func (m *connManager) start() {
	m.logListenReachability()
	go m.run()
	for _, addr := range m.server.cfg.Bootnodes {
		go m.seedLoop(addr, false)
	}
	for _, addr := range m.server.cfg.PersistentPeers {
		go m.seedLoop(addr, true)
	}
}

// logListenReachability reports, at startup, whether the configured listen
// address is bound to a private/loopback interface likely sitting behind
// NAT — this mesh has no UPnP/NAT-PMP port mapper, so a node behind one is
// reachable only via bootstrap-initiated outbound dials and should show up
// clearly in the startup log rather than fail silently to accept inbound
// peers.
func (m *connManager) logListenReachability() {
	host, _, err := net.SplitHostPort(m.server.cfg.ListenAddress)
	if err != nil {
		return
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		m.server.logger.Info("listening on all interfaces; verify port forwarding or NAT traversal if peers cannot dial in",
			slog.String("listen", m.server.cfg.ListenAddress))
		return
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return
	}
	switch {
	case ip.IsLoopback():
		m.server.logger.Warn("listen address is loopback-only; unreachable from other nodes",
			slog.String("listen", m.server.cfg.ListenAddress))
	case ip.IsPrivate():
		m.server.logger.Info("listen address is on a private network; likely behind NAT with no automatic port mapping configured",
			slog.String("listen", m.server.cfg.ListenAddress))
	default:
		m.server.logger.Info("listen address appears publicly routable",
			slog.String("listen", m.server.cfg.ListenAddress))
	}
}

func (m *connManager) stop() {
	close(m.quit)
}

// seedLoop dials addr with jittered exponential backoff until connected,
// then keeps retrying on disconnect if persistent is true.
func (m *connManager) seedLoop(addr string, persistent bool) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return
	}
	for {
		select {
		case <-m.quit:
			return
		default:
		}
		if m.server.isConnectedToAddress(addr) {
			if !m.wait(5 * time.Second) {
				return
			}
			continue
		}
		if err := m.server.Connect(addr); err != nil {
			m.server.logger.Warn("seed dial failed", slog.String("addr", addr), slog.Any("error", err))
			if !m.wait(m.jitteredBackoff(addr)) {
				return
			}
			continue
		}
		m.resetBackoff(addr)
		if !persistent {
			return
		}
		if !m.wait(connMgrCheckInterval) {
			return
		}
	}
}

func (m *connManager) run() {
	ticker := time.NewTicker(connMgrCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.enforceLimits()
			m.fillOutbound()
		case <-m.quit:
			return
		}
	}
}

func (m *connManager) enforceLimits() {
	s := m.server
	max := s.cfg.MaxConnections
	peers := s.Peers()
	if len(peers) <= max {
		return
	}
	excess := len(peers) - max
	now := time.Now()
	sort.Slice(peers, func(i, j int) bool {
		si := s.reputation.Status(string(peers[i].nodeID), now).Score
		sj := s.reputation.Status(string(peers[j].nodeID), now).Score
		return si < sj
	})
	for _, p := range peers {
		if excess <= 0 {
			return
		}
		if p.persistent {
			continue
		}
		p.terminate(false, fmt.Errorf("p2p: pruned by connection manager"))
		excess--
	}
}

func (m *connManager) fillOutbound() {
	s := m.server
	total := s.peerCount()
	if total >= s.cfg.MaxConnections {
		return
	}
	slots := s.cfg.MaxConnections - total
	if s.peerstore == nil {
		return
	}
	now := time.Now()
	candidates := s.peerstore.Snapshot()
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].LastSeen.After(candidates[j].LastSeen)
	})
	count := 0
	for _, entry := range candidates {
		if count >= slots {
			return
		}
		if entry.Endpoint == "" {
			continue
		}
		if s.hasPeer(crypto.NodeId(entry.NodeID)) || s.isConnectedToAddress(entry.Endpoint) {
			continue
		}
		if s.reputation.IsBlacklisted(entry.NodeID, now) {
			continue
		}
		if !m.reserveDial(entry.Endpoint) {
			continue
		}
		count++
		go m.dial(entry.Endpoint)
	}
}

func (m *connManager) dial(addr string) {
	defer m.releaseDial(addr)
	if err := m.server.Connect(addr); err != nil {
		m.server.logger.Warn("outbound dial failed", slog.String("addr", addr), slog.Any("error", err))
		for _, entry := range m.server.peerstore.Snapshot() {
			if entry.Endpoint == addr {
				_ = m.server.peerstore.RecordFailure(entry.NodeID, time.Now())
				break
			}
		}
	}
}

func (m *connManager) reserveDial(addr string) bool {
	m.server.dialMu.Lock()
	defer m.server.dialMu.Unlock()
	if _, pending := m.server.pendingDial[addr]; pending {
		return false
	}
	m.server.pendingDial[addr] = struct{}{}
	return true
}

func (m *connManager) releaseDial(addr string) {
	m.server.dialMu.Lock()
	delete(m.server.pendingDial, addr)
	m.server.dialMu.Unlock()
}

func (m *connManager) jitteredBackoff(addr string) time.Duration {
	m.server.dialMu.Lock()
	defer m.server.dialMu.Unlock()
	cur := m.server.backoff[addr]
	base := m.server.cfg.DialBackoff
	if cur == 0 {
		cur = base
	} else {
		cur *= 2
	}
	if max := m.server.cfg.MaxDialBackoff; cur > max {
		cur = max
	}
	m.server.backoff[addr] = cur
	return cur + jitter(cur/4)
}

func (m *connManager) resetBackoff(addr string) {
	m.server.dialMu.Lock()
	m.server.backoff[addr] = 0
	m.server.dialMu.Unlock()
}

func (m *connManager) wait(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-m.quit:
		return false
	}
}

// jitter returns a random duration in [0, max), falling back to 0 if max is
// non-positive or the CSPRNG is unavailable.
func jitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0
	}
	return time.Duration(n.Int64())
}
