package p2p

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"genesismesh/crypto"
	"genesismesh/internal/replay"
	"genesismesh/metrics"
	"genesismesh/trust"
)

const (
	defaultMaxPeers       = 50
	defaultReadTimeout    = 30 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultMaxMessageSize = 1 << 20
	defaultHandshakeTO    = 10 * time.Second
	defaultPingInterval   = 15 * time.Second
	defaultDialBackoff    = time.Second
	maxDialBackoff        = 300 * time.Second
)

var (
	ErrPeerUnknown     = errors.New("p2p: unknown peer")
	ErrDialTargetEmpty = errors.New("p2p: empty dial target")
)

// Config configures the Server, mirroring the shape of the node repo's
// ServerConfig but scoped to the mesh's own knobs (spec.md section 6).
type Config struct {
	ListenAddress    string
	ClientVersion    string
	MaxConnections   int
	Bootnodes        []string
	PersistentPeers  []string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	MaxMessageBytes  uint32
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	MsgsPerSecond    float64
	GlobalMsgsPerSec float64
	DialBackoff      time.Duration
	MaxDialBackoff   time.Duration
}

// Handler receives verified, decoded messages dispatched by kind. Node
// wiring implements this to fan messages out to the routing, rbac, crl, and
// pex subsystems without p2p importing any of them directly.
type Handler interface {
	HandlePing(peer *Peer, msg PingPayload) error
	HandlePong(peer *Peer, msg PongPayload) error
	HandlePeerExchange(peer *Peer, msg PeerExchangePayload) error
	HandleRouteAnnounce(peer *Peer, msg RouteAnnouncePayload) error
	HandleRouteWithdraw(peer *Peer, msg RouteWithdrawPayload) error
	HandleDataForward(peer *Peer, msg DataForwardPayload) error
	HandleControl(peer *Peer, msg trust.ControlMessage) error
	HandleCrlAnnounce(peer *Peer, msg CrlAnnouncePayload) error
	HandleCrlRequest(peer *Peer, msg CrlRequestPayload) error
	HandleCrlPush(peer *Peer, msg trust.CRL) error
	// OnPeerEstablished/OnPeerClosed let the routing layer announce/withdraw
	// routes as the peer set changes.
	OnPeerEstablished(peer *Peer)
	OnPeerClosed(peer *Peer)
}

// Server accepts and dials connections, drives the handshake, and dispatches
// verified frames to Handler, following the node repo's Server shape (peer
// map + connManager + peerstore) generalized to the signed binary protocol.
type Server struct {
	cfg      Config
	identity *crypto.PrivateKey
	chain    *trust.Chain
	handler  Handler
	logger   *slog.Logger

	certMu sync.RWMutex
	cert   *trust.JoinCertificate

	mu     sync.RWMutex
	peers  map[crypto.NodeId]*Peer
	byAddr map[string]crypto.NodeId

	dialMu      sync.Mutex
	pendingDial map[string]struct{}
	backoff     map[string]time.Duration
	persistent  map[string]struct{}

	peerstore   *Peerstore
	reputation  *ReputationManager
	rateLimiter *RateLimiter
	nonceGuard  *replay.Guard

	connMgr *connManager
	pexMgr  *pexManager

	listener net.Listener
	quit     chan struct{}
	wg       sync.WaitGroup
}

// NewServer builds a Server. peerstore may be nil (in which case dial
// candidates come only from cfg.Bootnodes/PersistentPeers).
func NewServer(cfg Config, identity *crypto.PrivateKey, chain *trust.Chain, cert *trust.JoinCertificate, handler Handler, store *Peerstore, logger *slog.Logger) *Server {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxPeers
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessageSize
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTO
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.DialBackoff <= 0 {
		cfg.DialBackoff = defaultDialBackoff
	}
	if cfg.MaxDialBackoff <= 0 {
		cfg.MaxDialBackoff = maxDialBackoff
	}
	if logger == nil {
		logger = slog.Default()
	}
	persistent := make(map[string]struct{}, len(cfg.PersistentPeers))
	for _, addr := range cfg.PersistentPeers {
		persistent[strings.TrimSpace(addr)] = struct{}{}
	}
	s := &Server{
		cfg:         cfg,
		identity:    identity,
		chain:       chain,
		cert:        cert,
		handler:     handler,
		logger:      logger.With(slog.String("component", "p2p")),
		peers:       make(map[crypto.NodeId]*Peer),
		byAddr:      make(map[string]crypto.NodeId),
		pendingDial: make(map[string]struct{}),
		backoff:     make(map[string]time.Duration),
		persistent:  persistent,
		peerstore:   store,
		reputation:  NewReputationManager(),
		rateLimiter: NewRateLimiter(cfg.MsgsPerSecond, cfg.GlobalMsgsPerSec),
		nonceGuard:  replay.NewGuard(5*time.Minute, 8192),
		quit:        make(chan struct{}),
	}
	s.connMgr = newConnManager(s)
	s.pexMgr = newPEXManager(s, 0)
	return s
}

func (s *Server) certificate() *trust.JoinCertificate {
	s.certMu.RLock()
	defer s.certMu.RUnlock()
	return s.cert
}

// SetCertificate installs a freshly renewed certificate for future
// handshakes; certmgr calls this on successful renewal.
func (s *Server) SetCertificate(cert *trust.JoinCertificate) {
	s.certMu.Lock()
	s.cert = cert
	s.certMu.Unlock()
}

// Listen starts accepting inbound connections.
func (s *Server) Listen(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("p2p: listen on %s: %w", s.cfg.ListenAddress, err)
	}
	s.listener = ln
	s.wg.Add(1)
	go s.acceptLoop(ctx)
	s.connMgr.start()
	s.pexMgr.start()
	return nil
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
			}
			s.logger.Warn("accept failed", slog.Any("error", err))
			continue
		}
		if s.peerCount() >= s.cfg.MaxConnections {
			s.logger.Warn("connection pool full, rejecting connection",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.Int("peers", s.peerCount()),
				slog.Int("maxConnections", s.cfg.MaxConnections))
			metrics.Get().RecordError("PoolFull")
			conn.Close()
			continue
		}
		go s.handleInbound(conn)
	}
}

func (s *Server) handleInbound(conn net.Conn) {
	reader := bufio.NewReader(conn)
	peer := newPeer(s, conn, reader, true, false, conn.RemoteAddr().String())
	if err := s.completeHandshake(peer, s.performInboundHandshake); err != nil {
		s.logger.Warn("inbound handshake failed", slog.Any("error", err), slog.String("remote", conn.RemoteAddr().String()))
		conn.Close()
		return
	}
	s.addPeer(peer)
}

// Connect dials addr and, on success, performs the outbound handshake and
// registers the resulting peer.
func (s *Server) Connect(addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ErrDialTargetEmpty
	}
	dialer := net.Dialer{Timeout: s.cfg.HandshakeTimeout}
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("p2p: dial %s: %w", addr, err)
	}
	reader := bufio.NewReader(conn)
	persistent := s.isPersistentAddr(addr)
	peer := newPeer(s, conn, reader, false, persistent, addr)
	if err := s.completeHandshake(peer, s.performOutboundHandshake); err != nil {
		conn.Close()
		return fmt.Errorf("p2p: handshake with %s: %w", addr, err)
	}
	s.addPeer(peer)
	return nil
}

func (s *Server) completeHandshake(peer *Peer, do func(*Peer) error) error {
	if err := peer.conn.SetDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
		return err
	}
	defer peer.conn.SetDeadline(time.Time{})
	return do(peer)
}

func (s *Server) addPeer(peer *Peer) {
	s.mu.Lock()
	if existing, ok := s.peers[peer.nodeID]; ok {
		s.mu.Unlock()
		existing.terminate(false, fmt.Errorf("p2p: superseded by new connection"))
		s.mu.Lock()
	}
	s.peers[peer.nodeID] = peer
	s.byAddr[peer.endpoint] = peer.nodeID
	s.mu.Unlock()

	peer.start()
	s.reputation.Adjust(string(peer.nodeID), deltaHandshakeSuccess, time.Now())
	if s.peerstore != nil {
		_ = s.peerstore.RecordSuccess(string(peer.nodeID), time.Now())
	}
	if s.handler != nil {
		s.handler.OnPeerEstablished(peer)
	}
}

func (s *Server) removePeer(peer *Peer, reason error) {
	s.mu.Lock()
	if cur, ok := s.peers[peer.nodeID]; ok && cur == peer {
		delete(s.peers, peer.nodeID)
		delete(s.byAddr, peer.endpoint)
	}
	s.mu.Unlock()
	s.rateLimiter.Forget(string(peer.nodeID))
	if s.handler != nil {
		s.handler.OnPeerClosed(peer)
	}
	if reason != nil {
		s.logger.Info("peer disconnected", slog.String("peer", string(peer.nodeID)), slog.Any("reason", reason))
	}
}

func (s *Server) peerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

func (s *Server) hasPeer(id crypto.NodeId) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.peers[id]
	return ok
}

func (s *Server) isConnectedToAddress(addr string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byAddr[addr]
	return ok
}

func (s *Server) isPersistentAddr(addr string) bool {
	s.dialMu.Lock()
	defer s.dialMu.Unlock()
	_, ok := s.persistent[addr]
	return ok
}

// Penalize applies the standard protocol-violation reputation delta to id,
// attributing it to reason in logs. Satisfies rbac.ReputationAdjuster so the
// control-plane handler can punish peers without importing this package's
// reputation type directly.
func (s *Server) Penalize(id string, reason string) {
	status := s.reputation.Adjust(id, deltaProtocolViolation, time.Now())
	s.logger.Info("peer penalized", slog.String("peer", id), slog.String("reason", reason), slog.Float64("score", status.Score))
}

// Reward applies the valid-control-message reputation delta to id,
// attributing it to reason in logs. Satisfies rbac.ReputationAdjuster so the
// control-plane handler can reinforce good behavior symmetrically with
// Penalize.
func (s *Server) Reward(id string, reason string) {
	s.reward(id, deltaValidControl, reason)
}

// RewardRouteAnnounce applies the valid-route-announce reputation delta to
// id. The node's route-announce handler calls it for every announcement it
// hands to the routing table, whether or not the table installs it.
func (s *Server) RewardRouteAnnounce(id string) {
	s.reward(id, deltaValidRouteAnnounce, "valid route announce")
}

func (s *Server) reward(id string, delta float64, reason string) {
	status := s.reputation.Adjust(id, delta, time.Now())
	s.logger.Debug("peer rewarded", slog.String("peer", id), slog.String("reason", reason), slog.Float64("score", status.Score))
}

// Disconnect forcibly closes the connection to id, if any, attributing the
// closure to reason in logs. Used by rbac and crl to tear down a peer whose
// certificate has just been revoked.
func (s *Server) Disconnect(id crypto.NodeId, reason error) {
	s.mu.RLock()
	peer, ok := s.peers[id]
	s.mu.RUnlock()
	if !ok {
		return
	}
	peer.terminate(false, reason)
}

// Broadcast enqueues payload of kind to every established peer.
func (s *Server) Broadcast(kind Kind, payload []byte) {
	s.mu.RLock()
	peers := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.RUnlock()
	for _, p := range peers {
		_ = p.Enqueue(kind, payload)
	}
}

// SendTo enqueues payload to a specific established peer, if connected.
func (s *Server) SendTo(id crypto.NodeId, kind Kind, payload []byte) error {
	s.mu.RLock()
	p, ok := s.peers[id]
	s.mu.RUnlock()
	if !ok {
		return ErrPeerUnknown
	}
	return p.Enqueue(kind, payload)
}

// Peers returns the currently established peer set.
func (s *Server) Peers() []*Peer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Peer, 0, len(s.peers))
	for _, p := range s.peers {
		out = append(out, p)
	}
	return out
}

func (s *Server) onSignatureInvalid(p *Peer) {
	s.reputation.Adjust(string(p.nodeID), deltaSignatureInvalid, time.Now())
}

func (s *Server) onRateLimitViolation(p *Peer) {
	s.reputation.Adjust(string(p.nodeID), deltaRateLimitViolation, time.Now())
}

func (s *Server) onProtocolViolation(p *Peer, err error) {
	s.logger.Warn("protocol violation", slog.String("peer", string(p.nodeID)), slog.Any("error", err))
	s.reputation.Adjust(string(p.nodeID), deltaMalformedMessage, time.Now())
}

// Shutdown drains every established peer (bounded by drainTimeout) and stops
// accepting new connections.
func (s *Server) Shutdown(drainTimeout time.Duration) {
	close(s.quit)
	s.connMgr.stop()
	s.pexMgr.stop()
	if s.listener != nil {
		s.listener.Close()
	}
	var wg sync.WaitGroup
	for _, p := range s.Peers() {
		wg.Add(1)
		go func(p *Peer) {
			defer wg.Done()
			p.Drain(drainTimeout)
		}(p)
	}
	wg.Wait()
	s.wg.Wait()
}
