// Package node wires every subsystem package into a running mesh
// participant: transport, routing, the trust chain, RBAC-checked control
// messages, CRL gossip, certificate renewal, and the audit/metrics/health
// surfaces that observe them. It plays the role the node repo's top-level
// Node/Server construction in cmd/p2pd/main.go plays there, generalized
// into its own package so cmd/meshd stays a thin flag-parsing entrypoint.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"genesismesh/audit"
	"genesismesh/certmgr"
	"genesismesh/config"
	"genesismesh/crl"
	"genesismesh/crypto"
	"genesismesh/health"
	"genesismesh/metrics"
	"genesismesh/p2p"
	"genesismesh/rbac"
	"genesismesh/routing"
	"genesismesh/trust"
)

// Sentinel errors New wraps its failures with, so cmd/meshd can map them to
// spec.md section 6's exit codes without parsing error strings.
var (
	// ErrTrustChainInvalid wraps a failure to load or verify the genesis
	// trust chain (exit code 2).
	ErrTrustChainInvalid = errors.New("node: trust chain verification failed")
	// ErrCertificateUnobtainable wraps a failure to load or acquire this
	// node's own join certificate (exit code 3).
	ErrCertificateUnobtainable = errors.New("node: join certificate permanently unobtainable")
	// ErrChainBroken wraps a failure to verify the audit log's hash chain
	// at startup. A tampered or corrupted audit log is fatal: the node
	// refuses to run rather than keep operating over an untrustworthy
	// history (exit code 4).
	ErrChainBroken = errors.New("node: audit log hash chain verification failed")
)

// drainTimeout bounds graceful shutdown's connection flush, per spec.md
// section 4.9 ("existing connections finish flush with a 5s cap").
const drainTimeout = 5 * time.Second

// minDesiredPeers feeds health.Evaluate; below this the node is considered
// under-connected but still functional.
const minDesiredPeers = 3

// crlStaleAfter is how long without a fresh CRL before health considers the
// revocation view stale.
const crlStaleAfter = 24 * time.Hour

// Node owns one instance each of the subsystems spec.md section 4's
// Ownership rule names: audit log, peer manager (via p2p.Server), routing
// table, certificate manager, CRL store, RBAC policy, transport.
type Node struct {
	cfg      *config.Config
	identity *crypto.PrivateKey
	chain    *trust.Chain
	logger   *slog.Logger

	server      *p2p.Server
	table       *routing.Table
	router      *routing.Router
	announcer   *routing.Announcer
	discovery   *p2p.Discovery
	crlStore    *crl.Store
	crlGossip   *crl.Gossip
	rbacHandler *rbac.Handler
	certMgr     *certmgr.Manager
	auditLog    *audit.Log
	auditPath   string

	policyMu sync.RWMutex
	policy   *trust.PolicyManifest

	certMu sync.RWMutex
	cert   *trust.JoinCertificate

	// OnDeliver receives application data addressed to this node, per
	// spec.md's Non-goal that the mesh core carries opaque bytes only.
	OnDeliver func(source crypto.NodeId, body []byte)

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New constructs a Node from cfg: loads or generates identity, loads the
// genesis trust chain, acquires or loads this node's own join certificate,
// and wires every subsystem together, mirroring the dependency order
// spec.md section 2 lays out (crypto -> signed objects -> audit -> transport
// -> ... -> control handler -> node top-level).
func New(cfg *config.Config, logger *slog.Logger) (*Node, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "node"))

	identity, err := crypto.LoadOrCreateIdentity(filepath.Join(cfg.DataDir, "keys", "node.key"))
	if err != nil {
		return nil, fmt.Errorf("node: load identity: %w", err)
	}

	genesisPath := cfg.GenesisFile
	if genesisPath == "" {
		genesisPath = filepath.Join(cfg.DataDir, "genesis.json")
	}
	chain, err := trust.LoadGenesisBlock(genesisPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrustChainInvalid, err)
	}

	stateDir := filepath.Join(cfg.DataDir, "state")
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("node: create state dir: %w", err)
	}

	auditPath := filepath.Join(stateDir, "audit.log")

	// A tampered audit log must stop the node from starting at all, not
	// just flag itself as unhealthy once running. A brand-new node has no
	// audit log yet, which is not tampering; only verify a chain that
	// already exists.
	if _, statErr := os.Stat(auditPath); statErr == nil {
		if _, verifyErr := audit.VerifyChain(auditPath); verifyErr != nil {
			return nil, fmt.Errorf("%w: %v", ErrChainBroken, verifyErr)
		}
	} else if !os.IsNotExist(statErr) {
		return nil, fmt.Errorf("node: stat audit log: %w", statErr)
	}

	auditLog, err := audit.Open(string(identity.NodeId()), audit.Options{Path: auditPath})
	if err != nil {
		return nil, fmt.Errorf("node: open audit log: %w", err)
	}

	authorityClient := certmgr.NewAuthorityClient(cfg.NetworkAuthorityURL, identity, 30*time.Second)

	cert, err := loadOrJoinCertificate(filepath.Join(stateDir, "cert.json"), authorityClient, cfg.Role)
	if err != nil {
		auditLog.Close()
		return nil, fmt.Errorf("%w: %v", ErrCertificateUnobtainable, err)
	}

	n := &Node{
		cfg:        cfg,
		identity:   identity,
		chain:      chain,
		logger:     logger,
		table:      routing.NewTable(),
		auditLog:   auditLog,
		auditPath:  auditPath,
		cert:       cert,
		shutdownCh: make(chan struct{}),
	}
	n.router = routing.NewRouter(identity.NodeId(), n.table)

	if crlPath := filepath.Join(stateDir, "crl.json"); fileExists(crlPath) {
		if list, loadErr := loadCRL(crlPath); loadErr == nil {
			chain.UpdateCRL(list)
		}
	}
	n.crlStore = crl.NewStore(chain, logger)

	peerstorePath := filepath.Join(stateDir, "peerstore.leveldb")
	snapshotPath := filepath.Join(stateDir, "peers.json")
	peerstore, err := p2p.OpenPeerstore(peerstorePath, snapshotPath)
	if err != nil {
		auditLog.Close()
		return nil, fmt.Errorf("node: open peerstore: %w", err)
	}

	serverCfg := p2p.Config{
		ListenAddress:    cfg.ListenAddress,
		ClientVersion:    "genesismesh/1.0",
		MaxConnections:   cfg.MaxConnections,
		Bootnodes:        bootstrapAddresses(chain, cfg),
		PersistentPeers:  cfg.PersistentPeers,
		HandshakeTimeout: cfg.HandshakeTimeout(),
		PingInterval:     cfg.PingInterval(),
		ReadTimeout:      cfg.ReadTimeout(),
		DialBackoff:      cfg.DialBackoff(),
		MaxDialBackoff:   cfg.MaxDialBackoff(),
	}
	n.server = p2p.NewServer(serverCfg, identity, chain, cert, &meshHandler{n: n}, peerstore, logger)

	n.announcer = routing.NewAnnouncer(identity.NodeId(), n.table, cfg.RouteAnnounceInterval(), logger, n.sendRouteUpdate)
	n.discovery = p2p.NewDiscovery(n.server, cfg.DNSSeedDomains, "", cfg.DiscoveryInterval(), n.staleTimeout())
	n.crlGossip = crl.NewGossip(n.crlStore, n.server, cfg.CrlAnnounceInterval(), auditLog, logger)

	n.rbacHandler = rbac.NewHandler(rbac.Config{
		Chain:      chain,
		Log:        auditLog,
		Policy:     n,
		Crl:        n.crlGossip,
		Shutdown:   n,
		Reputation: n.server,
	}, logger)

	n.certMgr = certmgr.NewManager(authorityClient, cert, certmgr.Config{RenewalRatio: cfg.RenewalRatio}, logger, n.onCertRenewed, n.onCertUnobtainable)

	return n, nil
}

func (n *Node) staleTimeout() time.Duration {
	return n.cfg.StalePeerTimeout()
}

// bootstrapAddresses combines configured bootstrap endpoints with the
// genesis block's own bootstrap anchors, per spec.md section 3's bootstrap
// convention of joining via well-known anchors before any gossip-learned
// peer exists.
func bootstrapAddresses(chain *trust.Chain, cfg *config.Config) []string {
	addrs := append([]string{}, cfg.BootstrapEndpoints...)
	for _, anchor := range chain.Genesis().BootstrapAnchors {
		addrs = append(addrs, anchor.Endpoint)
	}
	return addrs
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Start launches every background task: transport accept loop, discovery,
// route announcement, CRL gossip, and certificate renewal, per spec.md
// section 4.9's scheduling model.
func (n *Node) Start(ctx context.Context) error {
	if err := n.server.Listen(ctx); err != nil {
		return fmt.Errorf("node: listen: %w", err)
	}
	n.announcer.Start()
	n.discovery.Start()
	n.crlGossip.Start()
	n.certMgr.Start()
	n.auditEvent("NodeStarted", "", string(n.identity.NodeId()))
	n.logger.Info("node started", slog.String("nodeId", string(n.identity.NodeId())), slog.String("listen", n.cfg.ListenAddress))
	return nil
}

// Drain performs the graceful shutdown sequence spec.md section 4.9
// specifies: stop accepting new work, flush existing connections under a
// bounded deadline, cancel background tasks, and record NodeStopped.
func (n *Node) Drain(ctx context.Context) error {
	n.logger.Info("node draining")
	n.announcer.Stop()
	n.discovery.Stop()
	n.crlGossip.Stop()
	n.certMgr.Stop()
	n.server.Shutdown(drainTimeout)
	n.auditEvent("NodeStopped", "", "")
	return n.auditLog.Close()
}

// RequestShutdown satisfies rbac.Shutdowner: an accepted Shutdown control
// message begins the same drain sequence a signal would, idempotently.
func (n *Node) RequestShutdown(reason string) {
	n.shutdownOnce.Do(func() {
		n.logger.Warn("shutdown requested via control plane", slog.String("reason", reason))
		close(n.shutdownCh)
	})
}

// ShutdownRequested returns a channel closed once RequestShutdown fires,
// for cmd/meshd's main select loop to observe alongside OS signals.
func (n *Node) ShutdownRequested() <-chan struct{} {
	return n.shutdownCh
}

func (n *Node) onCertRenewed(cert *trust.JoinCertificate) {
	n.certMu.Lock()
	n.cert = cert
	n.certMu.Unlock()
	n.server.SetCertificate(cert)
	if err := persistJSON(filepath.Join(n.cfg.DataDir, "state", "cert.json"), cert); err != nil {
		n.logger.Warn("persist renewed certificate failed", slog.String("error", err.Error()))
	}
	metrics.Get().SetCertExpirySeconds(time.Until(cert.ExpiresAt).Seconds())
	if _, err := n.auditLog.Append(audit.Event{Kind: audit.KindCertRenewed, Detail: fmt.Sprintf("serial=%d", cert.Serial), Timestamp: time.Now()}); err != nil {
		n.logger.Error("audit append failed", slog.String("error", err.Error()))
	}
}

func (n *Node) onCertUnobtainable(reason string) {
	n.logger.Error("certificate permanently unobtainable, requesting shutdown", slog.String("reason", reason))
	n.auditEvent(audit.KindCertExpired, "", reason)
	n.RequestShutdown(reason)
}

func (n *Node) markPeerLive(id crypto.NodeId) {
	metrics.Get().ObservePeerScore(string(id), 1)
}

func (n *Node) sendRouteUpdate(destination crypto.NodeId, sequence uint64, metric uint32, withdraw bool) {
	if withdraw {
		body, err := json.Marshal(p2p.RouteWithdrawPayload{Destination: string(destination), Sequence: sequence})
		if err != nil {
			return
		}
		n.server.Broadcast(p2p.KindRouteWithdraw, body)
		return
	}
	body, err := json.Marshal(p2p.RouteAnnouncePayload{Destination: string(destination), Sequence: sequence, Metric: metric})
	if err != nil {
		return
	}
	n.server.Broadcast(p2p.KindRouteAnnounce, body)
}

// rebroadcastRoute re-announces a route learned from heard to every other
// established peer, excluding the one it was heard from, following the
// standard distance-vector flooding rule (never echo an announcement back
// to its source).
func (n *Node) rebroadcastRoute(destination string, sequence uint64, metric uint32, withdraw bool, heard crypto.NodeId) {
	var kind p2p.Kind
	var body []byte
	var err error
	if withdraw {
		kind = p2p.KindRouteWithdraw
		body, err = json.Marshal(p2p.RouteWithdrawPayload{Destination: destination, Sequence: sequence})
	} else {
		kind = p2p.KindRouteAnnounce
		body, err = json.Marshal(p2p.RouteAnnouncePayload{Destination: destination, Sequence: sequence, Metric: metric})
	}
	if err != nil {
		return
	}
	for _, peer := range n.server.Peers() {
		if peer.NodeID() == heard {
			continue
		}
		_ = n.server.SendTo(peer.NodeID(), kind, body)
	}
}

// deliverLocal hands a terminating DataForward payload to the registered
// application callback, if any.
func (n *Node) deliverLocal(msg p2p.DataForwardPayload) {
	if n.OnDeliver != nil {
		n.OnDeliver(crypto.NodeId(msg.Source), msg.Body)
	}
}

// SendData originates a new application payload addressed to destination,
// implementing the router's forwarding contract from the source's side:
// stamp a fresh UUID payload id, set the starting TTL from configuration,
// and either deliver locally (destination is self) or send to the first
// hop the routing table names.
func (n *Node) SendData(destination crypto.NodeId, body []byte) error {
	payloadID := uuid.NewString()
	if destination == n.identity.NodeId() {
		n.deliverLocal(p2p.DataForwardPayload{PayloadID: payloadID, Source: string(n.identity.NodeId()), Destination: string(destination), TTL: uint8(n.cfg.MaxHops), Body: body})
		return nil
	}
	direction, nextHop, ttl, err := n.router.Decide(payloadID, destination, uint8(n.cfg.MaxHops))
	if direction != routing.DirectionForward {
		if err != nil {
			return err
		}
		return routing.ErrNoRoute
	}
	msg := p2p.DataForwardPayload{
		PayloadID:   payloadID,
		Source:      string(n.identity.NodeId()),
		Destination: string(destination),
		TTL:         ttl,
		Body:        body,
	}
	out, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return n.server.SendTo(nextHop, p2p.KindDataForward, out)
}

func (n *Node) auditEvent(kind audit.Kind, peerID, detail string) {
	if _, err := n.auditLog.Append(audit.Event{Kind: kind, PeerID: peerID, Detail: detail, Timestamp: time.Now()}); err != nil {
		n.logger.Error("audit append failed", slog.String("error", err.Error()))
	}
}

// ApplyPolicy satisfies rbac.PolicyApplier: decode and persist an accepted
// PolicyUpdate control message's payload as the mesh's active policy
// manifest.
func (n *Node) ApplyPolicy(payload []byte) error {
	var manifest trust.PolicyManifest
	if err := json.Unmarshal(payload, &manifest); err != nil {
		return fmt.Errorf("node: decode policy manifest: %w", err)
	}
	n.policyMu.Lock()
	n.policy = &manifest
	n.policyMu.Unlock()
	return persistJSON(filepath.Join(n.cfg.DataDir, "state", "policy.json"), &manifest)
}

// CurrentPolicy returns the mesh's currently active policy manifest, if any
// has been received.
func (n *Node) CurrentPolicy() *trust.PolicyManifest {
	n.policyMu.RLock()
	defer n.policyMu.RUnlock()
	return n.policy
}

func persistJSON(path string, v any) error {
	buf, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

func loadCRL(path string) (*trust.CRL, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list trust.CRL
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// loadOrJoinCertificate loads a persisted join certificate if present, else
// requests a fresh one from the Network Authority's join endpoint.
func loadOrJoinCertificate(path string, client *certmgr.AuthorityClient, role string) (*trust.JoinCertificate, error) {
	if raw, err := os.ReadFile(path); err == nil {
		var cert trust.JoinCertificate
		if err := json.Unmarshal(raw, &cert); err != nil {
			return nil, fmt.Errorf("node: decode persisted certificate: %w", err)
		}
		return &cert, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("node: read persisted certificate: %w", err)
	}

	roles := []string{role}
	if role == "" {
		roles = []string{"client"}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cert, err := client.Join(ctx, roles, 24*7)
	if err != nil {
		return nil, fmt.Errorf("node: join network authority: %w", err)
	}
	if err := persistJSON(path, cert); err != nil {
		return nil, fmt.Errorf("node: persist issued certificate: %w", err)
	}
	return cert, nil
}

// Snapshot reports a structured view of the node's current peer set, route
// table, CRL sequence, certificate expiry, and health verdict, generalizing
// the node repo's SnapshotPeers/SnapshotNetwork into the mesh's own state.
type Snapshot struct {
	NodeID      crypto.NodeId `json:"nodeId"`
	PeerCount   int           `json:"peerCount"`
	RouteCount  int           `json:"routeCount"`
	CrlSequence uint64        `json:"crlSequence"`
	CertExpires time.Time     `json:"certExpiresAt"`
	Health      health.Report `json:"health"`
}

// Snapshot computes the current Snapshot, running a full audit chain
// verification to feed health.Input.ChainBroken — spec.md section 7's
// health check is explicit that a broken audit chain is always unhealthy.
func (n *Node) Snapshot() Snapshot {
	n.certMu.RLock()
	cert := n.cert
	n.certMu.RUnlock()

	chainBroken := false
	if _, err := audit.VerifyChain(n.auditPath); err != nil {
		chainBroken = true
		n.logger.Error("audit chain verification failed", slog.String("error", err.Error()))
	}

	crlStale := true
	if current := n.crlStore.Current(); current != nil {
		crlStale = time.Since(current.IssuedAt) > crlStaleAfter
	}

	report := health.Evaluate(health.Input{
		PeerCount:          len(n.server.Peers()),
		MinDesiredPeers:    minDesiredPeers,
		CertExpiresAt:      cert.ExpiresAt,
		CertRenewalFailing: n.certMgr.Failing(),
		ChainBroken:        chainBroken,
		CrlAgeStale:        crlStale,
		Now:                time.Now(),
	})

	return Snapshot{
		NodeID:      n.identity.NodeId(),
		PeerCount:   len(n.server.Peers()),
		RouteCount:  len(n.table.Snapshot()),
		CrlSequence: n.crlStore.Sequence(),
		CertExpires: cert.ExpiresAt,
		Health:      report,
	}
}
