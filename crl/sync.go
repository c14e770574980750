package crl

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"genesismesh/audit"
	"genesismesh/p2p"
	"genesismesh/trust"
)

// Gossip drives CRL propagation over the mesh: periodic sequence-number
// announcements, on-demand full transfers, and immediate disconnection of
// peers whose certificate was just revoked. It also supports pushing an
// emergency CRL update out-of-band the moment one is received via a signed
// control message (spec.md section 4.5's emergency_crl_push), bypassing the
// announce/request round trip.
type Gossip struct {
	store    *Store
	server   *p2p.Server
	interval time.Duration
	log      *audit.Log
	logger   *slog.Logger

	quit chan struct{}
}

// NewGossip builds a Gossip driver. interval controls how often this node
// broadcasts its current CRL sequence number to peers; 60s is the spec.md
// section 6 default (crl_announce_interval_s). log receives a
// NodeBlacklisted entry every time a revoked peer is disconnected; it may
// be nil in tests that don't care about auditing.
func NewGossip(store *Store, server *p2p.Server, interval time.Duration, log *audit.Log, logger *slog.Logger) *Gossip {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gossip{
		store:    store,
		server:   server,
		interval: interval,
		log:      log,
		logger:   logger.With(slog.String("component", "crl-gossip")),
		quit:     make(chan struct{}),
	}
}

// Start launches the periodic announce loop.
func (g *Gossip) Start() { go g.run() }

// Stop halts the periodic announce loop.
func (g *Gossip) Stop() { close(g.quit) }

func (g *Gossip) run() {
	ticker := time.NewTicker(g.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			g.announce()
		case <-g.quit:
			return
		}
	}
}

func (g *Gossip) announce() {
	payload, err := json.Marshal(p2p.CrlAnnouncePayload{Sequence: g.store.Sequence()})
	if err != nil {
		return
	}
	g.server.Broadcast(p2p.KindCrlAnnounce, payload)
}

// HandleAnnounce reacts to a peer advertising its CRL sequence: if the peer
// is ahead of us, request the full list starting after our own sequence.
func (g *Gossip) HandleAnnounce(peer *p2p.Peer, msg p2p.CrlAnnouncePayload) error {
	if msg.Sequence <= g.store.Sequence() {
		return nil
	}
	payload, err := json.Marshal(p2p.CrlRequestPayload{Since: g.store.Sequence()})
	if err != nil {
		return err
	}
	return g.server.SendTo(peer.NodeID(), p2p.KindCrlRequest, payload)
}

// HandleRequest serves a peer's request for our current CRL, provided we
// hold one newer than the requester's Since floor.
func (g *Gossip) HandleRequest(peer *p2p.Peer, msg p2p.CrlRequestPayload) error {
	current := g.store.Current()
	if current == nil || current.Sequence <= msg.Since {
		return nil
	}
	payload, err := json.Marshal(p2p.CrlPushPayload{List: *current})
	if err != nil {
		return err
	}
	return g.server.SendTo(peer.NodeID(), p2p.KindCrlPush, payload)
}

// HandlePush validates and, if newer, adopts an incoming CRL, then
// disconnects any currently connected peer whose certificate was just
// revoked by it.
func (g *Gossip) HandlePush(list trust.CRL) error {
	fresh, err := g.store.Accept(&list, time.Now())
	if err != nil {
		if err == ErrStaleSequence {
			return nil
		}
		g.logger.Warn("rejected crl push", slog.String("error", err.Error()))
		return err
	}
	g.disconnectRevoked(fresh)
	return nil
}

func (g *Gossip) disconnectRevoked(subjects []string) {
	if len(subjects) == 0 {
		return
	}
	revoked := make(map[string]bool, len(subjects))
	for _, s := range subjects {
		revoked[s] = true
	}
	for _, peer := range g.server.Peers() {
		id := string(peer.NodeID())
		if !revoked[id] {
			continue
		}
		g.logger.Info("disconnecting peer revoked by crl update", slog.String("peer", id))
		g.server.Disconnect(peer.NodeID(), trust.ErrCertRevoked)
		g.auditBlacklisted(id)
	}
}

func (g *Gossip) auditBlacklisted(peerID string) {
	if g.log == nil {
		return
	}
	if _, err := g.log.Append(audit.Event{
		Kind:      audit.KindNodeBlacklisted,
		PeerID:    peerID,
		Detail:    "disconnected: certificate revoked",
		Timestamp: time.Now(),
	}); err != nil {
		g.logger.Error("audit append failed", slog.String("error", err.Error()))
	}
}

// InstallCRL decodes payload as a signed trust.CRL and installs it via
// EmergencyPush, satisfying rbac.CrlPusher for the Revoke and
// EmergencyCrlPush control message kinds.
func (g *Gossip) InstallCRL(payload []byte) error {
	var list trust.CRL
	if err := json.Unmarshal(payload, &list); err != nil {
		return fmt.Errorf("crl: decode control payload: %w", err)
	}
	return g.EmergencyPush(&list)
}

// EmergencyPush installs list immediately, bypassing the request/response
// round trip, for use by the control-plane emergency_crl_push handler
// (rbac package), and rebroadcasts it so peers pick it up without waiting
// for the next announce tick.
func (g *Gossip) EmergencyPush(list *trust.CRL) error {
	fresh, err := g.store.Accept(list, time.Now())
	if err != nil {
		return err
	}
	g.disconnectRevoked(fresh)

	payload, err := json.Marshal(p2p.CrlPushPayload{List: *list})
	if err != nil {
		return err
	}
	g.server.Broadcast(p2p.KindCrlPush, payload)
	return nil
}
