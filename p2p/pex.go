package p2p

import (
	"encoding/json"
	"math/rand"
	"time"
)

// PeerGossipCap bounds how many entries a single PeerExchangePayload may
// carry, per spec.md section 6's peer_gossip_cap default.
const PeerGossipCap = 32

// pexManager periodically shares a capped sample of known peers with each
// established connection and merges what it receives into the peerstore,
// following the node repo's seed/PEX gossip idea generalized off any single
// hardcoded interval.
type pexManager struct {
	server   *Server
	interval time.Duration
	quit     chan struct{}
}

func newPEXManager(server *Server, interval time.Duration) *pexManager {
	if interval <= 0 {
		interval = time.Minute
	}
	return &pexManager{server: server, interval: interval, quit: make(chan struct{})}
}

func (m *pexManager) start() { go m.run() }
func (m *pexManager) stop()  { close(m.quit) }

func (m *pexManager) run() {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.gossip()
		case <-m.quit:
			return
		}
	}
}

func (m *pexManager) gossip() {
	peers := m.server.Peers()
	if len(peers) == 0 {
		return
	}
	adverts := m.sample(peers)
	if len(adverts) == 0 {
		return
	}
	body, err := json.Marshal(PeerExchangePayload{Peers: adverts})
	if err != nil {
		return
	}
	for _, p := range peers {
		_ = p.Enqueue(KindPeerExchange, body)
	}
}

func (m *pexManager) sample(peers []*Peer) []PeerAdvert {
	all := make([]PeerAdvert, 0, len(peers))
	for _, p := range peers {
		if ep := p.Endpoint(); ep != "" {
			all = append(all, PeerAdvert{NodeID: string(p.NodeID()), Endpoint: ep})
		}
	}
	if len(all) <= PeerGossipCap {
		return all
	}
	rand.Shuffle(len(all), func(i, j int) { all[i], all[j] = all[j], all[i] })
	return all[:PeerGossipCap]
}

// MergePeerExchange records adverts (up to PeerGossipCap of them) into the
// peerstore, ignoring self and already-known-bad entries.
func (s *Server) MergePeerExchange(from *Peer, msg PeerExchangePayload) error {
	if s.peerstore == nil {
		return nil
	}
	if len(msg.Peers) > PeerGossipCap {
		msg.Peers = msg.Peers[:PeerGossipCap]
	}
	now := time.Now()
	for _, advert := range msg.Peers {
		if advert.NodeID == "" || advert.Endpoint == "" {
			continue
		}
		if advert.NodeID == string(s.identity.NodeId()) {
			continue
		}
		if s.reputation.IsBlacklisted(advert.NodeID, now) {
			continue
		}
		existing, ok := s.peerstore.Get(advert.NodeID)
		if ok {
			existing.Endpoint = advert.Endpoint
			_ = s.peerstore.Put(existing)
			continue
		}
		_ = s.peerstore.Put(PeerstoreEntry{NodeID: advert.NodeID, Endpoint: advert.Endpoint, LastSeen: now})
	}
	return nil
}
