package node

import (
	"encoding/json"
	"log/slog"
	"time"

	"genesismesh/crypto"
	"genesismesh/metrics"
	"genesismesh/p2p"
	"genesismesh/routing"
	"genesismesh/trust"
)

// meshHandler implements p2p.Handler, fanning out verified inbound messages
// to the routing, rbac, and crl subsystems the way the node repo's own
// Server.dispatch hands decoded messages off to its p2p/consensus/mempool
// collaborators, without any of those packages importing p2p directly.
type meshHandler struct {
	n *Node
}

func (h *meshHandler) HandlePing(peer *p2p.Peer, msg p2p.PingPayload) error {
	body, err := json.Marshal(p2p.PongPayload{Nonce: msg.Nonce, Timestamp: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	return peer.Enqueue(p2p.KindPong, body)
}

func (h *meshHandler) HandlePong(peer *p2p.Peer, msg p2p.PongPayload) error {
	if rtt := peer.OnPong(msg.Nonce); rtt > 0 {
		metrics.Get().ObservePeerRTT(string(peer.NodeID()), rtt.Seconds())
	}
	h.n.markPeerLive(peer.NodeID())
	return nil
}

func (h *meshHandler) HandlePeerExchange(peer *p2p.Peer, msg p2p.PeerExchangePayload) error {
	return h.n.server.MergePeerExchange(peer, msg)
}

func (h *meshHandler) HandleRouteAnnounce(peer *p2p.Peer, msg p2p.RouteAnnouncePayload) error {
	changed := h.n.table.Update(routing.Entry{
		Destination: crypto.NodeId(msg.Destination),
		NextHop:     peer.NodeID(),
		Metric:      msg.Metric + 1,
		Sequence:    msg.Sequence,
		UpdatedAt:   time.Now(),
	})
	h.n.server.RewardRouteAnnounce(string(peer.NodeID()))
	if changed {
		h.n.rebroadcastRoute(msg.Destination, msg.Sequence, msg.Metric+1, false, peer.NodeID())
	}
	metrics.Get().SetRouteCount(len(h.n.table.Snapshot()))
	return nil
}

func (h *meshHandler) HandleRouteWithdraw(peer *p2p.Peer, msg p2p.RouteWithdrawPayload) error {
	h.n.table.Remove(crypto.NodeId(msg.Destination))
	h.n.rebroadcastRoute(msg.Destination, msg.Sequence, 0, true, peer.NodeID())
	metrics.Get().SetRouteCount(len(h.n.table.Snapshot()))
	return nil
}

func (h *meshHandler) HandleDataForward(peer *p2p.Peer, msg p2p.DataForwardPayload) error {
	direction, nextHop, ttl, err := h.n.router.Decide(msg.PayloadID, crypto.NodeId(msg.Destination), msg.TTL)
	switch direction {
	case routing.DirectionDeliverLocal:
		h.n.deliverLocal(msg)
		return nil
	case routing.DirectionForward:
		msg.TTL = ttl
		body, marshalErr := json.Marshal(msg)
		if marshalErr != nil {
			return marshalErr
		}
		if sendErr := h.n.server.SendTo(nextHop, p2p.KindDataForward, body); sendErr != nil {
			metrics.Get().RecordMessageDropped()
			return sendErr
		}
		return nil
	default:
		if err != nil {
			metrics.Get().RecordError(errorKind(err))
		}
		return nil
	}
}

func (h *meshHandler) HandleControl(peer *p2p.Peer, msg trust.ControlMessage) error {
	return h.n.rbacHandler.Handle(string(peer.NodeID()), &msg)
}

func (h *meshHandler) HandleCrlAnnounce(peer *p2p.Peer, msg p2p.CrlAnnouncePayload) error {
	return h.n.crlGossip.HandleAnnounce(peer, msg)
}

func (h *meshHandler) HandleCrlRequest(peer *p2p.Peer, msg p2p.CrlRequestPayload) error {
	return h.n.crlGossip.HandleRequest(peer, msg)
}

func (h *meshHandler) HandleCrlPush(peer *p2p.Peer, msg trust.CRL) error {
	return h.n.crlGossip.HandlePush(msg)
}

func (h *meshHandler) OnPeerEstablished(peer *p2p.Peer) {
	h.n.logger.Info("peer established",
		slog.String("peer", string(peer.NodeID())),
		slog.String("endpoint", peer.Endpoint()))
	metrics.Get().RecordHandshake("success")
	metrics.Get().SetPeerCount(len(h.n.server.Peers()))
	h.n.auditEvent("ConnEstablished", string(peer.NodeID()), "")
}

func (h *meshHandler) OnPeerClosed(peer *p2p.Peer) {
	h.n.logger.Info("peer closed", slog.String("peer", string(peer.NodeID())))
	metrics.Get().RemovePeer(string(peer.NodeID()))
	metrics.Get().SetPeerCount(len(h.n.server.Peers()))
	h.n.auditEvent("ConnClosed", string(peer.NodeID()), "")
}
