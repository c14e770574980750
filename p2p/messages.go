package p2p

import (
	"time"

	"genesismesh/trust"
)

// HandshakePayload is exchanged first on every new connection, mirroring
// the shape of the node repo's handshakeMessage: protocol/network identity,
// a fresh nonce for replay protection, and the peer's current certificate so
// the remote side can verify trust chain membership before anything else is
// exchanged.
type HandshakePayload struct {
	ProtocolVersion byte                  `json:"protocolVersion"`
	NetworkID       string                `json:"networkId"`
	NodeID          string                `json:"nodeId"`
	ListenEndpoint  string                `json:"listenEndpoint"`
	Nonce           string                `json:"nonce"`
	Timestamp       int64                 `json:"timestamp"`
	ClientVersion   string                `json:"clientVersion"`
	Certificate     trust.JoinCertificate `json:"certificate"`
}

// HandshakeAckPayload completes the mutual handshake, echoing the peer's
// nonce back so each side can confirm the other actually holds its private
// key over fresh material.
type HandshakeAckPayload struct {
	EchoNonce string `json:"echoNonce"`
	Accepted  bool   `json:"accepted"`
	Reason    string `json:"reason,omitempty"`
}

// PingPayload/PongPayload implement the liveness keepalive.
type PingPayload struct {
	Nonce     uint64 `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

type PongPayload struct {
	Nonce     uint64 `json:"nonce"`
	Timestamp int64  `json:"timestamp"`
}

// PeerAdvert is one entry of a peer-exchange list.
type PeerAdvert struct {
	NodeID   string `json:"nodeId"`
	Endpoint string `json:"endpoint"`
}

// PeerExchangePayload gossips a capped list of known peers, carried like
// every frame under the sender's Ed25519 frame signature, so new nodes can
// grow their peer set beyond the bootstrap anchors.
type PeerExchangePayload struct {
	Peers []PeerAdvert `json:"peers"`
}

// RouteAnnouncePayload advertises reachability to Destination via the
// sender, DSDV-style: even sequence numbers are live announcements, odd
// sequence numbers withdraw the route.
type RouteAnnouncePayload struct {
	Destination string `json:"destination"`
	Sequence    uint64 `json:"sequence"`
	Metric      uint32 `json:"metric"`
}

// RouteWithdrawPayload explicitly withdraws a previously announced route,
// used on graceful disconnect (in addition to the odd-sequence convention).
type RouteWithdrawPayload struct {
	Destination string `json:"destination"`
	Sequence    uint64 `json:"sequence"`
}

// DataForwardPayload carries application data hop by hop along a route.
type DataForwardPayload struct {
	PayloadID   string `json:"payloadId"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	TTL         uint8  `json:"ttl"`
	Body        []byte `json:"body"`
}

// ControlPayload wraps a signed trust.ControlMessage for transport.
type ControlPayload struct {
	Message trust.ControlMessage `json:"message"`
}

// CrlAnnouncePayload advertises the sender's current CRL sequence number,
// letting peers detect they are behind without transferring the full list.
type CrlAnnouncePayload struct {
	Sequence uint64 `json:"sequence"`
}

// CrlRequestPayload asks the peer to push its whole current CRL if that
// CRL's sequence is strictly greater than Since; otherwise nothing is sent.
type CrlRequestPayload struct {
	Since uint64 `json:"since"`
}

// CrlPushPayload carries a full signed CRL.
type CrlPushPayload struct {
	List trust.CRL `json:"list"`
}

func nowMillis() int64 { return time.Now().UnixMilli() }
