package p2p

import (
	"encoding/json"
	"fmt"
)

// dispatch decodes frame by kind and routes it to the configured Handler,
// following the node repo's HandleMessage switch-on-type pattern.
func (s *Server) dispatch(p *Peer, frame Frame) error {
	switch frame.Kind {
	case KindPing:
		var msg PingPayload
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			return fmt.Errorf("decode ping: %w", err)
		}
		return s.handler.HandlePing(p, msg)
	case KindPong:
		var msg PongPayload
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			return fmt.Errorf("decode pong: %w", err)
		}
		return s.handler.HandlePong(p, msg)
	case KindPeerExchange:
		var msg PeerExchangePayload
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			return fmt.Errorf("decode peer exchange: %w", err)
		}
		return s.handler.HandlePeerExchange(p, msg)
	case KindRouteAnnounce:
		var msg RouteAnnouncePayload
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			return fmt.Errorf("decode route announce: %w", err)
		}
		return s.handler.HandleRouteAnnounce(p, msg)
	case KindRouteWithdraw:
		var msg RouteWithdrawPayload
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			return fmt.Errorf("decode route withdraw: %w", err)
		}
		return s.handler.HandleRouteWithdraw(p, msg)
	case KindDataForward:
		var msg DataForwardPayload
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			return fmt.Errorf("decode data forward: %w", err)
		}
		return s.handler.HandleDataForward(p, msg)
	case KindControl:
		var wrapped ControlPayload
		if err := json.Unmarshal(frame.Payload, &wrapped); err != nil {
			return fmt.Errorf("decode control: %w", err)
		}
		return s.handler.HandleControl(p, wrapped.Message)
	case KindCrlAnnounce:
		var msg CrlAnnouncePayload
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			return fmt.Errorf("decode crl announce: %w", err)
		}
		return s.handler.HandleCrlAnnounce(p, msg)
	case KindCrlRequest:
		var msg CrlRequestPayload
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			return fmt.Errorf("decode crl request: %w", err)
		}
		return s.handler.HandleCrlRequest(p, msg)
	case KindCrlPush:
		var msg CrlPushPayload
		if err := json.Unmarshal(frame.Payload, &msg); err != nil {
			return fmt.Errorf("decode crl push: %w", err)
		}
		return s.handler.HandleCrlPush(p, msg.List)
	default:
		return fmt.Errorf("unknown frame kind %s", frame.Kind)
	}
}
