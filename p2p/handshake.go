package p2p

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"genesismesh/crypto"
	"genesismesh/trust"
)

const handshakeNonceSize = 16

// handshakeSkewAllowance bounds how far a peer's handshake timestamp may
// drift from local time, mirroring the node repo's protocolVersion/
// handshakeSkewAllowance constants.
const handshakeSkewAllowance = 5 * time.Minute

func randomNonce() (string, error) {
	buf := make([]byte, handshakeNonceSize)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("p2p: generate handshake nonce: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// performOutboundHandshake sends the local HandshakePayload, reads and
// verifies the remote's, and completes the mutual nonce-echo ack.
func (s *Server) performOutboundHandshake(p *Peer) error {
	nonce, err := randomNonce()
	if err != nil {
		return err
	}
	local := s.buildHandshakePayload(nonce)
	body, err := json.Marshal(local)
	if err != nil {
		return fmt.Errorf("p2p: marshal handshake: %w", err)
	}
	if err := WriteFrame(p.conn, s.identity, KindHandshake, body); err != nil {
		return fmt.Errorf("p2p: send handshake: %w", err)
	}

	remote, remoteFrame, err := s.readHandshake(p)
	if err != nil {
		return err
	}
	if err := s.acceptRemoteHandshake(p, remote, remoteFrame); err != nil {
		return err
	}

	ack := HandshakeAckPayload{EchoNonce: remote.Nonce, Accepted: true}
	ackBody, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("p2p: marshal handshake ack: %w", err)
	}
	if err := WriteFrame(p.conn, s.identity, KindHandshakeAck, ackBody); err != nil {
		return fmt.Errorf("p2p: send handshake ack: %w", err)
	}

	return s.readHandshakeAck(p, nonce)
}

// performInboundHandshake mirrors performOutboundHandshake for the accept
// side: read first, then respond.
func (s *Server) performInboundHandshake(p *Peer) error {
	remote, remoteFrame, err := s.readHandshake(p)
	if err != nil {
		return err
	}
	if err := s.acceptRemoteHandshake(p, remote, remoteFrame); err != nil {
		return err
	}

	nonce, err := randomNonce()
	if err != nil {
		return err
	}
	local := s.buildHandshakePayload(nonce)
	body, err := json.Marshal(local)
	if err != nil {
		return fmt.Errorf("p2p: marshal handshake: %w", err)
	}
	if err := WriteFrame(p.conn, s.identity, KindHandshake, body); err != nil {
		return fmt.Errorf("p2p: send handshake: %w", err)
	}

	ack := HandshakeAckPayload{EchoNonce: remote.Nonce, Accepted: true}
	ackBody, err := json.Marshal(ack)
	if err != nil {
		return fmt.Errorf("p2p: marshal handshake ack: %w", err)
	}
	if err := WriteFrame(p.conn, s.identity, KindHandshakeAck, ackBody); err != nil {
		return fmt.Errorf("p2p: send handshake ack: %w", err)
	}

	return s.readHandshakeAck(p, nonce)
}

func (s *Server) buildHandshakePayload(nonce string) HandshakePayload {
	return HandshakePayload{
		ProtocolVersion: ProtocolVersion,
		NetworkID:       s.chain.NetworkID(),
		NodeID:          string(s.identity.NodeId()),
		ListenEndpoint:  s.cfg.ListenAddress,
		Nonce:           nonce,
		Timestamp:       nowMillis(),
		ClientVersion:   s.cfg.ClientVersion,
		Certificate:     *s.certificate(),
	}
}

func (s *Server) readHandshake(p *Peer) (HandshakePayload, Frame, error) {
	frame, err := ReadFrame(p.reader, s.cfg.MaxMessageBytes)
	if err != nil {
		return HandshakePayload{}, Frame{}, fmt.Errorf("p2p: read handshake: %w", err)
	}
	if frame.Kind != KindHandshake {
		return HandshakePayload{}, Frame{}, fmt.Errorf("p2p: expected handshake, got %s", frame.Kind)
	}
	var remote HandshakePayload
	if err := json.Unmarshal(frame.Payload, &remote); err != nil {
		return HandshakePayload{}, Frame{}, fmt.Errorf("p2p: decode handshake: %w", err)
	}
	return remote, frame, nil
}

func (s *Server) acceptRemoteHandshake(p *Peer, remote HandshakePayload, frame Frame) error {
	if remote.ProtocolVersion != ProtocolVersion {
		return ErrUnsupportedVersion
	}
	if remote.NetworkID != s.chain.NetworkID() {
		return fmt.Errorf("p2p: peer network id %q does not match %q", remote.NetworkID, s.chain.NetworkID())
	}
	now := time.Now()
	skew := now.Sub(time.UnixMilli(remote.Timestamp))
	if skew < -handshakeSkewAllowance || skew > handshakeSkewAllowance {
		return fmt.Errorf("p2p: handshake timestamp outside allowed skew")
	}
	if !s.nonceGuard.Remember("hs:"+remote.Nonce, now) {
		return fmt.Errorf("p2p: handshake nonce replay detected")
	}

	remotePub, err := crypto.PublicKeyFromNodeId(crypto.NodeId(remote.Certificate.SubjectPubKey))
	if err != nil {
		return fmt.Errorf("p2p: decode remote public key: %w", err)
	}
	if err := frame.Verify(remotePub); err != nil {
		return err
	}
	if remote.NodeID != remote.Certificate.SubjectPubKey {
		return fmt.Errorf("p2p: handshake node id does not match certificate subject")
	}
	if err := s.chain.VerifyCertificate(&remote.Certificate, now); err != nil {
		return fmt.Errorf("%w: %v", trust.ErrCertRevoked, err)
	}

	p.markEstablished(crypto.NodeId(remote.NodeID), remotePub, remote.Certificate)
	p.endpoint = remote.ListenEndpoint
	return nil
}

func (s *Server) readHandshakeAck(p *Peer, sentNonce string) error {
	frame, err := ReadFrame(p.reader, s.cfg.MaxMessageBytes)
	if err != nil {
		return fmt.Errorf("p2p: read handshake ack: %w", err)
	}
	if err := frame.Verify(p.currentPubKey()); err != nil {
		return err
	}
	if frame.Kind != KindHandshakeAck {
		return fmt.Errorf("p2p: expected handshake ack, got %s", frame.Kind)
	}
	var ack HandshakeAckPayload
	if err := json.Unmarshal(frame.Payload, &ack); err != nil {
		return fmt.Errorf("p2p: decode handshake ack: %w", err)
	}
	if ack.EchoNonce != sentNonce {
		return fmt.Errorf("p2p: handshake ack echoed wrong nonce")
	}
	if !ack.Accepted {
		return fmt.Errorf("p2p: handshake rejected by peer: %s", ack.Reason)
	}
	return nil
}
