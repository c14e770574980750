// Package p2p implements the mesh's transport layer: binary framing over
// TCP, the connection state machine, peer exchange, and discovery. Its
// shape — a Peer with paired read/write goroutines feeding a Server that
// dispatches by message kind — follows the node repo's p2p package, but the
// wire format is replaced end to end: length-prefixed binary frames with a
// per-frame Ed25519 signature instead of newline-delimited JSON, per the
// mesh's message-level authentication requirement.
package p2p

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"genesismesh/crypto"
)

// ProtocolVersion is the only wire version this implementation speaks.
const ProtocolVersion byte = 1

// Kind identifies the payload carried by a Frame.
type Kind byte

const (
	KindHandshake     Kind = 0x01
	KindHandshakeAck  Kind = 0x02
	KindPing          Kind = 0x03
	KindPong          Kind = 0x04
	KindPeerExchange  Kind = 0x05
	KindRouteAnnounce Kind = 0x06
	KindRouteWithdraw Kind = 0x07
	KindDataForward   Kind = 0x08
	KindControl       Kind = 0x09
	KindCrlAnnounce   Kind = 0x0A
	KindCrlRequest    Kind = 0x0B
	KindCrlPush       Kind = 0x0C
)

func (k Kind) String() string {
	switch k {
	case KindHandshake:
		return "Handshake"
	case KindHandshakeAck:
		return "HandshakeAck"
	case KindPing:
		return "Ping"
	case KindPong:
		return "Pong"
	case KindPeerExchange:
		return "PeerExchange"
	case KindRouteAnnounce:
		return "RouteAnnounce"
	case KindRouteWithdraw:
		return "RouteWithdraw"
	case KindDataForward:
		return "DataForward"
	case KindControl:
		return "Control"
	case KindCrlAnnounce:
		return "CrlAnnounce"
	case KindCrlRequest:
		return "CrlRequest"
	case KindCrlPush:
		return "CrlPush"
	default:
		return fmt.Sprintf("Kind(0x%02x)", byte(k))
	}
}

var (
	ErrUnsupportedVersion = errors.New("p2p: unsupported protocol version")
	ErrFrameTooLarge      = errors.New("p2p: frame exceeds maximum size")
	ErrFrameSignature     = errors.New("p2p: frame signature invalid")
)

// Frame is one decoded wire message: [u8 version][u8 kind][u32 len BE]
// [payload][64-byte ed25519 signature over version||kind||len||payload].
type Frame struct {
	Version   byte
	Kind      Kind
	Payload   []byte
	Signature []byte
}

// Verify checks f's signature under pub. Callers that don't yet know the
// remote's public key (the first frame of a handshake) read the frame with
// ReadFrame's zero-Verify path and call this once the sender's identity has
// been extracted from the handshake payload itself.
func (f Frame) Verify(pub crypto.PublicKey) error {
	header := frameHeader(f.Kind, f.Payload)
	if !pub.Verify(header, f.Signature) {
		return ErrFrameSignature
	}
	return nil
}

const sigLen = 64

// WriteFrame signs and writes kind/payload to w.
func WriteFrame(w io.Writer, signer crypto.Signer, kind Kind, payload []byte) error {
	header := frameHeader(kind, payload)
	sig := signer.Sign(header)

	buf := make([]byte, 0, len(header)+len(sig))
	buf = append(buf, header...)
	buf = append(buf, sig...)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one frame from r without verifying its signature. maxLen
// bounds the accepted payload size (spec.md's max_message_bytes analogue).
// Most callers immediately call Frame.Verify against a known peer public
// key; the handshake path instead extracts the sender's key from the
// decoded payload first.
func ReadFrame(r *bufio.Reader, maxLen uint32) (Frame, error) {
	var head [6]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return Frame{}, err
	}
	version := head[0]
	kind := Kind(head[1])
	length := binary.BigEndian.Uint32(head[2:6])
	if version != ProtocolVersion {
		return Frame{}, ErrUnsupportedVersion
	}
	if length > maxLen {
		return Frame{}, ErrFrameTooLarge
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Frame{}, err
	}
	sig := make([]byte, sigLen)
	if _, err := io.ReadFull(r, sig); err != nil {
		return Frame{}, err
	}

	return Frame{Version: version, Kind: kind, Payload: payload, Signature: sig}, nil
}

func frameHeader(kind Kind, payload []byte) []byte {
	header := make([]byte, 6+len(payload))
	header[0] = ProtocolVersion
	header[1] = byte(kind)
	binary.BigEndian.PutUint32(header[2:6], uint32(len(payload)))
	copy(header[6:], payload)
	return header
}
