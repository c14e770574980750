package crypto

import "encoding/json"

// Canonicalize produces the deterministic byte encoding that every signed
// object in the trust chain signs and verifies over. Following the node
// repo's handshake pattern (handshake.go: handshakeMessage vs
// handshakePacket), callers define a "payload" struct holding every signed
// field EXCEPT signatures, and pass a value of that type here — Go's
// encoding/json already emits object fields in fixed struct-declaration
// order with no insignificant whitespace, which is sufficient for a stable
// signing form as long as the same Go type is used on both the signing and
// verifying side. Map-typed fields (none of which appear in the objects
// below) would break this guarantee and must be avoided in signed payloads.
func Canonicalize(payload any) ([]byte, error) {
	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrCanonicalization
	}
	return buf, nil
}

// Signer signs a canonicalized payload and returns the raw signature.
type Signer interface {
	Sign(msg []byte) []byte
}

// SignCanonical canonicalizes payload and signs the result.
func SignCanonical(signer Signer, payload any) ([]byte, error) {
	msg, err := Canonicalize(payload)
	if err != nil {
		return nil, err
	}
	return signer.Sign(msg), nil
}

// VerifyCanonical canonicalizes payload and checks sig under pub.
func VerifyCanonical(pub PublicKey, payload any, sig []byte) error {
	msg, err := Canonicalize(payload)
	if err != nil {
		return err
	}
	if !pub.Verify(msg, sig) {
		return ErrBadSignature
	}
	return nil
}
