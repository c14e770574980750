package crypto

import "errors"

// Sentinel errors for the closed failure taxonomy of spec.md section 4.1 and
// section 7. Callers use errors.Is against these values; components that need
// a machine-readable "kind" string for metrics labels use KindOf.
var (
	ErrBadSignature        = errors.New("crypto: bad signature")
	ErrExpiredCert         = errors.New("crypto: certificate expired")
	ErrRevokedCert         = errors.New("crypto: certificate revoked")
	ErrUnknownIssuer       = errors.New("crypto: unknown issuer")
	ErrCanonicalization    = errors.New("crypto: canonicalization error")
	ErrNotYetValid         = errors.New("crypto: not yet valid")
	ErrKeyIDMismatch       = errors.New("crypto: key id does not match public key")
)

// KindOf maps a sentinel error to the stable error-kind string used for audit
// events and metrics labels. Unknown errors map to "Internal".
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrBadSignature):
		return "BadSignature"
	case errors.Is(err, ErrExpiredCert):
		return "ExpiredCert"
	case errors.Is(err, ErrRevokedCert):
		return "RevokedCert"
	case errors.Is(err, ErrUnknownIssuer):
		return "UnknownIssuer"
	case errors.Is(err, ErrCanonicalization):
		return "Canonicalization"
	case errors.Is(err, ErrNotYetValid):
		return "NotYetValid"
	case errors.Is(err, ErrKeyIDMismatch):
		return "UnknownIssuer"
	default:
		return "Internal"
	}
}
