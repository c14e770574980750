package node

import (
	"errors"

	"genesismesh/crl"
	"genesismesh/crypto"
	"genesismesh/p2p"
	"genesismesh/rbac"
	"genesismesh/routing"
	"genesismesh/trust"
)

// errorKind extends crypto.KindOf with the remainder of spec.md section 7's
// closed error taxonomy, covering the sentinels routing, rbac, trust, crl,
// and p2p define for their own failure paths. Callers use this wherever
// metrics.RecordError or an audit event needs the stable kind string rather
// than a raw error message.
func errorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, routing.ErrNoRoute):
		return "NoRoute"
	case errors.Is(err, routing.ErrTTLExceeded):
		return "TtlExpired"
	case errors.Is(err, routing.ErrDuplicatePayload):
		return "ReplayDetected"
	case errors.Is(err, rbac.ErrUnauthorizedRole):
		return "UnauthorizedRole"
	case errors.Is(err, rbac.ErrReplayed):
		return "ReplayDetected"
	case errors.Is(err, trust.ErrCertExpired):
		return "ExpiredCert"
	case errors.Is(err, trust.ErrCertRevoked):
		return "RevokedCert"
	case errors.Is(err, trust.ErrCertNotYetValid):
		return "BadSignature"
	case errors.Is(err, trust.ErrNoActiveAuthority):
		return "UnknownIssuer"
	case errors.Is(err, trust.ErrWrongNetwork):
		return "UnknownIssuer"
	case errors.Is(err, crl.ErrStaleSequence):
		return "ProtocolViolation"
	case errors.Is(err, p2p.ErrUnsupportedVersion):
		return "ProtocolViolation"
	case errors.Is(err, p2p.ErrFrameTooLarge):
		return "ProtocolViolation"
	case errors.Is(err, p2p.ErrFrameSignature):
		return "BadSignature"
	case errors.Is(err, p2p.ErrPeerUnknown):
		return "NoRoute"
	default:
		return crypto.KindOf(err)
	}
}
