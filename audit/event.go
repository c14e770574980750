// Package audit implements the mesh's tamper-evident audit log: an
// append-only, hash-chained sequence of events, rotated to disk with
// gopkg.in/natefinch/lumberjack.v2 the same way the node repo wires log
// rotation for its own JSON logger (observability/logging), except here the
// rotated artifact is a security record rather than a debugging aid.
package audit

import "time"

// Kind enumerates the audit event taxonomy required by spec.md section 4.8.
type Kind string

const (
	KindCertIssued        Kind = "CertIssued"
	KindCertRenewed       Kind = "CertRenewed"
	KindCertRevoked       Kind = "CertRevoked"
	KindCertExpired       Kind = "CertExpired"
	KindNodeStarted       Kind = "NodeStarted"
	KindNodeStopped       Kind = "NodeStopped"
	KindNodeJoined        Kind = "NodeJoined"
	KindNodeLeft          Kind = "NodeLeft"
	KindNodeBlacklisted   Kind = "NodeBlacklisted"
	KindConnEstablished   Kind = "ConnEstablished"
	KindConnFailed        Kind = "ConnFailed"
	KindConnClosed        Kind = "ConnClosed"
	KindControlReceived   Kind = "ControlReceived"
	KindControlAccepted   Kind = "ControlAccepted"
	KindControlRejected   Kind = "ControlRejected"
	KindPolicyApplied     Kind = "PolicyApplied"
	KindAuthSuccess       Kind = "AuthSuccess"
	KindAuthFailure       Kind = "AuthFailure"
	KindSignatureInvalid  Kind = "SignatureInvalid"
	KindCrlUpdated        Kind = "CrlUpdated"
	KindCrlInvalidSig     Kind = "CrlInvalidSignature"
)

// Event is one entry of the audit log. ThisHash is computed over every other
// field plus the previous event's ThisHash, forming the chain; it is never
// set by the caller.
type Event struct {
	Sequence    uint64            `json:"sequence"`
	Timestamp   time.Time         `json:"timestamp"`
	Kind        Kind              `json:"kind"`
	NodeID      string            `json:"nodeId"`
	PeerID      string            `json:"peerId,omitempty"`
	Detail      string            `json:"detail,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
	PrevHash    string            `json:"prevHash"`
	ThisHash    string            `json:"thisHash"`
}
