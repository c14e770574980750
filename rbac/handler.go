package rbac

import (
	"errors"
	"log/slog"
	"time"

	"genesismesh/audit"
	"genesismesh/internal/replay"
	"genesismesh/trust"
)

var (
	// ErrUnauthorizedRole is returned when the issuer's roles don't grant
	// the message kind over the requested scope.
	ErrUnauthorizedRole = errors.New("rbac: issuer role does not permit this control kind/scope")
	// ErrReplayed is returned for a message_id already seen within the
	// replay cache's window.
	ErrReplayed = errors.New("rbac: message_id already seen")
)

// PolicyApplier stores an accepted PolicyUpdate control message's policy
// payload as the mesh's active operational policy. Node wiring supplies the
// concrete store.
type PolicyApplier interface {
	ApplyPolicy(payload []byte) error
}

// CrlPusher installs a CRL delta carried by a Revoke or EmergencyCrlPush
// control message. Node wiring supplies crl.Gossip.EmergencyPush (adapted
// to accept the raw payload bytes it decodes into a trust.CRL).
type CrlPusher interface {
	InstallCRL(payload []byte) error
}

// Shutdowner begins the node's graceful drain in response to an accepted
// Shutdown control message.
type Shutdowner interface {
	RequestShutdown(reason string)
}

// ReputationAdjuster lets the handler penalize a peer that sent an
// unauthorized or otherwise rejected control message, and reward one whose
// message was accepted, without rbac depending on the p2p package's
// reputation type directly.
type ReputationAdjuster interface {
	Penalize(peerID string, reason string)
	Reward(peerID string, reason string)
}

// Handler applies spec.md section 4.7's six-point acceptance rule to
// incoming control messages and dispatches accepted ones to the owning
// subsystem.
type Handler struct {
	chain   *trust.Chain
	replay  *replay.Guard
	log     *audit.Log
	logger  *slog.Logger

	policy   PolicyApplier
	crl      CrlPusher
	shutdown Shutdowner
	rep      ReputationAdjuster
}

// Config bundles the collaborators a Handler dispatches to.
type Config struct {
	Chain               *trust.Chain
	Log                 *audit.Log
	Policy              PolicyApplier
	Crl                 CrlPusher
	Shutdown            Shutdowner
	Reputation          ReputationAdjuster
	ReplayCacheCapacity int
	ReplayCacheTTL      time.Duration
}

// NewHandler builds a Handler. ReplayCacheTTL defaults to 1 hour and
// ReplayCacheCapacity to 16384, matching spec.md section 4.7's replay cache
// sizing ("bounded to 16k entries with TTL >= max expires_at - issued_at,
// default 1 hour").
func NewHandler(cfg Config, logger *slog.Logger) *Handler {
	ttl := cfg.ReplayCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	cap := cfg.ReplayCacheCapacity
	if cap <= 0 {
		cap = 16384
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		chain:    cfg.Chain,
		replay:   replay.NewGuard(ttl, cap),
		log:      cfg.Log,
		logger:   logger.With(slog.String("component", "rbac")),
		policy:   cfg.Policy,
		crl:      cfg.Crl,
		shutdown: cfg.Shutdown,
		rep:      cfg.Reputation,
	}
}

// Handle applies the acceptance rule to msg, received from peerID, and
// dispatches it on success. It returns nil on accept (including a
// well-formed no-op like Ping) and a non-nil error identifying the failed
// acceptance check on reject; both outcomes are audited.
func (h *Handler) Handle(peerID string, msg *trust.ControlMessage) error {
	h.audit(audit.KindControlReceived, peerID, string(msg.Kind), "")

	now := time.Now()

	// Rules 1, 4, 5: certificate validity/revocation/expiry and signature.
	if err := trust.VerifyControlMessage(h.chain, now, msg); err != nil {
		return h.reject(peerID, msg, err)
	}

	// Rule 6: replay cache.
	if !h.replay.Remember(msg.MessageID, now) {
		return h.reject(peerID, msg, ErrReplayed)
	}

	// Rules 2, 3: role/scope authorization.
	if !Authorized(msg.IssuerCert.Roles, msg.Kind, msg.Scope) {
		return h.reject(peerID, msg, ErrUnauthorizedRole)
	}

	if err := h.dispatch(msg); err != nil {
		return h.reject(peerID, msg, err)
	}

	h.audit(audit.KindControlAccepted, peerID, string(msg.Kind), msg.Scope)
	if h.rep != nil && peerID != "" {
		h.rep.Reward(peerID, string(msg.Kind))
	}
	return nil
}

func (h *Handler) dispatch(msg *trust.ControlMessage) error {
	switch msg.Kind {
	case trust.ControlPolicyUpdate:
		if h.policy == nil {
			return nil
		}
		if err := h.policy.ApplyPolicy(msg.Payload); err != nil {
			return err
		}
		h.audit(audit.KindPolicyApplied, "", string(msg.Kind), msg.Scope)
		return nil
	case trust.ControlRevoke, trust.ControlEmergencyCrlPush:
		if h.crl == nil {
			return nil
		}
		return h.crl.InstallCRL(msg.Payload)
	case trust.ControlShutdown:
		if h.shutdown != nil {
			h.shutdown.RequestShutdown("shutdown control message accepted")
		}
		return nil
	case trust.ControlPing:
		return nil
	default:
		return nil
	}
}

func (h *Handler) reject(peerID string, msg *trust.ControlMessage, reason error) error {
	h.audit(audit.KindControlRejected, peerID, string(msg.Kind), reason.Error())
	h.logger.Warn("control message rejected", slog.String("peer", peerID), slog.String("kind", string(msg.Kind)), slog.String("reason", reason.Error()))
	if h.rep != nil && peerID != "" {
		h.rep.Penalize(peerID, reason.Error())
	}
	return reason
}

func (h *Handler) audit(kind audit.Kind, peerID, controlKind, detail string) {
	if h.log == nil {
		return
	}
	fields := map[string]string{}
	if controlKind != "" {
		fields["controlKind"] = controlKind
	}
	if _, err := h.log.Append(audit.Event{
		Kind:      kind,
		PeerID:    peerID,
		Detail:    detail,
		Fields:    fields,
		Timestamp: time.Now(),
	}); err != nil {
		h.logger.Error("audit append failed", slog.String("error", err.Error()))
	}
}
