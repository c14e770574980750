package rbac

import (
	"encoding/base64"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"genesismesh/audit"
	"genesismesh/crypto"
	"genesismesh/trust"
)

type fakePolicy struct{ applied []byte }

func (f *fakePolicy) ApplyPolicy(payload []byte) error {
	f.applied = payload
	return nil
}

type fakeCrl struct{ installed []byte }

func (f *fakeCrl) InstallCRL(payload []byte) error {
	f.installed = payload
	return nil
}

type fakeShutdown struct{ requested bool }

func (f *fakeShutdown) RequestShutdown(reason string) { f.requested = true }

type fakeReputation struct {
	penalized []string
	rewarded  []string
}

func (f *fakeReputation) Penalize(peerID, reason string) {
	f.penalized = append(f.penalized, peerID)
}

func (f *fakeReputation) Reward(peerID, reason string) {
	f.rewarded = append(f.rewarded, peerID)
}

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func testHandlerFixture(t *testing.T) (*trust.Chain, *crypto.PrivateKey, *audit.Log) {
	t.Helper()
	root, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	authority, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	now := time.Now()
	payload := trust.GenesisPayload{
		NetworkName:   "test-mesh",
		Version:       "1",
		RootPublicKey: string(root.NodeId()),
		NetworkAuthority: trust.AuthorityKey{
			PublicKey: string(authority.NodeId()),
			ValidFrom: now.Add(-time.Hour),
			ValidTo:   now.Add(24 * time.Hour),
		},
		AllowedCryptoSuites: []string{"ed25519"},
		AllowedTransports:   []string{"tcp"},
		PolicyManifestRef:   trust.PolicyManifestRef{Hash: "abc", URL: "https://example.invalid/policy.json"},
		BootstrapAnchors: []trust.BootstrapAnchor{
			{NodeID: "anchor-1", Endpoint: "127.0.0.1:9000"},
		},
	}
	sig, err := crypto.SignCanonical(root, payload)
	require.NoError(t, err)
	genesis := &trust.GenesisBlock{
		GenesisPayload: payload,
		Signatures:     []trust.Signature{{KeyID: string(root.NodeId()), Signature: b64(sig)}},
	}
	chain, err := trust.NewChain(genesis)
	require.NoError(t, err)

	log, err := audit.Open("node-under-test", audit.Options{Path: filepath.Join(t.TempDir(), "audit.log")})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	return chain, authority, log
}

func issueAdminControl(t *testing.T, chain *trust.Chain, authority, admin *crypto.PrivateKey, kind trust.ControlKind, scope string, payload []byte) *trust.ControlMessage {
	t.Helper()
	now := time.Now()
	cert, err := trust.IssueJoinCertificate(authority, trust.JoinCertificatePayload{
		SubjectPubKey: string(admin.NodeId()),
		Roles:         []string{"admin"},
		NetworkID:     chain.NetworkID(),
		IssuedAt:      now.Add(-time.Minute),
		ExpiresAt:     now.Add(time.Hour),
		Serial:        1,
		IssuerKeyID:   string(authority.NodeId()),
	})
	require.NoError(t, err)

	msg, err := trust.IssueControlMessage(admin, trust.ControlMessagePayload{
		MessageID:  "msg-1",
		Kind:       kind,
		Scope:      scope,
		Payload:    payload,
		IssuedAt:   now.Add(-time.Second),
		ExpiresAt:  now.Add(time.Minute),
		IssuerCert: *cert,
	})
	require.NoError(t, err)
	return msg
}

func TestHandlerAcceptsAndDispatchesShutdown(t *testing.T) {
	chain, authority, log := testHandlerFixture(t)
	admin, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	msg := issueAdminControl(t, chain, authority, admin, trust.ControlShutdown, "core", nil)

	shutdown := &fakeShutdown{}
	h := NewHandler(Config{Chain: chain, Log: log, Shutdown: shutdown}, nil)

	require.NoError(t, h.Handle("peer-1", msg))
	require.True(t, shutdown.requested)
}

func TestHandlerRejectsReplayedMessageID(t *testing.T) {
	chain, authority, log := testHandlerFixture(t)
	admin, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	msg := issueAdminControl(t, chain, authority, admin, trust.ControlRevoke, "core", nil)

	rep := &fakeReputation{}
	h := NewHandler(Config{Chain: chain, Log: log, Reputation: rep}, nil)

	require.NoError(t, h.Handle("peer-1", msg))
	require.ErrorIs(t, h.Handle("peer-1", msg), ErrReplayed)
	require.Contains(t, rep.penalized, "peer-1")
}

func TestHandlerRejectsUnauthorizedRole(t *testing.T) {
	chain, authority, log := testHandlerFixture(t)
	client, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	now := time.Now()
	cert, err := trust.IssueJoinCertificate(authority, trust.JoinCertificatePayload{
		SubjectPubKey: string(client.NodeId()),
		Roles:         []string{"client"},
		NetworkID:     chain.NetworkID(),
		IssuedAt:      now.Add(-time.Minute),
		ExpiresAt:     now.Add(time.Hour),
		Serial:        2,
		IssuerKeyID:   string(authority.NodeId()),
	})
	require.NoError(t, err)
	msg, err := trust.IssueControlMessage(client, trust.ControlMessagePayload{
		MessageID:  "msg-2",
		Kind:       trust.ControlShutdown,
		Scope:      "core",
		IssuedAt:   now.Add(-time.Second),
		ExpiresAt:  now.Add(time.Minute),
		IssuerCert: *cert,
	})
	require.NoError(t, err)

	h := NewHandler(Config{Chain: chain, Log: log}, nil)
	require.ErrorIs(t, h.Handle("peer-2", msg), ErrUnauthorizedRole)
}

func TestHandlerDispatchesPolicyUpdate(t *testing.T) {
	chain, authority, log := testHandlerFixture(t)
	admin, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	msg := issueAdminControl(t, chain, authority, admin, trust.ControlPolicyUpdate, "policy:routing", []byte(`{"maxHops":6}`))

	policy := &fakePolicy{}
	h := NewHandler(Config{Chain: chain, Log: log, Policy: policy}, nil)

	require.NoError(t, h.Handle("peer-3", msg))
	require.Equal(t, []byte(`{"maxHops":6}`), policy.applied)
}
