package trust

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"genesismesh/crypto"
)

func b64(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func testGenesis(t *testing.T, root *crypto.PrivateKey, authority *crypto.PrivateKey) *GenesisBlock {
	t.Helper()
	now := time.Now()
	payload := GenesisPayload{
		NetworkName:   "test-mesh",
		Version:       "1",
		RootPublicKey: string(root.NodeId()),
		NetworkAuthority: AuthorityKey{
			PublicKey: string(authority.NodeId()),
			ValidFrom: now.Add(-time.Hour),
			ValidTo:   now.Add(24 * time.Hour),
		},
		AllowedCryptoSuites: []string{"ed25519"},
		AllowedTransports:   []string{"tcp"},
		PolicyManifestRef:   PolicyManifestRef{Hash: "abc", URL: "https://example.invalid/policy.json"},
		BootstrapAnchors: []BootstrapAnchor{
			{NodeID: "anchor-1", Endpoint: "127.0.0.1:9000"},
		},
	}
	sig, err := crypto.SignCanonical(root, payload)
	require.NoError(t, err)
	return &GenesisBlock{
		GenesisPayload: payload,
		Signatures: []Signature{{
			KeyID:     string(root.NodeId()),
			Signature: b64(sig),
		}},
	}
}

func TestChainVerifiesValidCertificate(t *testing.T) {
	root, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	authority, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	subject, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	g := testGenesis(t, root, authority)
	chain, err := NewChain(g)
	require.NoError(t, err)

	now := time.Now()
	cert, err := IssueJoinCertificate(authority, JoinCertificatePayload{
		SubjectPubKey: string(subject.NodeId()),
		Roles:         []string{"client"},
		NetworkID:     chain.NetworkID(),
		IssuedAt:      now.Add(-time.Minute),
		ExpiresAt:     now.Add(time.Hour),
		Serial:        1,
		IssuerKeyID:   string(authority.NodeId()),
	})
	require.NoError(t, err)

	require.NoError(t, chain.VerifyCertificate(cert, now))
}

func TestChainRejectsExpiredCertificate(t *testing.T) {
	root, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	authority, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	subject, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	g := testGenesis(t, root, authority)
	chain, err := NewChain(g)
	require.NoError(t, err)

	now := time.Now()
	cert, err := IssueJoinCertificate(authority, JoinCertificatePayload{
		SubjectPubKey: string(subject.NodeId()),
		NetworkID:     chain.NetworkID(),
		IssuedAt:      now.Add(-2 * time.Hour),
		ExpiresAt:     now.Add(-time.Hour),
		Serial:        2,
		IssuerKeyID:   string(authority.NodeId()),
	})
	require.NoError(t, err)

	require.ErrorIs(t, chain.VerifyCertificate(cert, now), ErrCertExpired)
}

func TestChainRejectsRevokedCertificate(t *testing.T) {
	root, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	authority, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	subject, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	g := testGenesis(t, root, authority)
	chain, err := NewChain(g)
	require.NoError(t, err)

	now := time.Now()
	cert, err := IssueJoinCertificate(authority, JoinCertificatePayload{
		SubjectPubKey: string(subject.NodeId()),
		NetworkID:     chain.NetworkID(),
		IssuedAt:      now.Add(-time.Minute),
		ExpiresAt:     now.Add(time.Hour),
		Serial:        3,
		IssuerKeyID:   string(authority.NodeId()),
	})
	require.NoError(t, err)

	crl, err := IssueCRL(authority, CRLPayload{
		Sequence: 1,
		IssuedAt: now,
		Revocations: []Revocation{
			{SubjectPubKey: string(subject.NodeId()), Reason: "compromised", RevokedAt: now},
		},
	})
	require.NoError(t, err)
	chain.UpdateCRL(crl)

	require.ErrorIs(t, chain.VerifyCertificate(cert, now), ErrCertRevoked)
}

func TestChainRejectsUnknownAuthority(t *testing.T) {
	root, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	authority, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	impostor, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	subject, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	g := testGenesis(t, root, authority)
	chain, err := NewChain(g)
	require.NoError(t, err)

	now := time.Now()
	cert, err := IssueJoinCertificate(impostor, JoinCertificatePayload{
		SubjectPubKey: string(subject.NodeId()),
		NetworkID:     chain.NetworkID(),
		IssuedAt:      now.Add(-time.Minute),
		ExpiresAt:     now.Add(time.Hour),
		Serial:        4,
		IssuerKeyID:   string(impostor.NodeId()),
	})
	require.NoError(t, err)

	require.ErrorIs(t, chain.VerifyCertificate(cert, now), ErrNoActiveAuthority)
}

func TestChainAppliesAuthorityRotation(t *testing.T) {
	root, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	authority, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	successor, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	subject, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	g := testGenesis(t, root, authority)
	chain, err := NewChain(g)
	require.NoError(t, err)

	now := time.Now()
	rotationPayload := AuthorityRotationPayload{
		Predecessor: string(authority.NodeId()),
		Successor: AuthorityKey{
			PublicKey: string(successor.NodeId()),
			ValidFrom: now,
			ValidTo:   now.Add(48 * time.Hour),
		},
	}
	sig, err := crypto.SignCanonical(root, rotationPayload)
	require.NoError(t, err)
	rotation := &AuthorityRotation{
		AuthorityRotationPayload: rotationPayload,
		Signature:                b64(sig),
	}
	require.NoError(t, chain.ApplyRotation(rotation))

	cert, err := IssueJoinCertificate(successor, JoinCertificatePayload{
		SubjectPubKey: string(subject.NodeId()),
		NetworkID:     chain.NetworkID(),
		IssuedAt:      now.Add(time.Minute),
		ExpiresAt:     now.Add(time.Hour),
		Serial:        5,
		IssuerKeyID:   string(successor.NodeId()),
	})
	require.NoError(t, err)
	require.NoError(t, chain.VerifyCertificate(cert, now.Add(time.Minute)))
}
