package crl

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"genesismesh/crypto"
	"genesismesh/trust"
)

func b64(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

func testChain(t *testing.T) (*trust.Chain, *crypto.PrivateKey) {
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
	return chain, authority
}

func signCRL(t *testing.T, authority *crypto.PrivateKey, seq uint64, revoked ...string) *trust.CRL {
	t.Helper()
	var revocations []trust.Revocation
	for _, r := range revoked {
		revocations = append(revocations, trust.Revocation{SubjectPubKey: r, Reason: "compromised", RevokedAt: time.Now()})
	}
	list, err := trust.IssueCRL(authority, trust.CRLPayload{
		Sequence:    seq,
		IssuedAt:    time.Now(),
		IssuerKeyID: string(authority.NodeId()),
		Revocations: revocations,
	})
	require.NoError(t, err)
	return list
}

func TestStoreAcceptsMonotonicSequences(t *testing.T) {
	chain, authority := testChain(t)
	store := NewStore(chain, nil)

	first := signCRL(t, authority, 1, "node-a")
	fresh, err := store.Accept(first, time.Now())
	require.NoError(t, err)
	require.Equal(t, []string{"node-a"}, fresh)
	require.Equal(t, uint64(1), store.Sequence())

	second := signCRL(t, authority, 2, "node-a", "node-b")
	fresh, err = store.Accept(second, time.Now())
	require.NoError(t, err)
	require.Equal(t, []string{"node-b"}, fresh)
	require.Equal(t, uint64(2), store.Sequence())
}

func TestStoreRejectsStaleSequence(t *testing.T) {
	chain, authority := testChain(t)
	store := NewStore(chain, nil)

	first := signCRL(t, authority, 5)
	_, err := store.Accept(first, time.Now())
	require.NoError(t, err)

	stale := signCRL(t, authority, 3)
	_, err = store.Accept(stale, time.Now())
	require.ErrorIs(t, err, ErrStaleSequence)
	require.Equal(t, uint64(5), store.Sequence())
}

func TestStoreRejectsUnsignedCRL(t *testing.T) {
	chain, authority := testChain(t)
	store := NewStore(chain, nil)

	forged := signCRL(t, authority, 1)
	forged.Signature = b64([]byte("not-a-real-signature-of-correct-length-000000"))
	_, err := store.Accept(forged, time.Now())
	require.Error(t, err)
}
