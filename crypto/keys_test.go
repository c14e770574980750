package crypto

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, err := GeneratePrivateKey()
	require.NoError(t, err)

	type payload struct {
		A string
		B int
	}
	p := payload{A: "hello", B: 7}

	sig, err := SignCanonical(priv, p)
	require.NoError(t, err)
	require.NoError(t, VerifyCanonical(priv.PubKey(), p, sig))

	p.B = 8
	require.ErrorIs(t, VerifyCanonical(priv.PubKey(), p, sig), ErrBadSignature)
}

func TestNodeIdRoundTrip(t *testing.T) {
	priv, err := GeneratePrivateKey()
	require.NoError(t, err)

	id := priv.NodeId()
	pub, err := PublicKeyFromNodeId(id)
	require.NoError(t, err)
	require.Equal(t, priv.PubKey().Bytes(), pub.Bytes())
}

func TestLoadOrCreateIdentityPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "keys", "node.key")

	first, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)

	second, err := LoadOrCreateIdentity(path)
	require.NoError(t, err)

	require.Equal(t, first.NodeId(), second.NodeId())
	require.FileExists(t, filepath.Join(dir, "keys", "node.pub"))
}
