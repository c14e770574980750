package p2p

import (
	"bufio"
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"genesismesh/crypto"
)

func TestFrameRoundTripAndVerify(t *testing.T) {
	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, priv, KindPing, []byte(`{"nonce":1}`)))

	frame, err := ReadFrame(bufio.NewReader(&buf), 1<<20)
	require.NoError(t, err)
	require.Equal(t, KindPing, frame.Kind)
	require.NoError(t, frame.Verify(priv.PubKey()))
}

func TestFrameVerifyRejectsWrongKey(t *testing.T) {
	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	other, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, priv, KindPong, []byte(`{}`)))

	frame, err := ReadFrame(bufio.NewReader(&buf), 1<<20)
	require.NoError(t, err)
	require.ErrorIs(t, frame.Verify(other.PubKey()), ErrFrameSignature)
}

func TestReadFrameRejectsOversizedPayload(t *testing.T) {
	priv, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, priv, KindPing, make([]byte, 128)))

	_, err = ReadFrame(bufio.NewReader(&buf), 64)
	require.ErrorIs(t, err, ErrFrameTooLarge)
}
