package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGuardRejectsReplay(t *testing.T) {
	g := NewGuard(time.Minute, 16)
	now := time.Now()

	require.True(t, g.Remember("pu-42", now))
	require.False(t, g.Remember("pu-42", now.Add(time.Second)))
}

func TestGuardExpiresAfterWindow(t *testing.T) {
	g := NewGuard(time.Second, 16)
	now := time.Now()

	require.True(t, g.Remember("k", now))
	require.True(t, g.Remember("k", now.Add(2*time.Second)))
}

func TestGuardEvictsOldestOverCapacity(t *testing.T) {
	g := NewGuard(time.Hour, 2)
	now := time.Now()

	require.True(t, g.Remember("a", now))
	require.True(t, g.Remember("b", now))
	require.True(t, g.Remember("c", now))

	require.Equal(t, 2, g.Len())
	require.False(t, g.Seen("a", now))
	require.True(t, g.Seen("c", now))
}
