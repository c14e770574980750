package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestRegistryRecordsHandshakesAndErrors(t *testing.T) {
	r := Get()
	r.RecordHandshake("success")
	r.RecordError("BadSignature")
	r.SetPeerCount(3)
	r.SetRouteCount(7)
	r.SetCrlSequence(42)

	require.Equal(t, float64(1), testutil.ToFloat64(r.handshakes.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(r.errorsByKind.WithLabelValues("BadSignature")))
	require.Equal(t, float64(3), testutil.ToFloat64(r.peerCount))
	require.Equal(t, float64(7), testutil.ToFloat64(r.routeCount))
	require.Equal(t, float64(42), testutil.ToFloat64(r.crlSequence))
}

func TestRegistryRemovesPeerLabels(t *testing.T) {
	r := Get()
	r.ObservePeerScore("peer-x", 0.75)
	require.Equal(t, float64(0.75), testutil.ToFloat64(r.peerScore.WithLabelValues("peer-x")))
	r.RemovePeer("peer-x")
}
