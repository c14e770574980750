package p2p

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"genesismesh/crypto"
)

func newTestPeer(t *testing.T, nodeID string) *Peer {
	t.Helper()
	server := NewServer(Config{ListenAddress: "127.0.0.1:0"}, nil, nil, nil, nil, nil, nil)
	local, remote := net.Pipe()
	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	peer := newPeer(server, local, bufio.NewReader(local), false, false, "peer-under-test")
	peer.nodeID = crypto.NodeId(nodeID)
	return peer
}

func TestEnqueueDropsOldestNonControlOnBackpressure(t *testing.T) {
	peer := newTestPeer(t, "peer-a")

	for i := 0; i < outboundQueueSize; i++ {
		require.NoError(t, peer.Enqueue(KindRouteAnnounce, []byte(fmt.Sprintf("msg-%d", i))))
	}

	require.NoError(t, peer.Enqueue(KindRouteAnnounce, []byte("extra")))

	var drained []string
	for {
		select {
		case f := <-peer.outbound:
			drained = append(drained, string(f.payload))
			continue
		default:
		}
		break
	}

	require.Len(t, drained, outboundQueueSize)
	require.Equal(t, "msg-1", drained[0], "oldest frame (msg-0) should have been evicted")
	require.Equal(t, "extra", drained[len(drained)-1])
}

func TestEnqueueNeverDropsControlAndFailsOnSaturation(t *testing.T) {
	peer := newTestPeer(t, "peer-b")

	for i := 0; i < outboundQueueSize; i++ {
		require.NoError(t, peer.Enqueue(KindControl, []byte(fmt.Sprintf("ctl-%d", i))))
	}

	err := peer.Enqueue(KindControl, []byte("overflow"))
	require.ErrorIs(t, err, errQueueFull)
	require.Equal(t, stateFailed, peer.State())

	var kinds []Kind
	for {
		select {
		case f, ok := <-peer.outbound:
			if !ok {
				break
			}
			kinds = append(kinds, f.kind)
			continue
		default:
		}
		break
	}
	require.Len(t, kinds, outboundQueueSize, "every originally queued control frame must survive")
}

func TestOnPongClearsAwaitingAndReportsRTT(t *testing.T) {
	peer := newTestPeer(t, "peer-c")

	peer.pingMu.Lock()
	peer.pingNonce = 7
	peer.awaitingPong = true
	peer.lastPingSent = time.Now().Add(-25 * time.Millisecond)
	peer.pingMu.Unlock()

	rtt := peer.OnPong(7)
	require.Greater(t, rtt, time.Duration(0))

	peer.pingMu.Lock()
	awaiting := peer.awaitingPong
	missed := peer.missedPongs
	peer.pingMu.Unlock()
	require.False(t, awaiting)
	require.Zero(t, missed)
}

func TestOnPongIgnoresMismatchedNonce(t *testing.T) {
	peer := newTestPeer(t, "peer-d")

	peer.pingMu.Lock()
	peer.pingNonce = 3
	peer.awaitingPong = true
	peer.lastPingSent = time.Now()
	peer.pingMu.Unlock()

	rtt := peer.OnPong(99)
	require.Zero(t, rtt)

	peer.pingMu.Lock()
	awaiting := peer.awaitingPong
	peer.pingMu.Unlock()
	require.True(t, awaiting, "a stale reply must not clear the outstanding ping")
}
