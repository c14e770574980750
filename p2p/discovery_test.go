package p2p

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"genesismesh/crypto"
)

func TestEvictStaleSkipsActivelyConnectedPeer(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenPeerstore(filepath.Join(dir, "peers.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	server := NewServer(Config{ListenAddress: "127.0.0.1:0"}, nil, nil, nil, nil, store, nil)

	staleTime := time.Now().Add(-time.Hour)
	require.NoError(t, store.Put(PeerstoreEntry{NodeID: "connected-peer", LastSeen: staleTime}))
	require.NoError(t, store.Put(PeerstoreEntry{NodeID: "gone-peer", LastSeen: staleTime}))

	peer := &Peer{nodeID: crypto.NodeId("connected-peer")}
	server.mu.Lock()
	server.peers[peer.nodeID] = peer
	server.mu.Unlock()

	d := NewDiscovery(server, nil, "", time.Minute, 30*time.Minute)
	d.evictStale()

	_, stillThere := store.Get("connected-peer")
	require.True(t, stillThere, "an actively connected peer must survive eviction despite a stale LastSeen")

	_, goneRemains := store.Get("gone-peer")
	require.False(t, goneRemains, "a peer with no active connection past the stale timeout should be evicted")
}

func TestEvictStaleSkipsPersistentPeer(t *testing.T) {
	dir := t.TempDir()
	store, err := OpenPeerstore(filepath.Join(dir, "peers.db"), "")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	server := NewServer(Config{ListenAddress: "127.0.0.1:0"}, nil, nil, nil, nil, store, nil)
	require.NoError(t, store.Put(PeerstoreEntry{NodeID: "anchor", LastSeen: time.Now().Add(-time.Hour), Persistent: true}))

	d := NewDiscovery(server, nil, "", time.Minute, 30*time.Minute)
	d.evictStale()

	_, stillThere := store.Get("anchor")
	require.True(t, stillThere, "a persistent peer must never be evicted for staleness")
}
