package routing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"genesismesh/crypto"
)

func TestUpdatePrefersHigherSequence(t *testing.T) {
	tbl := NewTable()
	dest := crypto.NodeId("dest")

	require.True(t, tbl.Update(Entry{Destination: dest, NextHop: "a", Sequence: 2, Metric: 5, UpdatedAt: time.Now()}))
	require.False(t, tbl.Update(Entry{Destination: dest, NextHop: "b", Sequence: 0, Metric: 1, UpdatedAt: time.Now()}))

	entry, ok := tbl.Lookup(dest)
	require.True(t, ok)
	require.Equal(t, crypto.NodeId("a"), entry.NextHop)

	require.True(t, tbl.Update(Entry{Destination: dest, NextHop: "b", Sequence: 4, Metric: 100, UpdatedAt: time.Now()}))
	entry, ok = tbl.Lookup(dest)
	require.True(t, ok)
	require.Equal(t, crypto.NodeId("b"), entry.NextHop)
}

func TestUpdatePrefersLowerMetricOnSequenceTie(t *testing.T) {
	tbl := NewTable()
	dest := crypto.NodeId("dest")

	tbl.Update(Entry{Destination: dest, NextHop: "a", Sequence: 2, Metric: 5, UpdatedAt: time.Now()})
	require.True(t, tbl.Update(Entry{Destination: dest, NextHop: "b", Sequence: 2, Metric: 1, UpdatedAt: time.Now()}))

	entry, _ := tbl.Lookup(dest)
	require.Equal(t, uint32(1), entry.Metric)
}

func TestEvictStaleRemovesOldEntries(t *testing.T) {
	tbl := NewTable()
	dest := crypto.NodeId("dest")
	old := time.Now().Add(-time.Hour)
	tbl.Update(Entry{Destination: dest, NextHop: "a", Sequence: 2, UpdatedAt: old})

	removed := tbl.EvictStale(time.Now(), time.Minute)
	require.Equal(t, []crypto.NodeId{dest}, removed)
	_, ok := tbl.Lookup(dest)
	require.False(t, ok)
}

func TestRouterDropsDuplicatePayload(t *testing.T) {
	tbl := NewTable()
	self := crypto.NodeId("self")
	dest := crypto.NodeId("dest")
	tbl.Update(Entry{Destination: dest, NextHop: "next", Sequence: 2, UpdatedAt: time.Now()})
	r := NewRouter(self, tbl)

	dir, hop, ttl, err := r.Decide("p1", dest, 5)
	require.NoError(t, err)
	require.Equal(t, DirectionForward, dir)
	require.Equal(t, crypto.NodeId("next"), hop)
	require.Equal(t, uint8(4), ttl)

	_, _, _, err = r.Decide("p1", dest, 5)
	require.ErrorIs(t, err, ErrDuplicatePayload)
}

func TestRouterDeliversLocalAndDropsOnNoRoute(t *testing.T) {
	tbl := NewTable()
	self := crypto.NodeId("self")
	r := NewRouter(self, tbl)

	dir, _, _, err := r.Decide("p2", self, 5)
	require.NoError(t, err)
	require.Equal(t, DirectionDeliverLocal, dir)

	_, _, _, err = r.Decide("p3", "unknown", 5)
	require.ErrorIs(t, err, ErrNoRoute)
}

func TestRouterDropsOnTTLExceeded(t *testing.T) {
	tbl := NewTable()
	self := crypto.NodeId("self")
	dest := crypto.NodeId("dest")
	tbl.Update(Entry{Destination: dest, NextHop: "next", Sequence: 2, UpdatedAt: time.Now()})
	r := NewRouter(self, tbl)

	_, _, _, err := r.Decide("p4", dest, 0)
	require.ErrorIs(t, err, ErrTTLExceeded)
}

func TestRouterDropsWhenTTLReachesZeroAfterDecrement(t *testing.T) {
	tbl := NewTable()
	self := crypto.NodeId("self")
	dest := crypto.NodeId("dest")
	tbl.Update(Entry{Destination: dest, NextHop: "next", Sequence: 2, UpdatedAt: time.Now()})
	r := NewRouter(self, tbl)

	dir, _, ttl, err := r.Decide("p5", dest, 1)
	require.ErrorIs(t, err, ErrTTLExceeded)
	require.Equal(t, DirectionDrop, dir)
	require.Zero(t, ttl, "a payload arriving with ttl=1 must be decremented to 0 and dropped at this hop")
}
