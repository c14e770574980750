package p2p

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// PeerstoreEntry captures the durable dial metadata kept for each known
// peer, mirroring the node repo's Peerstore record shape.
type PeerstoreEntry struct {
	NodeID    string    `json:"nodeId"`
	Endpoint  string     `json:"endpoint"`
	LastSeen  time.Time `json:"lastSeen"`
	Fails     int       `json:"fails"`
	Score     float64   `json:"score"`
	Persistent bool     `json:"persistent"`
}

// Peerstore is a LevelDB-backed persistent peer registry with a JSON
// snapshot warm-start path (state/peers.json), so operators can seed or
// inspect known peers without a LevelDB client.
type Peerstore struct {
	mu sync.RWMutex
	db *leveldb.DB

	snapshotPath string
}

// OpenPeerstore opens (creating if absent) a LevelDB peerstore at dbPath. If
// the database is empty and snapshotPath exists, its contents are imported
// as the initial peer set — the file-layout warm-start path spec.md
// requires at state/peers.json.
func OpenPeerstore(dbPath, snapshotPath string) (*Peerstore, error) {
	db, err := leveldb.OpenFile(filepath.Clean(dbPath), nil)
	if err != nil {
		return nil, fmt.Errorf("p2p: open peerstore: %w", err)
	}
	ps := &Peerstore{db: db, snapshotPath: snapshotPath}
	empty, err := ps.isEmpty()
	if err != nil {
		db.Close()
		return nil, err
	}
	if empty && snapshotPath != "" {
		if err := ps.importSnapshot(snapshotPath); err != nil {
			db.Close()
			return nil, err
		}
	}
	return ps, nil
}

func (ps *Peerstore) isEmpty() (bool, error) {
	iter := ps.db.NewIterator(nil, nil)
	defer iter.Release()
	has := iter.Next()
	return !has, iter.Error()
}

func (ps *Peerstore) importSnapshot(path string) error {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("p2p: read peer snapshot: %w", err)
	}
	var entries []PeerstoreEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return fmt.Errorf("p2p: decode peer snapshot: %w", err)
	}
	for _, e := range entries {
		if err := ps.Put(e); err != nil {
			return err
		}
	}
	return nil
}

// Put upserts a peer record.
func (ps *Peerstore) Put(entry PeerstoreEntry) error {
	if entry.NodeID == "" {
		return fmt.Errorf("p2p: peerstore entry missing nodeId")
	}
	buf, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.db.Put([]byte(entry.NodeID), buf, nil)
}

// Get looks up a peer record by NodeID.
func (ps *Peerstore) Get(nodeID string) (PeerstoreEntry, bool) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	raw, err := ps.db.Get([]byte(nodeID), nil)
	if err != nil {
		return PeerstoreEntry{}, false
	}
	var entry PeerstoreEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return PeerstoreEntry{}, false
	}
	return entry, true
}

// RecordSuccess resets a peer's failure streak and marks it recently seen.
func (ps *Peerstore) RecordSuccess(nodeID string, now time.Time) error {
	entry, _ := ps.Get(nodeID)
	entry.NodeID = nodeID
	entry.Fails = 0
	entry.LastSeen = now
	return ps.Put(entry)
}

// RecordFailure increments a peer's failure streak.
func (ps *Peerstore) RecordFailure(nodeID string, now time.Time) error {
	entry, _ := ps.Get(nodeID)
	entry.NodeID = nodeID
	entry.Fails++
	return ps.Put(entry)
}

// Snapshot returns every stored entry, e.g. for dial candidate selection or
// writing back to state/peers.json.
func (ps *Peerstore) Snapshot() []PeerstoreEntry {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	iter := ps.db.NewIterator(&util.Range{}, nil)
	defer iter.Release()
	var out []PeerstoreEntry
	for iter.Next() {
		var entry PeerstoreEntry
		if err := json.Unmarshal(iter.Value(), &entry); err == nil {
			out = append(out, entry)
		}
	}
	return out
}

// Delete removes a peer record entirely, e.g. once it is confirmed stale.
func (ps *Peerstore) Delete(nodeID string) error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.db.Delete([]byte(nodeID), nil)
}

// WriteSnapshot persists the current peer set to path in the state/peers.json
// warm-start format.
func (ps *Peerstore) WriteSnapshot(path string) error {
	entries := ps.Snapshot()
	buf, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, buf, 0o644)
}

// Close releases the underlying database.
func (ps *Peerstore) Close() error {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.db.Close()
}
