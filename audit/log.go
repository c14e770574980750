package audit

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// GenesisHash is the fixed PrevHash of the first event in a fresh chain, per
// spec.md section 4.8.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Log is an append-only, hash-chained audit trail backed by a
// lumberjack-rotated JSON-lines file. Rotation parameters mirror the node
// repo's approach to its own structured log files: size-triggered rotation
// with a bounded number of retained backups.
type Log struct {
	nodeID string

	mu       sync.Mutex
	writer   *lumberjack.Logger
	buffered *bufio.Writer
	lastHash string
	sequence uint64
}

// Options configures rotation. Zero values fall back to sensible defaults
// (100MB per segment, 10 backups, no age limit, no compression — matching
// the conservative defaults the node repo would use for a log it never
// wants to lose).
type Options struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Open opens (creating if absent) the audit log at opts.Path and replays it
// to recover the current chain tip and next sequence number.
func Open(nodeID string, opts Options) (*Log, error) {
	if opts.MaxSizeMB <= 0 {
		opts.MaxSizeMB = 100
	}
	if opts.MaxBackups <= 0 {
		opts.MaxBackups = 10
	}

	lastHash, nextSeq, err := replayTip(opts.Path)
	if err != nil {
		return nil, err
	}

	lj := &lumberjack.Logger{
		Filename:   opts.Path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
	}

	return &Log{
		nodeID:   nodeID,
		writer:   lj,
		buffered: bufio.NewWriter(lj),
		lastHash: lastHash,
		sequence: nextSeq,
	}, nil
}

// replayTip reads an existing audit file end to end to recover the hash
// chain tip. A missing file is not an error — it means a fresh chain.
func replayTip(path string) (lastHash string, nextSeq uint64, err error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return GenesisHash, 0, nil
	}
	if err != nil {
		return "", 0, fmt.Errorf("audit: open existing log: %w", err)
	}
	defer f.Close()

	lastHash = GenesisHash
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return "", 0, fmt.Errorf("audit: corrupt event during replay: %w", err)
		}
		lastHash = ev.ThisHash
		nextSeq = ev.Sequence + 1
	}
	if err := sc.Err(); err != nil {
		return "", 0, fmt.Errorf("audit: scan existing log: %w", err)
	}
	return lastHash, nextSeq, nil
}

// Append computes ev's chain fields, writes it, and flushes to disk.
func (l *Log) Append(ev Event) (Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ev.Sequence = l.sequence
	ev.NodeID = l.nodeID
	ev.PrevHash = l.lastHash
	ev.ThisHash = ""

	hash, err := hashEvent(ev)
	if err != nil {
		return Event{}, err
	}
	ev.ThisHash = hash

	line, err := json.Marshal(ev)
	if err != nil {
		return Event{}, fmt.Errorf("audit: marshal event: %w", err)
	}
	if _, err := l.buffered.Write(append(line, '\n')); err != nil {
		return Event{}, fmt.Errorf("audit: write event: %w", err)
	}
	if err := l.buffered.Flush(); err != nil {
		return Event{}, fmt.Errorf("audit: flush event: %w", err)
	}

	l.lastHash = ev.ThisHash
	l.sequence++
	return ev, nil
}

// Close flushes buffered output and closes the underlying rotated file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.buffered.Flush(); err != nil {
		return err
	}
	return l.writer.Close()
}

func hashEvent(ev Event) (string, error) {
	unhashed := ev
	unhashed.ThisHash = ""
	buf, err := json.Marshal(unhashed)
	if err != nil {
		return "", fmt.Errorf("audit: marshal for hashing: %w", err)
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}
