package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
)

// VerifyChain reads the audit file at path end to end and confirms every
// event's PrevHash matches its predecessor's ThisHash, every ThisHash is
// correctly computed, and sequence numbers are contiguous from zero. It
// returns the number of events verified, or an error identifying the first
// broken link — this is the testable "tamper detection" property.
func VerifyChain(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("audit: open for verify: %w", err)
	}
	defer f.Close()

	prevHash := GenesisHash
	var wantSeq uint64
	count := 0

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var ev Event
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			return count, fmt.Errorf("audit: event %d: malformed JSON: %w", count, err)
		}
		if ev.Sequence != wantSeq {
			return count, fmt.Errorf("audit: event at line %d: sequence %d, want %d", count+1, ev.Sequence, wantSeq)
		}
		if ev.PrevHash != prevHash {
			return count, fmt.Errorf("audit: event %d: prevHash mismatch, chain broken", ev.Sequence)
		}
		want, err := hashEvent(ev)
		if err != nil {
			return count, err
		}
		if ev.ThisHash != want {
			return count, fmt.Errorf("audit: event %d: thisHash mismatch, tampering detected", ev.Sequence)
		}
		prevHash = ev.ThisHash
		wantSeq++
		count++
	}
	if err := sc.Err(); err != nil {
		return count, fmt.Errorf("audit: scan: %w", err)
	}
	return count, nil
}
