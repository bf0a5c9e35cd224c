package network

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	record "github.com/libp2p/go-libp2p-record"
)

// entry is the envelope every value is stored in. Seq orders writes so the
// DHT keeps the most recent one (last write wins).
type entry struct {
	Seq   int64  `json:"seq"`
	Value []byte `json:"value"`
}

var errNoValidEntry = errors.New("no valid entry among candidates")

func encodeEntry(seq int64, value []byte) ([]byte, error) {
	return json.Marshal(entry{Seq: seq, Value: value})
}

func decodeEntry(data []byte) (entry, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return entry{}, fmt.Errorf("malformed entry: %w", err)
	}
	if e.Seq <= 0 {
		return entry{}, fmt.Errorf("malformed entry: missing sequence number")
	}
	return e, nil
}

// entryValidator validates records under the node's namespace.
type entryValidator struct{}

var _ record.Validator = entryValidator{}

func (entryValidator) Validate(_ string, value []byte) error {
	_, err := decodeEntry(value)
	return err
}

// Select returns the index of the entry with the highest sequence number.
// Ties keep the earlier candidate, which kad-dht passes as the incoming value.
func (entryValidator) Select(_ string, values [][]byte) (int, error) {
	best := -1
	var bestSeq int64
	for i, v := range values {
		e, err := decodeEntry(v)
		if err != nil {
			continue
		}
		if best == -1 || e.Seq > bestSeq {
			best = i
			bestSeq = e.Seq
		}
	}
	if best == -1 {
		return 0, errNoValidEntry
	}
	return best, nil
}

// sequencer hands out strictly increasing sequence numbers based on wall time
type sequencer struct {
	mu   sync.Mutex
	last int64
}

func (s *sequencer) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := time.Now().UnixNano()
	if seq <= s.last {
		seq = s.last + 1
	}
	s.last = seq
	return seq
}
