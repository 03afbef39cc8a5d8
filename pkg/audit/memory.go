package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/tribunal/pkg/chain"
)

// MemorySink is an in-process audit log. The mutex is the serialization
// point: read-head, compute-hash and append happen under one lock.
type MemorySink struct {
	mu       sync.RWMutex
	records  []Record
	sequence uint64
	head     string
	clock    func() time.Time
}

func NewMemorySink() *MemorySink {
	return &MemorySink{head: GenesisBlock, clock: time.Now}
}

// WithClock replaces the timestamp source, for tests.
func (s *MemorySink) WithClock(clock func() time.Time) *MemorySink {
	s.clock = clock
	return s
}

func (s *MemorySink) Append(_ context.Context, export *chain.RunExport) (*Record, error) {
	payload, err := json.Marshal(export)
	if err != nil {
		return nil, fmt.Errorf("serialize run export: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.sequence + 1
	ts := timestampNow(s.clock)
	hash, err := recordHash(seq, export.ChainID, ts, payload, s.head)
	if err != nil {
		return nil, fmt.Errorf("compute record hash: %w", err)
	}

	rec := Record{
		RecordID:   uuid.New().String(),
		Sequence:   seq,
		ChainID:    export.ChainID,
		Timestamp:  ts,
		Payload:    payload,
		PrevHash:   s.head,
		RecordHash: hash,
	}
	s.records = append(s.records, rec)
	s.sequence = seq
	s.head = hash
	return &rec, nil
}

func (s *MemorySink) LastHash(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.head, nil
}

func (s *MemorySink) Verify(_ context.Context) (VerifyResult, error) {
	s.mu.RLock()
	snapshot := make([]Record, len(s.records))
	copy(snapshot, s.records)
	s.mu.RUnlock()
	return verifyRecords(snapshot), nil
}

// Records returns a copy of the log, oldest first.
func (s *MemorySink) Records(_ context.Context) ([]Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out, nil
}
