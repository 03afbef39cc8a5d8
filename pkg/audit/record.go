// Package audit persists completed run exports into an append-only,
// hash-chained audit log. Every backend serializes appends: the record hash
// binds the payload to the previous record, so two concurrent writers cannot
// both extend the same head.
package audit

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/Mindburn-Labs/tribunal/pkg/canonicalize"
)

// GenesisBlock anchors an empty audit log.
const GenesisBlock = "GENESIS_BLOCK"

var ErrConflict = errors.New("audit head moved during append")

// Record is a single immutable entry in the audit log.
type Record struct {
	RecordID   string          `json:"record_id"`
	Sequence   uint64          `json:"sequence"`
	ChainID    string          `json:"chain_id"`
	Timestamp  string          `json:"timestamp"`
	Payload    json.RawMessage `json:"payload"`
	PrevHash   string          `json:"prev_hash"`
	RecordHash string          `json:"record_hash"`
}

// recordHash binds the record to its predecessor. The payload participates
// through its canonical hash so a byte-level payload edit breaks the chain.
func recordHash(sequence uint64, chainID, timestamp string, payload []byte, prevHash string) (string, error) {
	payloadHash := canonicalize.HashBytes(payload)
	return canonicalize.CanonicalHash(map[string]any{
		"sequence":     sequence,
		"chain_id":     chainID,
		"timestamp":    timestamp,
		"payload_hash": payloadHash,
		"prev_hash":    prevHash,
	})
}

// VerifyResult reports an audit log verification: the first failing record's
// index when the chain is broken, so operators can localize corruption.
type VerifyResult struct {
	Valid         bool `json:"valid"`
	Count         int  `json:"count"`
	TamperedIndex *int `json:"tamperedIndex,omitempty"`
}

// verifyRecords walks a snapshot of the log, checking linkage and recomputing
// every record hash.
func verifyRecords(records []Record) VerifyResult {
	expectedPrev := GenesisBlock
	for i, rec := range records {
		if rec.PrevHash != expectedPrev {
			idx := i
			return VerifyResult{Count: len(records), TamperedIndex: &idx}
		}
		computed, err := recordHash(rec.Sequence, rec.ChainID, rec.Timestamp, rec.Payload, rec.PrevHash)
		if err != nil || computed != rec.RecordHash {
			idx := i
			return VerifyResult{Count: len(records), TamperedIndex: &idx}
		}
		expectedPrev = rec.RecordHash
	}
	return VerifyResult{Valid: true, Count: len(records)}
}

func timestampNow(clock func() time.Time) string {
	return clock().UTC().Format(time.RFC3339Nano)
}
