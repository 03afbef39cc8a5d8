package audit

import (
	"context"

	"github.com/Mindburn-Labs/tribunal/pkg/chain"
)

// Sink is an append-only destination for completed run exports. Appends are
// serialized per backend: each record's prev_hash is the head observed inside
// the same critical section or transaction that writes it.
type Sink interface {
	// Append stores a run export and returns the persisted record.
	Append(ctx context.Context, export *chain.RunExport) (*Record, error)
	// LastHash returns the current chain head, GenesisBlock when empty.
	LastHash(ctx context.Context) (string, error)
	// Verify recomputes every record hash and checks the chain linkage,
	// localizing the first failing record. The error covers I/O only.
	Verify(ctx context.Context) (VerifyResult, error)
}
