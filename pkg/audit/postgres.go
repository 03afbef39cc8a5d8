package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/Mindburn-Labs/tribunal/pkg/chain"
)

// PostgresSink persists audit records to PostgreSQL for shared deployments.
// Appends run at SERIALIZABLE isolation; a serialization failure or unique
// violation means another writer extended the head, and the append retries
// against the new head.
type PostgresSink struct {
	db    *sql.DB
	clock func() time.Time
}

const postgresAppendRetries = 5

func NewPostgresSink(db *sql.DB) (*PostgresSink, error) {
	s := &PostgresSink{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenPostgresSink connects using a lib/pq connection string.
func OpenPostgresSink(connStr string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return NewPostgresSink(db)
}

// WithClock replaces the timestamp source, for tests.
func (s *PostgresSink) WithClock(clock func() time.Time) *PostgresSink {
	s.clock = clock
	return s
}

func (s *PostgresSink) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_records (
        record_id TEXT PRIMARY KEY,
        sequence BIGINT NOT NULL UNIQUE,
        chain_id TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        payload JSONB NOT NULL,
        prev_hash TEXT NOT NULL UNIQUE,
        record_hash TEXT NOT NULL UNIQUE
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *PostgresSink) Append(ctx context.Context, export *chain.RunExport) (*Record, error) {
	payload, err := json.Marshal(export)
	if err != nil {
		return nil, fmt.Errorf("serialize run export: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < postgresAppendRetries; attempt++ {
		rec, err := s.appendOnce(ctx, export.ChainID, payload)
		if err == nil {
			return rec, nil
		}
		// Only a lost head race is worth retrying; plain I/O failures
		// surface as themselves.
		if !pgHeadConflict(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrConflict, lastErr)
}

// pgHeadConflict reports whether err means another writer extended the head
// first: a serialization failure of the SERIALIZABLE transaction, a deadlock,
// or the UNIQUE violation on prev_hash.
func pgHeadConflict(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	switch pqErr.Code {
	case "40001", "40P01", "23505":
		return true
	}
	return false
}

func (s *PostgresSink) appendOnce(ctx context.Context, chainID string, payload []byte) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
        SELECT record_hash, sequence FROM audit_records
        ORDER BY sequence DESC LIMIT 1`)
	head := GenesisBlock
	var seq uint64
	if err := row.Scan(&head, &seq); err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("read chain head: %w", err)
	}

	next := seq + 1
	ts := timestampNow(s.clock)
	hash, err := recordHash(next, chainID, ts, payload, head)
	if err != nil {
		return nil, fmt.Errorf("compute record hash: %w", err)
	}

	rec := Record{
		RecordID:   uuid.New().String(),
		Sequence:   next,
		ChainID:    chainID,
		Timestamp:  ts,
		Payload:    payload,
		PrevHash:   head,
		RecordHash: hash,
	}
	_, err = tx.ExecContext(ctx, `
        INSERT INTO audit_records (record_id, sequence, chain_id, timestamp, payload, prev_hash, record_hash)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.RecordID, rec.Sequence, rec.ChainID, rec.Timestamp, string(rec.Payload), rec.PrevHash, rec.RecordHash,
	)
	if err != nil {
		return nil, fmt.Errorf("insert audit record: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}
	return &rec, nil
}

func (s *PostgresSink) LastHash(ctx context.Context) (string, error) {
	row := s.db.QueryRowContext(ctx, `
        SELECT record_hash FROM audit_records
        ORDER BY sequence DESC LIMIT 1`)
	var head string
	if err := row.Scan(&head); err != nil {
		if err == sql.ErrNoRows {
			return GenesisBlock, nil
		}
		return "", fmt.Errorf("read chain head: %w", err)
	}
	return head, nil
}

func (s *PostgresSink) Verify(ctx context.Context) (VerifyResult, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return VerifyResult{}, err
	}
	return verifyRecords(records), nil
}

// Records returns the full log, oldest first.
func (s *PostgresSink) Records(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT record_id, sequence, chain_id, timestamp, payload, prev_hash, record_hash
        FROM audit_records ORDER BY sequence ASC`)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []Record
	for rows.Next() {
		var rec Record
		var payload string
		if err := rows.Scan(&rec.RecordID, &rec.Sequence, &rec.ChainID, &rec.Timestamp, &payload, &rec.PrevHash, &rec.RecordHash); err != nil {
			return nil, err
		}
		rec.Payload = json.RawMessage(payload)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

// Close releases the underlying database handle.
func (s *PostgresSink) Close() error {
	return s.db.Close()
}
