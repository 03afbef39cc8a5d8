package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/tribunal/pkg/chain"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// SQLiteSink persists audit records to a local SQLite database. Each append
// reads the head and inserts inside one transaction; a concurrent append
// that moved the head surfaces as a UNIQUE violation on prev_hash and is
// retried against the new head.
type SQLiteSink struct {
	db    *sql.DB
	clock func() time.Time
}

const sqliteAppendRetries = 5

func NewSQLiteSink(db *sql.DB) (*SQLiteSink, error) {
	s := &SQLiteSink{db: db, clock: time.Now}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// OpenSQLiteSink opens (or creates) the database at path. WAL mode plus a
// busy timeout lets concurrent handles on the same file queue on the write
// lock instead of failing immediately.
func OpenSQLiteSink(path string) (*SQLiteSink, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	return NewSQLiteSink(db)
}

// WithClock replaces the timestamp source, for tests.
func (s *SQLiteSink) WithClock(clock func() time.Time) *SQLiteSink {
	s.clock = clock
	return s
}

func (s *SQLiteSink) migrate() error {
	query := `
    CREATE TABLE IF NOT EXISTS audit_records (
        record_id TEXT PRIMARY KEY,
        sequence INTEGER NOT NULL UNIQUE,
        chain_id TEXT NOT NULL,
        timestamp TEXT NOT NULL,
        payload JSON NOT NULL,
        prev_hash TEXT NOT NULL UNIQUE,
        record_hash TEXT NOT NULL UNIQUE
    );`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLiteSink) Append(ctx context.Context, export *chain.RunExport) (*Record, error) {
	payload, err := json.Marshal(export)
	if err != nil {
		return nil, fmt.Errorf("serialize run export: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < sqliteAppendRetries; attempt++ {
		rec, err := s.appendOnce(ctx, export.ChainID, payload)
		if err == nil {
			return rec, nil
		}
		// Only a lost head race is worth retrying; plain I/O failures
		// surface as themselves.
		if !sqliteHeadConflict(err) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %w", ErrConflict, lastErr)
}

// sqliteHeadConflict reports whether err means another writer extended the
// head first: the UNIQUE violation on prev_hash, or the database lock
// contention that precedes it.
func sqliteHeadConflict(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_CONSTRAINT, sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func (s *SQLiteSink) appendOnce(ctx context.Context, chainID string, payload []byte) (*Record, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	head, seq, err := headLocked(ctx, tx)
	if err != nil {
		return nil, err
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
        VALUES (?, ?, ?, ?, ?, ?, ?)`,
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

func headLocked(ctx context.Context, tx *sql.Tx) (string, uint64, error) {
	row := tx.QueryRowContext(ctx, `
        SELECT record_hash, sequence FROM audit_records
        ORDER BY sequence DESC LIMIT 1`)
	var head string
	var seq uint64
	if err := row.Scan(&head, &seq); err != nil {
		if err == sql.ErrNoRows {
			return GenesisBlock, 0, nil
		}
		return "", 0, fmt.Errorf("read chain head: %w", err)
	}
	return head, seq, nil
}

func (s *SQLiteSink) LastHash(ctx context.Context) (string, error) {
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

func (s *SQLiteSink) Verify(ctx context.Context) (VerifyResult, error) {
	records, err := s.Records(ctx)
	if err != nil {
		return VerifyResult{}, err
	}
	return verifyRecords(records), nil
}

// Records returns the full log, oldest first.
func (s *SQLiteSink) Records(ctx context.Context) ([]Record, error) {
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
func (s *SQLiteSink) Close() error {
	return s.db.Close()
}
