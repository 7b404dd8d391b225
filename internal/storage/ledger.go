package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// LedgerEntry records the last completed ingest of a table for an owner
type LedgerEntry struct {
	OwnerID     string
	SourceTable string
	RunID       string
	CompletedAt time.Time
}

// DuckDBLedger persists ingest freshness in the ingest_ledger table so it
// survives restarts
type DuckDBLedger struct {
	db *DB
}

// NewDuckDBLedger returns a ledger over an initialized database
func NewDuckDBLedger(db *DB) *DuckDBLedger {
	return &DuckDBLedger{db: db}
}

// LastCompleted returns the last completed ingest for (owner, table)
func (l *DuckDBLedger) LastCompleted(ctx context.Context, owner, table string) (LedgerEntry, bool, error) {
	entry := LedgerEntry{OwnerID: owner, SourceTable: table}

	err := l.db.SQL().QueryRowContext(ctx, `
		SELECT run_id, completed_at
		FROM ingest_ledger
		WHERE owner_id = ? AND source_table = ?`, owner, table).Scan(&entry.RunID, &entry.CompletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return LedgerEntry{}, false, nil
	}

	if err != nil {
		return LedgerEntry{}, false, fmt.Errorf("failed to read ingest ledger: %w", err)
	}

	return entry, true, nil
}

// MarkCompleted records a completed ingest, replacing any earlier entry
func (l *DuckDBLedger) MarkCompleted(ctx context.Context, entry LedgerEntry) error {
	_, err := l.db.SQL().ExecContext(ctx, `
		INSERT INTO ingest_ledger (owner_id, source_table, run_id, completed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id, source_table) DO UPDATE
		SET run_id = EXCLUDED.run_id, completed_at = EXCLUDED.completed_at`,
		entry.OwnerID, entry.SourceTable, entry.RunID, entry.CompletedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to update ingest ledger: %w", err)
	}

	return nil
}

// Reset forgets every entry for owner
func (l *DuckDBLedger) Reset(ctx context.Context, owner string) error {
	if _, err := l.db.SQL().ExecContext(ctx, "DELETE FROM ingest_ledger WHERE owner_id = ?", owner); err != nil {
		return fmt.Errorf("failed to reset ingest ledger: %w", err)
	}

	return nil
}
