package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/kyleking/askdb/internal/storage"
)

// FreshnessLedger remembers when a (owner, table) ingest last completed
type FreshnessLedger interface {
	LastCompleted(ctx context.Context, owner, table string) (time.Time, bool, error)
	MarkCompleted(ctx context.Context, owner, table, runID string, at time.Time) error
	Reset(ctx context.Context, owner string) error
}

// MemoryLedger is a process-local ledger
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[[2]string]time.Time
}

// NewMemoryLedger creates an empty ledger
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{entries: make(map[[2]string]time.Time)}
}

func (l *MemoryLedger) LastCompleted(_ context.Context, owner, table string) (time.Time, bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	at, ok := l.entries[[2]string{owner, table}]

	return at, ok, nil
}

func (l *MemoryLedger) MarkCompleted(_ context.Context, owner, table, _ string, at time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries[[2]string{owner, table}] = at

	return nil
}

func (l *MemoryLedger) Reset(_ context.Context, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	for key := range l.entries {
		if key[0] == owner {
			delete(l.entries, key)
		}
	}

	return nil
}

// DuckDBLedger persists freshness in the ingest_ledger table
type DuckDBLedger struct {
	ledger *storage.DuckDBLedger
}

// NewDuckDBLedger wraps an initialized database
func NewDuckDBLedger(db *storage.DB) *DuckDBLedger {
	return &DuckDBLedger{ledger: storage.NewDuckDBLedger(db)}
}

func (l *DuckDBLedger) LastCompleted(ctx context.Context, owner, table string) (time.Time, bool, error) {
	entry, ok, err := l.ledger.LastCompleted(ctx, owner, table)
	if err != nil || !ok {
		return time.Time{}, ok, err
	}

	return entry.CompletedAt, true, nil
}

func (l *DuckDBLedger) MarkCompleted(ctx context.Context, owner, table, runID string, at time.Time) error {
	return l.ledger.MarkCompleted(ctx, storage.LedgerEntry{
		OwnerID:     owner,
		SourceTable: table,
		RunID:       runID,
		CompletedAt: at,
	})
}

func (l *DuckDBLedger) Reset(ctx context.Context, owner string) error {
	return l.ledger.Reset(ctx, owner)
}
