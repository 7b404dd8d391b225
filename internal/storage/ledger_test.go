package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuckDBLedger(t *testing.T) {
	ctx := context.Background()
	ledger := NewDuckDBLedger(NewTestDB(t))

	_, ok, err := ledger.LastCompleted(ctx, "user-a", "orders")
	require.NoError(t, err)
	assert.False(t, ok)

	first := time.Date(2024, time.March, 13, 15, 0, 0, 0, time.UTC)
	require.NoError(t, ledger.MarkCompleted(ctx, LedgerEntry{OwnerID: "user-a", SourceTable: "orders", RunID: "run-1", CompletedAt: first}))
	require.NoError(t, ledger.MarkCompleted(ctx, LedgerEntry{OwnerID: "user-b", SourceTable: "orders", RunID: "run-2", CompletedAt: first}))

	entry, ok, err := ledger.LastCompleted(ctx, "user-a", "orders")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "run-1", entry.RunID)
	assert.True(t, first.Equal(entry.CompletedAt), "got %v", entry.CompletedAt)

	second := first.Add(time.Hour)
	require.NoError(t, ledger.MarkCompleted(ctx, LedgerEntry{OwnerID: "user-a", SourceTable: "orders", RunID: "run-3", CompletedAt: second}))

	entry, _, err = ledger.LastCompleted(ctx, "user-a", "orders")
	require.NoError(t, err)
	assert.Equal(t, "run-3", entry.RunID)

	require.NoError(t, ledger.Reset(ctx, "user-a"))

	_, ok, err = ledger.LastCompleted(ctx, "user-a", "orders")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = ledger.LastCompleted(ctx, "user-b", "orders")
	require.NoError(t, err)
	assert.True(t, ok, "reset is per owner")
}
