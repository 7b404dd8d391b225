package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuckDBExtractor_Query(t *testing.T) {
	ctx := context.Background()
	db := NewTestDBWithData(t, SampleSeed...)
	extractor := NewDuckDBExtractor(db)
	defer extractor.Close()

	t.Run("parameterized count", func(t *testing.T) {
		since := time.Date(2024, time.March, 6, 15, 30, 0, 0, time.UTC)

		rows, err := extractor.Query(ctx,
			`SELECT COUNT(*) AS "count" FROM "orders" WHERE "orders"."shipped_at" >= $1 AND "orders"."country" = $2 AND "orders"."user_id" = $3`,
			[]any{since, "Brazil", "user-a"}, 100)
		require.NoError(t, err)

		assert.Equal(t, []string{"count"}, rows.Columns)
		require.Equal(t, 1, rows.Len())
		assert.Equal(t, int64(2), rows.Values[0][0])
	})

	t.Run("values are normalized", func(t *testing.T) {
		rows, err := extractor.Query(ctx,
			`SELECT "total", "quantity", "is_gift", "shipped_at", "status" FROM "orders" WHERE "id" = $1`,
			[]any{"o2"}, 10)
		require.NoError(t, err)
		require.Equal(t, 1, rows.Len())

		row := rows.Values[0]
		assert.InDelta(t, 199.0, row[0], 0.001)
		assert.Equal(t, int64(1), row[1])
		assert.Equal(t, true, row[2])
		assert.IsType(t, time.Time{}, row[3])
		assert.Equal(t, "shipped", row[4])
	})

	t.Run("reads at most one row past the cap", func(t *testing.T) {
		rows, err := extractor.Query(ctx, `SELECT "id" FROM "orders" ORDER BY "id"`, nil, 2)
		require.NoError(t, err)
		assert.Equal(t, 3, rows.Len())

		assert.True(t, rows.Truncate(2))
		assert.Equal(t, 2, rows.Len())
	})

	t.Run("null values", func(t *testing.T) {
		rows, err := extractor.Query(ctx, `SELECT "shipped_at" FROM "orders" WHERE "id" = 'o3'`, nil, 10)
		require.NoError(t, err)
		require.Equal(t, 1, rows.Len())
		assert.Nil(t, rows.Values[0][0])
	})

	t.Run("bad statement", func(t *testing.T) {
		_, err := extractor.Query(ctx, `SELECT nope FROM missing`, nil, 10)
		assert.Error(t, err)
	})

	t.Run("canceled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()

		_, err := extractor.Query(cctx, `SELECT 1`, nil, 10)
		assert.Error(t, err)
	})
}
