package chunker

import (
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/catalog"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/executor"
	"github.com/kyleking/askdb/internal/query"
	"github.com/kyleking/askdb/internal/testutil"
	"github.com/kyleking/askdb/internal/types"
)

func sampleSnapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()

	c, err := catalog.NewStatic(testutil.SampleDescriptors()...)
	require.NoError(t, err)

	snap, err := c.Current()
	require.NoError(t, err)

	return snap
}

func orderResult(n int) *executor.ExecutionResult {
	columns := []string{"id", "total", "status", "shipped_at", "is_gift"}
	result := &executor.ExecutionResult{
		Columns: columns,
		Spec: &query.QuerySpec{
			Statement:    `SELECT ...`,
			MaxRows:      testutil.TestMaxRows,
			Tables:       []string{"orders"},
			PrimaryTable: "orders",
		},
	}

	for i := range n {
		result.Rows = append(result.Rows, executor.Row{
			Columns: columns,
			Values: map[string]any{
				"id":         fmt.Sprintf("o%d", i),
				"total":      float64(i) + 0.5,
				"status":     "shipped",
				"shipped_at": time.Date(2024, time.March, 1+i%28, 12, 0, 0, 0, time.UTC),
				"is_gift":    i%2 == 0,
			},
		})
	}

	result.RowCount = n

	return result
}

func dataChunks(chunks []Chunk) []Chunk {
	var out []Chunk

	for _, c := range chunks {
		if c.Kind == KindData {
			out = append(out, c)
		}
	}

	return out
}

func TestChunk_SchemaOncePerRun(t *testing.T) {
	snap := sampleSnapshot(t)
	c := New(testutil.TestChunkSize)

	first, err := c.Chunk(orderResult(1), snap)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	assert.Equal(t, KindSchema, first[0].Kind)
	assert.Equal(t, "orders", first[0].SourceTable)
	assert.Contains(t, first[0].Text, "Table orders: Customer orders with shipping destination.")
	assert.Contains(t, first[0].Text, "shipped_at (timestamp, nullable)")
	assert.Contains(t, first[0].Text, "user_id references users.id.")
	assert.Zero(t, first[0].Rows())

	second, err := c.Chunk(orderResult(1), snap)
	require.NoError(t, err)

	for _, ch := range second {
		assert.Equal(t, KindData, ch.Kind)
	}

	c.Reset()

	third, err := c.Chunk(orderResult(1), snap)
	require.NoError(t, err)
	assert.Equal(t, KindSchema, third[0].Kind)
}

func TestChunk_JoinedTablesDescribed(t *testing.T) {
	result := orderResult(2)
	result.Spec.Tables = []string{"orders", "users"}

	chunks, err := New(0).Chunk(result, sampleSnapshot(t))
	require.NoError(t, err)

	var schemaTables []string

	for _, ch := range chunks {
		if ch.Kind == KindSchema {
			schemaTables = append(schemaTables, ch.SourceTable)
		}
	}

	assert.Equal(t, []string{"orders", "users"}, schemaTables)
}

func TestChunk_RowRendering(t *testing.T) {
	chunks, err := New(DefaultMaxChars).Chunk(orderResult(1), sampleSnapshot(t))
	require.NoError(t, err)

	data := dataChunks(chunks)
	require.Len(t, data, 1)
	assert.Equal(t,
		"orders record: id=o0; total=0.50; status=shipped; shipped_at=2024-03-01T12:00:00Z; is_gift=true.",
		data[0].Text)
	assert.Equal(t, 0, data[0].RowStart)
	assert.Equal(t, 1, data[0].RowEnd)
}

func TestChunk_NeverSplitsRows(t *testing.T) {
	chunks, err := New(testutil.TestChunkSize).Chunk(orderResult(25), sampleSnapshot(t))
	require.NoError(t, err)

	data := dataChunks(chunks)
	require.Greater(t, len(data), 1)

	for _, ch := range data {
		lines := strings.Split(ch.Text, "\n")
		assert.Equal(t, ch.Rows(), len(lines))

		for _, line := range lines {
			assert.True(t, strings.HasPrefix(line, "orders record: "), line)
			assert.True(t, strings.HasSuffix(line, "."), line)
		}

		if ch.Rows() > 1 {
			assert.LessOrEqual(t, len(ch.Text), testutil.TestChunkSize)
		}
	}
}

func TestChunk_OversizedRowStandsAlone(t *testing.T) {
	result := orderResult(3)
	result.Rows[1].Values["status"] = strings.Repeat("x", 500)

	chunks, err := New(testutil.TestChunkSize).Chunk(result, sampleSnapshot(t))
	require.NoError(t, err)

	var found bool

	for _, ch := range dataChunks(chunks) {
		if strings.Contains(ch.Text, strings.Repeat("x", 500)) {
			found = true

			assert.Equal(t, 1, ch.Rows())
			assert.Equal(t, 1, ch.RowStart)
		}
	}

	assert.True(t, found)
}

func TestChunk_EmptyResult(t *testing.T) {
	chunks, err := New(testutil.TestChunkSize).Chunk(orderResult(0), sampleSnapshot(t))
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, KindSchema, chunks[0].Kind)
}

func TestChunk_Errors(t *testing.T) {
	snap := sampleSnapshot(t)

	_, err := New(0).Chunk(nil, snap)
	assert.Error(t, err)

	_, err = New(0).Chunk(orderResult(1), nil)
	assert.True(t, errors.IsType(err, errors.ErrTypeStaleSchema))

	result := orderResult(1)
	result.Spec.Tables = []string{"invoices"}

	_, err = New(0).Chunk(result, snap)
	assert.True(t, errors.IsType(err, errors.ErrTypeStaleSchema))
}

func TestChunk_HashIsStable(t *testing.T) {
	snap := sampleSnapshot(t)

	a, err := New(testutil.TestChunkSize).Chunk(orderResult(10), snap)
	require.NoError(t, err)

	b, err := New(testutil.TestChunkSize).Chunk(orderResult(10), snap)
	require.NoError(t, err)

	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("chunking is not deterministic (-first +second):\n%s", diff)
	}

	changed := orderResult(10)
	changed.Rows[0].Values["status"] = "returned"

	c, err := New(testutil.TestChunkSize).Chunk(changed, snap)
	require.NoError(t, err)

	assert.Equal(t, a[0].ContentHash, c[0].ContentHash, "schema chunk unchanged")
	assert.NotEqual(t, dataChunks(a)[0].ContentHash, dataChunks(c)[0].ContentHash)
}

// TestChunk_Reassembly checks that data chunk row ranges tile the result
// exactly, for random row counts and chunk sizes
func TestChunk_Reassembly(t *testing.T) {
	snap := sampleSnapshot(t)
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(60)
		size := 40 + rng.Intn(400)
		result := orderResult(n)

		chunks, err := New(size).Chunk(result, snap)
		require.NoError(t, err)

		var (
			got      []Range
			rendered []string
		)

		for _, ch := range dataChunks(chunks) {
			got = append(got, Range{Start: ch.RowStart, End: ch.RowEnd})
			rendered = append(rendered, strings.Split(ch.Text, "\n")...)
		}

		assert.Equal(t, got, RowRanges(chunks)["orders"])

		covered := make([]int, 0, n)

		for _, r := range got {
			for i := r.Start; i < r.End; i++ {
				covered = append(covered, i)
			}
		}

		want := make([]int, n)
		for i := range want {
			want[i] = i
		}

		if diff := cmp.Diff(want, covered); diff != "" {
			t.Fatalf("n=%d size=%d: row coverage mismatch (-want +got):\n%s", n, size, diff)
		}

		var expected []string
		for _, row := range result.Rows {
			expected = append(expected, RenderRow("orders", row, columnTypes([]string{"orders"}, "orders", snap)))
		}

		if diff := cmp.Diff(expected, rendered); diff != "" {
			t.Fatalf("n=%d size=%d: rendered rows mismatch (-want +got):\n%s", n, size, diff)
		}
	}
}

func TestFormatValue(t *testing.T) {
	ts := time.Date(2024, time.March, 13, 10, 0, 0, 0, time.FixedZone("BRT", -3*3600))

	tests := []struct {
		name     string
		value    any
		typ      types.SemanticType
		expected string
	}{
		{"nil", nil, types.SemanticText, "null"},
		{"text", "Brazil", types.SemanticText, "Brazil"},
		{"identifier verbatim", "0042-ABC", types.SemanticIdentifier, "0042-ABC"},
		{"bytes", []byte("raw"), "", "raw"},
		{"bool", false, types.SemanticBoolean, "false"},
		{"timestamp in UTC", ts, types.SemanticTimestamp, "2024-03-13T13:00:00Z"},
		{"integer", int64(42), types.SemanticInteger, "42"},
		{"int as decimal", int64(3), types.SemanticDecimal, "3.00"},
		{"decimal", 19.999, types.SemanticDecimal, "20.00"},
		{"float unknown column", 2.5, "", "2.50"},
		{"whole float as integer", float64(7), types.SemanticInteger, "7"},
		{"float32", float32(1.25), types.SemanticDecimal, "1.25"},
		{"other", struct{ A int }{1}, "", "{1}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, FormatValue(tt.value, tt.typ))
		})
	}
}

func TestRenderRow_JoinedColumns(t *testing.T) {
	snap := sampleSnapshot(t)
	typeOf := columnTypes([]string{"orders", "products"}, "orders", snap)

	row := executor.Row{
		Columns: []string{"total", "products.price"},
		Values:  map[string]any{"total": int64(10), "products.price": int64(4)},
	}

	assert.Equal(t, "orders record: total=10.00; products.price=4.00.", RenderRow("orders", row, typeOf))
	assert.Equal(t, types.SemanticDecimal, typeOf("products.price"))
	assert.Equal(t, types.SemanticType(""), typeOf("sum_total"))
}
