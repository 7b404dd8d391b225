package executor

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/catalog"
	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/intent"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/query"
	"github.com/kyleking/askdb/internal/storage"
	"github.com/kyleking/askdb/internal/testutil"
	"github.com/kyleking/askdb/internal/types"
)

// fakeExtractor returns canned rows and records what it was asked to run
type fakeExtractor struct {
	rows    *types.Rows
	err     error
	block   bool
	delay   time.Duration
	calls   atomic.Int32
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (f *fakeExtractor) Query(ctx context.Context, _ string, _ []any, _ int) (*types.Rows, error) {
	f.calls.Add(1)

	n := f.active.Add(1)
	defer f.active.Add(-1)

	for {
		seen := f.maxSeen.Load()
		if n <= seen || f.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if f.err != nil {
		return nil, f.err
	}

	// Hand out a copy so Truncate in one call cannot affect another
	out := &types.Rows{Columns: f.rows.Columns, Values: append([][]any(nil), f.rows.Values...)}

	return out, nil
}

func (f *fakeExtractor) Close() error { return nil }

func numberedRows(n int) *types.Rows {
	rows := &types.Rows{Columns: []string{"id", "status"}}
	for i := range n {
		rows.Values = append(rows.Values, []any{int64(i), "shipped"})
	}

	return rows
}

func validSpec() *query.QuerySpec {
	return &query.QuerySpec{
		Statement:    `SELECT "orders"."id", "orders"."status" FROM "orders" WHERE "orders"."status" = $1 LIMIT 100`,
		Args:         []any{"shipped"},
		MaxRows:      testutil.TestMaxRows,
		Tables:       []string{"orders"},
		PrimaryTable: "orders",
	}
}

func TestGate_Execute(t *testing.T) {
	extractor := &fakeExtractor{rows: numberedRows(3)}
	gate := NewGate(extractor, time.Second)

	result, err := gate.Execute(context.Background(), validSpec())
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "status"}, result.Columns)
	assert.Equal(t, 3, result.RowCount)
	assert.False(t, result.Truncated)
	assert.Equal(t, int64(1), result.Rows[1].Values["id"])
	assert.Equal(t, []any{int64(2), "shipped"}, result.Rows[2].Ordered())
	assert.Equal(t, "orders", result.Spec.PrimaryTable)
}

func TestGate_RowCap(t *testing.T) {
	extractor := &fakeExtractor{rows: numberedRows(testutil.TestMaxRows + 50)}
	gate := NewGate(extractor, time.Second)

	result, err := gate.Execute(context.Background(), validSpec())
	require.NoError(t, err)

	assert.Equal(t, testutil.TestMaxRows, result.RowCount)
	assert.Len(t, result.Rows, testutil.TestMaxRows)
	assert.True(t, result.Truncated)
}

func TestGate_RejectsBeforeExecuting(t *testing.T) {
	tests := []struct {
		name string
		spec *query.QuerySpec
	}{
		{name: "nil spec", spec: nil},
		{name: "delete", spec: &query.QuerySpec{Statement: `DELETE FROM "orders"`, MaxRows: 10}},
		{name: "stacked", spec: &query.QuerySpec{Statement: `SELECT 1; DROP TABLE "orders"`, MaxRows: 10}},
		{name: "comment", spec: &query.QuerySpec{Statement: `SELECT 1 -- hi`, MaxRows: 10}},
		{name: "no row cap", spec: &query.QuerySpec{Statement: `SELECT 1`}},
		{name: "unbound placeholder", spec: &query.QuerySpec{Statement: `SELECT 1 WHERE $1 = $2`, Args: []any{1}, MaxRows: 10}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			extractor := &fakeExtractor{rows: numberedRows(1)}
			gate := NewGate(extractor, time.Second)

			result, err := gate.Execute(context.Background(), tt.spec)
			require.Error(t, err)
			assert.Nil(t, result)
			assert.True(t, errors.IsType(err, errors.ErrTypeForbiddenOperation), "got %v", err)
			assert.False(t, errors.IsRetryable(err))
			assert.Equal(t, int32(0), extractor.calls.Load())
		})
	}
}

func TestGate_AuditsRejections(t *testing.T) {
	var buf bytes.Buffer

	previous := logging.GetLogger()
	logging.SetGlobal(logging.NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf))
	t.Cleanup(func() { logging.SetGlobal(previous) })

	gate := NewGate(&fakeExtractor{rows: numberedRows(1)}, time.Second)

	_, err := gate.Execute(context.Background(), &query.QuerySpec{Statement: `UPDATE "orders" SET "status" = $1`, Args: []any{"x"}, MaxRows: 10})
	require.Error(t, err)

	assert.Contains(t, buf.String(), `"audit":true`)
	assert.Contains(t, buf.String(), `"event":"statement_rejected"`)
	assert.Contains(t, buf.String(), `"reason":"request refused"`)
}

func TestGate_Timeout(t *testing.T) {
	gate := NewGate(&fakeExtractor{block: true}, 20*time.Millisecond)

	result, err := gate.Execute(context.Background(), validSpec())
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, errors.IsType(err, errors.ErrTypeExecutionTimeout), "got %v", err)
}

func TestGate_Canceled(t *testing.T) {
	gate := NewGate(&fakeExtractor{block: true}, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	_, err := gate.Execute(ctx, validSpec())
	assert.True(t, errors.IsType(err, errors.ErrTypeCanceled), "got %v", err)
}

func TestGate_DriverError(t *testing.T) {
	gate := NewGate(&fakeExtractor{err: fmt.Errorf("connection reset")}, time.Second)

	_, err := gate.Execute(context.Background(), validSpec())
	assert.True(t, errors.IsType(err, errors.ErrTypeDatabase), "got %v", err)
	assert.NotContains(t, errors.PublicMessage(err), "connection reset")
}

func TestGate_LogsFailedExecutions(t *testing.T) {
	var buf bytes.Buffer

	previous := logging.GetLogger()
	logging.SetGlobal(logging.NewLoggerWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, &buf))
	t.Cleanup(func() { logging.SetGlobal(previous) })

	tests := []struct {
		name      string
		extractor *fakeExtractor
		timeout   time.Duration
		message   string
	}{
		{name: "driver error", extractor: &fakeExtractor{err: fmt.Errorf("connection reset")}, timeout: time.Second, message: "Statement failed"},
		{name: "timeout", extractor: &fakeExtractor{block: true}, timeout: 20 * time.Millisecond, message: "Statement exceeded its deadline"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf.Reset()

			_, err := NewGate(tt.extractor, tt.timeout).Execute(context.Background(), validSpec())
			require.Error(t, err)

			assert.Contains(t, buf.String(), tt.message)
			assert.Contains(t, buf.String(), `"statement":"SELECT`)
			assert.Contains(t, buf.String(), `"param_count":1`)
		})
	}
}

func TestGate_SerializesExecutions(t *testing.T) {
	extractor := &fakeExtractor{rows: numberedRows(2), delay: 5 * time.Millisecond}
	gate := NewGate(extractor, time.Second)

	var mu sync.Mutex

	var failures []error

	testutil.RunConcurrent(t, 8, func(int) {
		if _, err := gate.Execute(context.Background(), validSpec()); err != nil {
			mu.Lock()
			failures = append(failures, err)
			mu.Unlock()
		}
	})

	assert.Empty(t, failures)
	assert.Equal(t, int32(8), extractor.calls.Load())
	assert.Equal(t, int32(1), extractor.maxSeen.Load())
}

// TestGate_DuckDBScenario runs the synthesized "orders shipped to Brazil last
// week" count for one user against a real DuckDB read path
func TestGate_DuckDBScenario(t *testing.T) {
	db := storage.NewTestDBWithData(t, storage.SampleSeed...)
	gate := NewGate(storage.NewDuckDBExtractor(db), testutil.ShortTestTimeout)

	c, err := catalog.NewStatic(testutil.SampleDescriptors()...)
	require.NoError(t, err)

	snap, err := c.Current()
	require.NoError(t, err)

	in, err := intent.NewStructuredIntent(intent.KindCount, []string{"orders"},
		intent.WithTimeRange("last_week"), intent.WithLocations("Brazil"), intent.WithUser(testutil.UserA))
	require.NoError(t, err)

	synth := &query.Synthesizer{MaxRows: testutil.TestMaxRows, JoinPolicy: query.JoinShortest, Clock: testutil.Clock}

	spec, err := synth.Synthesize(in, snap)
	require.NoError(t, err)

	result, err := gate.Execute(context.Background(), spec)
	require.NoError(t, err)

	require.Equal(t, 1, result.RowCount)
	assert.Equal(t, int64(2), result.Rows[0].Values["count"])
}
