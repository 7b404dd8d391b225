// Package executor is the only place a synthesized statement is run. Every
// statement passes the read-only guard again, runs under a deadline and has
// its result capped before anything downstream sees it.
package executor

import (
	"context"
	"sync"
	"time"

	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/query"
	"github.com/kyleking/askdb/internal/sqlguard"
	"github.com/kyleking/askdb/internal/types"
)

// Extractor runs a parameterized statement against a read path. It should
// read no more than maxRows+1 rows and must honor ctx.
type Extractor interface {
	Query(ctx context.Context, statement string, args []any, maxRows int) (*types.Rows, error)
	Close() error
}

// Row is one result row keyed by column, with the column order kept
type Row struct {
	Columns []string
	Values  map[string]any
}

// Ordered returns the row's values in column order
func (r Row) Ordered() []any {
	out := make([]any, len(r.Columns))
	for i, c := range r.Columns {
		out[i] = r.Values[c]
	}

	return out
}

// ExecutionResult is a capped, executed QuerySpec. Truncated is set only when
// the read path returned more than MaxRows rows and the excess was dropped;
// a statement whose own LIMIT equals the cap never sets it.
type ExecutionResult struct {
	Columns   []string
	Rows      []Row
	RowCount  int
	Truncated bool
	Duration  time.Duration
	Spec      *query.QuerySpec
}

// Gate validates and executes QuerySpecs one at a time
type Gate struct {
	extractor Extractor
	timeout   time.Duration
	mu        sync.Mutex
	logger    *logging.Logger
}

// NewGate creates a gate over extractor; timeout bounds each execution
func NewGate(extractor Extractor, timeout time.Duration) *Gate {
	return &Gate{
		extractor: extractor,
		timeout:   timeout,
		logger:    logging.GetLogger().WithField("component", "gate"),
	}
}

// Execute runs spec if it passes the guard. A rejected statement is never
// executed, never retried and produces an audit event.
func (g *Gate) Execute(ctx context.Context, spec *query.QuerySpec) (*ExecutionResult, error) {
	if spec == nil {
		return nil, errors.NewForbiddenError("no statement")
	}

	if err := sqlguard.Validate(spec.Statement); err != nil {
		g.logger.Audit("statement_rejected", map[string]interface{}{
			"reason":       errors.PublicMessage(err),
			"detail":       err.Error(),
			"param_count":  spec.ParamCount(),
			"primary":      spec.PrimaryTable,
			"user_scoped":  spec.UserScoped,
			"snapshot_ver": spec.SnapshotVersion,
		})

		return nil, err
	}

	if spec.MaxRows <= 0 {
		return nil, errors.NewForbiddenError("statement has no row cap")
	}

	if n := sqlguard.MaxPlaceholder(spec.Statement); n > len(spec.Args) {
		return nil, errors.Newf(errors.ErrTypeForbiddenOperation,
			"statement references parameter $%d but only %d are bound", n, len(spec.Args))
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	start := time.Now()
	rows, err := g.extractor.Query(callCtx, spec.Statement, spec.Args, spec.MaxRows)
	duration := time.Since(start)

	if err != nil {
		return nil, g.classify(ctx, callCtx, spec, err, duration)
	}

	// The deadline may pass after the driver returned its last row
	if callCtx.Err() != nil && ctx.Err() == nil {
		return nil, g.classify(ctx, callCtx, spec, callCtx.Err(), duration)
	}

	truncated := rows.Truncate(spec.MaxRows)
	result := &ExecutionResult{
		Columns:   rows.Columns,
		Rows:      make([]Row, 0, rows.Len()),
		RowCount:  rows.Len(),
		Truncated: truncated,
		Duration:  duration,
		Spec:      spec,
	}

	for _, values := range rows.Values {
		row := Row{Columns: rows.Columns, Values: make(map[string]any, len(rows.Columns))}
		for i, c := range rows.Columns {
			if i < len(values) {
				row.Values[c] = values[i]
			}
		}

		result.Rows = append(result.Rows, row)
	}

	g.logger.WithFields(map[string]interface{}{
		"statement":   spec.Statement,
		"param_count": spec.ParamCount(),
		"row_count":   result.RowCount,
		"truncated":   truncated,
		"duration_ms": duration.Milliseconds(),
	}).Info("Statement executed")

	return result, nil
}

func (g *Gate) classify(parent, call context.Context, spec *query.QuerySpec, err error, duration time.Duration) error {
	log := g.logger.WithFields(map[string]interface{}{
		"statement":   spec.Statement,
		"param_count": spec.ParamCount(),
		"duration_ms": duration.Milliseconds(),
	})

	switch {
	case parent.Err() != nil:
		log.Info("Statement canceled")

		return errors.Wrap(parent.Err(), errors.ErrTypeCanceled, "execution canceled")
	case call.Err() != nil:
		log.Warn("Statement exceeded its deadline")

		return errors.Wrapf(err, errors.ErrTypeExecutionTimeout, "execution exceeded %s", g.timeout)
	default:
		log.WithError(err).Error("Statement failed")

		return errors.Wrap(err, errors.ErrTypeDatabase, "execution failed")
	}
}

// Close closes the underlying extractor
func (g *Gate) Close() error {
	return g.extractor.Close()
}
