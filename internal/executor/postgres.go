package executor

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kyleking/askdb/internal/types"
)

var pgxTxReadOnly = pgx.TxOptions{AccessMode: pgx.ReadOnly}

// PostgresExtractor runs statements on a pgx connection pool
type PostgresExtractor struct {
	pool *pgxpool.Pool
}

// NewPostgresExtractor connects to dsn. The pool is sized by maxConns when
// positive.
func NewPostgresExtractor(ctx context.Context, dsn string, maxConns int) (*PostgresExtractor, error) {
	if dsn == "" {
		return nil, fmt.Errorf("dsn is required")
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	if maxConns > 0 {
		cfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresExtractor{pool: pool}, nil
}

// Query runs statement inside a read-only transaction
func (e *PostgresExtractor) Query(ctx context.Context, statement string, args []any, maxRows int) (*types.Rows, error) {
	tx, err := e.pool.BeginTx(ctx, pgxTxReadOnly)
	if err != nil {
		return nil, fmt.Errorf("begin read-only transaction: %w", err)
	}

	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &types.Rows{Columns: make([]string, len(fields))}

	for i, f := range fields {
		result.Columns[i] = f.Name
	}

	for rows.Next() {
		if maxRows > 0 && len(result.Values) > maxRows {
			break
		}

		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}

		for i, v := range values {
			values[i] = normalizePostgres(v)
		}

		result.Values = append(result.Values, values)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	return result, nil
}

// Close closes the pool
func (e *PostgresExtractor) Close() error {
	e.pool.Close()
	return nil
}

func normalizePostgres(v any) any {
	switch val := v.(type) {
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case float32:
		return float64(val)
	case pgtype.Numeric:
		f, err := val.Float64Value()
		if err != nil || !f.Valid {
			return nil
		}

		return f.Float64
	case [16]byte:
		return uuid.UUID(val).String()
	default:
		return v
	}
}
