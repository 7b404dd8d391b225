package storage

import (
	"context"
	"fmt"
	"math/big"

	"github.com/marcboeker/go-duckdb"

	"github.com/kyleking/askdb/internal/types"
)

// DuckDBExtractor runs validated statements against a DuckDB read path
type DuckDBExtractor struct {
	db *DB
}

// NewDuckDBExtractor wraps an open database
func NewDuckDBExtractor(db *DB) *DuckDBExtractor {
	return &DuckDBExtractor{db: db}
}

// Query executes statement with positional args and reads at most maxRows+1
// rows, so callers can tell a capped result from an exact one
func (e *DuckDBExtractor) Query(ctx context.Context, statement string, args []any, maxRows int) (*types.Rows, error) {
	rows, err := e.db.SQL().QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute SQL query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}

	result := &types.Rows{Columns: columns}

	for rows.Next() {
		if maxRows > 0 && len(result.Values) > maxRows {
			break
		}

		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))

		for i := range values {
			ptrs[i] = &values[i]
		}

		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		for i, v := range values {
			values[i] = normalizeValue(v)
		}

		result.Values = append(result.Values, values)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Close is a no-op; the DB is owned by whoever opened it
func (e *DuckDBExtractor) Close() error { return nil }

func normalizeValue(v any) any {
	switch val := v.(type) {
	case int8:
		return int64(val)
	case int16:
		return int64(val)
	case int32:
		return int64(val)
	case int:
		return int64(val)
	case uint8:
		return int64(val)
	case uint16:
		return int64(val)
	case uint32:
		return int64(val)
	case uint64:
		return int64(val)
	case float32:
		return float64(val)
	case *big.Int:
		if val.IsInt64() {
			return val.Int64()
		}

		return val.String()
	case duckdb.Decimal:
		return val.Float64()
	default:
		return v
	}
}
