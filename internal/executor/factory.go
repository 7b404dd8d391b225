package executor

import (
	"context"
	"fmt"

	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/storage"
)

// NewExtractorFromConfig opens the configured read path. DuckDB files are
// opened read-only.
func NewExtractorFromConfig(ctx context.Context, cfg *config.DatabaseConfig) (Extractor, error) {
	switch cfg.Driver {
	case "duckdb", "":
		db, err := storage.OpenFromConfig(cfg, true)
		if err != nil {
			return nil, err
		}

		return &ownedDuckDB{DuckDBExtractor: storage.NewDuckDBExtractor(db), db: db}, nil
	case "postgres":
		return NewPostgresExtractor(ctx, cfg.DSN, cfg.MaxConnections)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// ownedDuckDB closes the database it opened
type ownedDuckDB struct {
	*storage.DuckDBExtractor
	db *storage.DB
}

func (o *ownedDuckDB) Close() error {
	return o.db.Close()
}
