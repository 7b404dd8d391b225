package vectorstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/kyleking/askdb/internal/config"
)

// NewStoreFromConfig opens the configured backend. Paths are expected to be
// expanded already (see config.ExpandAllPaths).
func NewStoreFromConfig(ctx context.Context, cfg config.VectorStoreConfig, dimensions int) (Store, error) {
	switch strings.ToLower(cfg.Backend) {
	case "memory":
		return NewMemoryStore(), nil
	case "duckdb", "":
		return OpenDuckDBStore(ctx, cfg.Path, cfg.Table)
	case "sqlite":
		return OpenSQLiteStore(ctx, cfg.Path, cfg.Table)
	case "pgvector":
		return NewPgVectorStore(ctx, cfg.DSN, cfg.Table, dimensions)
	default:
		return nil, fmt.Errorf("unsupported vector store backend: %s", cfg.Backend)
	}
}
