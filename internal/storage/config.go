package storage

import (
	"fmt"
	"time"

	"github.com/kyleking/askdb/internal/config"
)

// OpenFromConfig opens the configured DuckDB read path with its pool settings
func OpenFromConfig(cfg *config.DatabaseConfig, readOnly bool) (*DB, error) {
	opts := DefaultOptions()
	opts.ReadOnly = readOnly

	if cfg.MaxConnections > 0 {
		opts.MaxOpenConns = cfg.MaxConnections
	}

	if cfg.MaxIdleConns > 0 {
		opts.MaxIdleConns = cfg.MaxIdleConns
	}

	var err error
	if opts.ConnMaxLifetime, err = parseOptional(cfg.ConnMaxLifetime, opts.ConnMaxLifetime); err != nil {
		return nil, fmt.Errorf("invalid conn_max_lifetime: %w", err)
	}

	if opts.ConnMaxIdleTime, err = parseOptional(cfg.ConnMaxIdleTime, opts.ConnMaxIdleTime); err != nil {
		return nil, fmt.Errorf("invalid conn_max_idle_time: %w", err)
	}

	return Open(cfg.Path, opts)
}

func parseOptional(value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}

	return time.ParseDuration(value)
}
