package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver

	"github.com/kyleking/askdb/internal/logging"
)

// Options controls how a DuckDB file is opened
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	// ReadOnly opens the file with access_mode=read_only; migrations are refused
	ReadOnly bool
}

// DefaultOptions returns the pool settings used when none are configured
func DefaultOptions() Options {
	return Options{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
	}
}

// DB is a pooled DuckDB handle shared by the extractor, the vector backend
// and the freshness ledger
type DB struct {
	db       *sql.DB
	path     string
	readOnly bool
	logger   *logging.Logger
}

// Open opens (creating if needed) the DuckDB database at path. An empty path
// or ":memory:" opens an in-memory database.
func Open(path string, opts Options) (*DB, error) {
	inMemory := path == "" || path == ":memory:"

	if !inMemory && !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := path
	if inMemory {
		dsn = ""
	} else if opts.ReadOnly {
		dsn = path + "?access_mode=read_only"
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}

	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}

	db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	db.SetConnMaxIdleTime(opts.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		db:       db,
		path:     path,
		readOnly: opts.ReadOnly,
		logger:   logging.GetLogger().WithField("component", "storage"),
	}, nil
}

// OpenPath opens path with DefaultOptions
func OpenPath(path string) (*DB, error) {
	return Open(path, DefaultOptions())
}

// Initialize brings the internal tables up to the latest migration
func (d *DB) Initialize(ctx context.Context) error {
	if d.readOnly {
		return fmt.Errorf("cannot migrate read-only database %s", d.path)
	}

	return NewMigrationManager(d.db, d.logger).MigrateUp(ctx)
}

// SQL exposes the underlying pool
func (d *DB) SQL() *sql.DB { return d.db }

// Path returns the file the database was opened from
func (d *DB) Path() string { return d.path }

// TableExists reports whether a table is visible in the main schema
func (d *DB) TableExists(ctx context.Context, name string) (bool, error) {
	var exists bool

	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) > 0
		FROM information_schema.tables
		WHERE lower(table_name) = ?`, strings.ToLower(name)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check table %s: %w", name, err)
	}

	return exists, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}

	return nil
}
