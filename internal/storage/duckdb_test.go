package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("file database", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "dir", "data.duckdb")

		db, err := OpenPath(path)
		if err != nil {
			t.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()

		if db.Path() != path {
			t.Errorf("Expected path %s, got %s", path, db.Path())
		}

		if err := db.Initialize(ctx); err != nil {
			t.Fatalf("Failed to initialize database: %v", err)
		}

		for _, table := range []string{"schema_migrations", "ingest_ledger", "vector_documents"} {
			exists, err := db.TableExists(ctx, table)
			if err != nil {
				t.Fatalf("Failed to check table %s: %v", table, err)
			}

			if !exists {
				t.Errorf("Expected table %s to exist", table)
			}
		}
	})

	t.Run("in-memory database", func(t *testing.T) {
		db, err := OpenPath(":memory:")
		if err != nil {
			t.Fatalf("Failed to open database: %v", err)
		}
		defer db.Close()

		if _, err := db.SQL().ExecContext(ctx, "CREATE TABLE t (x INTEGER)"); err != nil {
			t.Fatalf("Failed to create table: %v", err)
		}

		exists, err := db.TableExists(ctx, "T")
		if err != nil || !exists {
			t.Errorf("Expected table t to be visible, exists=%v err=%v", exists, err)
		}
	})

	t.Run("read-only refuses migrations", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ro.duckdb")

		rw, err := OpenPath(path)
		if err != nil {
			t.Fatalf("Failed to open database: %v", err)
		}
		rw.Close()

		opts := DefaultOptions()
		opts.ReadOnly = true

		ro, err := Open(path, opts)
		if err != nil {
			t.Fatalf("Failed to open read-only database: %v", err)
		}
		defer ro.Close()

		if err := ro.Initialize(ctx); err == nil {
			t.Error("Expected Initialize to fail on a read-only database")
		}

		if _, err := ro.SQL().ExecContext(ctx, "CREATE TABLE t (x INTEGER)"); err == nil {
			t.Error("Expected writes to fail on a read-only database")
		}
	})
}

func TestDefaultOptions(t *testing.T) {
	opts := DefaultOptions()

	if opts.MaxOpenConns != 10 || opts.MaxIdleConns != 5 {
		t.Errorf("Unexpected pool sizes: %+v", opts)
	}

	if opts.ConnMaxLifetime != 30*time.Minute || opts.ConnMaxIdleTime != 5*time.Minute {
		t.Errorf("Unexpected pool lifetimes: %+v", opts)
	}

	if opts.ReadOnly {
		t.Error("Expected read-write by default")
	}
}
