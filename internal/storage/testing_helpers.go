package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

// NewTestDB creates a migrated DuckDB database in a temp dir that is closed
// when the test ends
func NewTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := OpenPath(filepath.Join(t.TempDir(), "test.duckdb"))
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}

	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close test database: %v", err)
		}
	})

	if err := db.Initialize(context.Background()); err != nil {
		t.Fatalf("failed to initialize test database: %v", err)
	}

	return db
}

// NewTestDBWithData creates a test database and runs each seed statement
func NewTestDBWithData(t *testing.T, statements ...string) *DB {
	t.Helper()

	db := NewTestDB(t)

	for i, stmt := range statements {
		if _, err := db.SQL().ExecContext(context.Background(), stmt); err != nil {
			t.Fatalf("%v", fmt.Errorf("seed statement %d failed: %w", i, err))
		}
	}

	return db
}

// SampleSeed creates and fills the tables described by
// testutil.SampleDescriptors
var SampleSeed = []string{
	`CREATE TABLE users (id VARCHAR PRIMARY KEY, name VARCHAR, email VARCHAR, country VARCHAR, created_at TIMESTAMP)`,
	`CREATE TABLE products (id VARCHAR PRIMARY KEY, name VARCHAR, category VARCHAR, price DECIMAL(10,2))`,
	`CREATE TABLE orders (
		id VARCHAR PRIMARY KEY, user_id VARCHAR, product_id VARCHAR, total DECIMAL(10,2), quantity INTEGER,
		status VARCHAR, country VARCHAR, shipped_at TIMESTAMP, updated_at TIMESTAMP, is_gift BOOLEAN)`,
	`CREATE TABLE reviews (id VARCHAR PRIMARY KEY, user_id VARCHAR, product_id VARCHAR, rating INTEGER, created_at TIMESTAMP)`,
	`CREATE TABLE order_items (id VARCHAR PRIMARY KEY, order_id VARCHAR, product_id VARCHAR, unit_price DECIMAL(10,2))`,
	`CREATE TABLE regions (code VARCHAR PRIMARY KEY, name VARCHAR)`,
	`INSERT INTO users VALUES
		('user-a', 'Ana', 'ana@example.com', 'Brazil', TIMESTAMP '2023-01-10 09:00:00'),
		('user-b', 'Bruno', NULL, 'Portugal', TIMESTAMP '2023-02-11 10:00:00')`,
	`INSERT INTO products VALUES ('p1', 'Lamp', 'home', 25.50), ('p2', 'Desk', 'office', 199.00)`,
	`INSERT INTO orders VALUES
		('o1', 'user-a', 'p1', 25.50, 1, 'shipped', 'Brazil', TIMESTAMP '2024-03-08 12:00:00', TIMESTAMP '2024-03-08 12:00:00', false),
		('o2', 'user-a', 'p2', 199.00, 1, 'shipped', 'Brazil', TIMESTAMP '2024-03-09 12:00:00', TIMESTAMP '2024-03-09 12:00:00', true),
		('o3', 'user-a', 'p1', 51.00, 2, 'pending', 'Chile', NULL, TIMESTAMP '2024-03-12 08:00:00', false),
		('o4', 'user-b', 'p1', 25.50, 1, 'shipped', 'Brazil', TIMESTAMP '2024-03-10 16:00:00', TIMESTAMP '2024-03-10 16:00:00', false),
		('o5', 'user-b', 'p2', 199.00, 1, 'shipped', 'Portugal', TIMESTAMP '2024-01-02 16:00:00', TIMESTAMP '2024-01-02 16:00:00', false)`,
	`INSERT INTO reviews VALUES
		('r1', 'user-a', 'p1', 5, TIMESTAMP '2024-03-09 18:00:00'),
		('r2', 'user-b', 'p2', 3, TIMESTAMP '2024-01-05 18:00:00')`,
	`INSERT INTO order_items VALUES ('i1', 'o1', 'p1', 25.50), ('i2', 'o2', 'p2', 199.00), ('i3', 'o3', 'p1', 25.50)`,
	`INSERT INTO regions VALUES ('sa', 'South America'), ('eu', 'Europe')`,
}
