package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/kyleking/askdb/internal/logging"
)

// Migration represents a schema change to the pipeline's own tables. The
// tables being queried are never migrated here.
type Migration struct {
	Version     int
	Description string
	Up          string
	Down        string
}

// MigrationStatus represents the status of a migration
type MigrationStatus struct {
	Version     int       `json:"version"`
	Description string    `json:"description"`
	Applied     bool      `json:"applied"`
	AppliedAt   time.Time `json:"applied_at,omitempty"`
}

// MigrationManager handles database schema migrations
type MigrationManager struct {
	db     *sql.DB
	logger *logging.Logger
}

// NewMigrationManager creates a new migration manager
func NewMigrationManager(db *sql.DB, logger *logging.Logger) *MigrationManager {
	if logger == nil {
		logger = logging.NewNop()
	}

	return &MigrationManager{db: db, logger: logger}
}

// Migrations returns all known migrations ordered by version
func Migrations() []Migration {
	migrations := []Migration{
		{
			Version:     1,
			Description: "Ingest freshness ledger",
			Up: `
				CREATE TABLE IF NOT EXISTS ingest_ledger (
					owner_id VARCHAR NOT NULL,
					source_table VARCHAR NOT NULL,
					run_id VARCHAR NOT NULL,
					completed_at TIMESTAMP NOT NULL,
					PRIMARY KEY (owner_id, source_table)
				);
			`,
			Down: `DROP TABLE IF EXISTS ingest_ledger;`,
		},
		{
			Version:     2,
			Description: "Vector documents",
			Up: `
				CREATE TABLE IF NOT EXISTS vector_documents (
					id VARCHAR PRIMARY KEY,
					owner_id VARCHAR NOT NULL,
					source_table VARCHAR NOT NULL,
					content TEXT NOT NULL,
					content_hash VARCHAR NOT NULL,
					model VARCHAR NOT NULL,
					embedding FLOAT[] NOT NULL,
					run_id VARCHAR NOT NULL,
					generated_at TIMESTAMP NOT NULL,
					superseded_at TIMESTAMP
				);
			`,
			Down: `DROP TABLE IF EXISTS vector_documents;`,
		},
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations
}

func (m *MigrationManager) ensureTable(ctx context.Context) error {
	_, err := m.db.ExecContext(ctx, `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		description VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);`)
	if err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	return nil
}

// Applied returns applied migration versions mapped to when they ran
func (m *MigrationManager) Applied(ctx context.Context) (map[int]time.Time, error) {
	if err := m.ensureTable(ctx); err != nil {
		return nil, err
	}

	rows, err := m.db.QueryContext(ctx, "SELECT version, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int]time.Time)

	for rows.Next() {
		var (
			version int
			at      time.Time
		)

		if err := rows.Scan(&version, &at); err != nil {
			return nil, fmt.Errorf("failed to scan migration version: %w", err)
		}

		applied[version] = at
	}

	return applied, rows.Err()
}

// MigrateUp applies all pending migrations, each in its own transaction
func (m *MigrationManager) MigrateUp(ctx context.Context) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}

	for _, migration := range Migrations() {
		if _, ok := applied[migration.Version]; ok {
			continue
		}

		m.logger.WithFields(map[string]interface{}{
			"version":     migration.Version,
			"description": migration.Description,
		}).Info("Applying migration")

		err := m.inTx(ctx, migration.Up,
			"INSERT INTO schema_migrations (version, description) VALUES (?, ?)",
			migration.Version, migration.Description)
		if err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// MigrateDown rolls back every applied migration above targetVersion
func (m *MigrationManager) MigrateDown(ctx context.Context, targetVersion int) error {
	applied, err := m.Applied(ctx)
	if err != nil {
		return err
	}

	migrations := Migrations()
	for i := len(migrations) - 1; i >= 0; i-- {
		migration := migrations[i]
		if migration.Version <= targetVersion {
			break
		}

		if _, ok := applied[migration.Version]; !ok {
			continue
		}

		m.logger.WithField("version", migration.Version).Info("Rolling back migration")

		err := m.inTx(ctx, migration.Down,
			"DELETE FROM schema_migrations WHERE version = ?", migration.Version)
		if err != nil {
			return fmt.Errorf("failed to rollback migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// Status reports every known migration and whether it is applied
func (m *MigrationManager) Status(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := m.Applied(ctx)
	if err != nil {
		return nil, err
	}

	var status []MigrationStatus

	for _, migration := range Migrations() {
		at, ok := applied[migration.Version]
		status = append(status, MigrationStatus{
			Version:     migration.Version,
			Description: migration.Description,
			Applied:     ok,
			AppliedAt:   at,
		})
	}

	return status, nil
}

func (m *MigrationManager) inTx(ctx context.Context, ddl, record string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, ddl); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		return err
	}

	return tx.Commit()
}
