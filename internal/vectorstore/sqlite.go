package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/ncruces"
	_ "github.com/ncruces/go-sqlite3/driver"
)

// SQLiteStore keeps documents in a plain SQLite table with float32 blobs and
// ranks with sqlite-vec's vec_distance_cosine after the WHERE clause has
// narrowed the candidates
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// OpenSQLiteStore opens (creating if needed) the database at path
func OpenSQLiteStore(ctx context.Context, path, table string) (*SQLiteStore, error) {
	table, err := validTableName(table)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create vector store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite vector store: %w", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db, table: table}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %[1]s (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			source_table TEXT NOT NULL,
			content TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			model TEXT NOT NULL,
			embedding BLOB NOT NULL,
			run_id TEXT NOT NULL,
			generated_at INTEGER NOT NULL,
			superseded_at INTEGER
		);
		CREATE INDEX IF NOT EXISTS %[1]s_owner_idx ON %[1]s (owner_id, source_table, model);`, s.table)

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create vector table: %w", err)
	}

	return nil
}

// Version reports the loaded sqlite-vec version
func (s *SQLiteStore) Version(ctx context.Context) (string, error) {
	var version string
	err := s.db.QueryRowContext(ctx, "SELECT vec_version()").Scan(&version)

	return version, err
}

func (s *SQLiteStore) Name() string { return "sqlite" }

func (s *SQLiteStore) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`
		INSERT INTO %s
			(id, owner_id, source_table, content, content_hash, model, embedding, run_id, generated_at, superseded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (id) DO UPDATE SET
			content = excluded.content,
			embedding = excluded.embedding,
			run_id = excluded.run_id,
			generated_at = excluded.generated_at,
			superseded_at = NULL`, s.table)

	for _, d := range docs {
		blob, err := sqlite_vec.SerializeFloat32(d.Vector)
		if err != nil {
			return fmt.Errorf("failed to serialize vector: %w", err)
		}

		if _, err := tx.ExecContext(ctx, stmt,
			d.ID, d.OwnerID, d.SourceTable, d.Text, d.ContentHash, d.Model, blob, d.RunID, d.GeneratedAt.UnixNano(),
		); err != nil {
			return fmt.Errorf("failed to upsert document %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit documents: %w", err)
	}

	return nil
}

func (s *SQLiteStore) Supersede(ctx context.Context, owner, table, model, runID string) (int, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET superseded_at = ?
		WHERE owner_id = ? AND source_table = ? AND model = ? AND run_id <> ? AND superseded_at IS NULL`, s.table),
		time.Now().UnixNano(), owner, table, model, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede documents: %w", err)
	}

	n, _ := res.RowsAffected()

	return int(n), nil
}

func (s *SQLiteStore) Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]Match, error) {
	blob, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize vector: %w", err)
	}

	p := &placeholders{}
	vecMark := p.mark()
	where, args := whereClause(filter, len(vector), "vec_length(embedding)", p)

	query := fmt.Sprintf(`
		SELECT id, owner_id, source_table, content, content_hash, model, run_id, generated_at,
			1.0 - vec_distance_cosine(embedding, %s) AS score
		FROM %s
		WHERE %s
		ORDER BY score DESC, id
		LIMIT %d`, vecMark, s.table, where, limitOrDefault(topK))

	rows, err := s.db.QueryContext(ctx, query, append([]any{blob}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	return scanMatches(rows, func(rows *sql.Rows, m *Match) error {
		var generated int64

		if err := rows.Scan(&m.Document.ID, &m.Document.OwnerID, &m.Document.SourceTable, &m.Document.Text,
			&m.Document.ContentHash, &m.Document.Model, &m.Document.RunID, &generated, &m.Score); err != nil {
			return err
		}

		m.Document.GeneratedAt = time.Unix(0, generated).UTC()

		return nil
	})
}

func (s *SQLiteStore) DeleteOwner(ctx context.Context, owner string) (int, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE owner_id = ?", s.table), owner)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}

	n, _ := res.RowsAffected()

	return int(n), nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}
