package vectorstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/kyleking/askdb/internal/storage"
)

// DuckDBStore keeps documents in a DuckDB table (vector_documents unless
// configured otherwise) and ranks with list_cosine_similarity
type DuckDBStore struct {
	db     *storage.DB
	table  string
	ownsDB bool
}

// NewDuckDBStore uses the migrated vector_documents table of an initialized
// database owned by the caller
func NewDuckDBStore(db *storage.DB) *DuckDBStore {
	return &DuckDBStore{db: db, table: "vector_documents"}
}

// OpenDuckDBStore opens and migrates the database at path and makes sure
// table exists; Close closes it
func OpenDuckDBStore(ctx context.Context, path, table string) (*DuckDBStore, error) {
	name, err := validTableName(table)
	if err != nil {
		return nil, err
	}

	db, err := storage.OpenPath(path)
	if err != nil {
		return nil, err
	}

	if err := db.Initialize(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s := &DuckDBStore{db: db, table: name, ownsDB: true}
	if err := s.ensureTable(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *DuckDBStore) ensureTable(ctx context.Context) error {
	_, err := s.db.SQL().ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
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
		)`, s.table))
	if err != nil {
		return fmt.Errorf("failed to create vector table %s: %w", s.table, err)
	}

	return nil
}

// DB exposes the underlying database so the freshness ledger can share it
func (s *DuckDBStore) DB() *storage.DB { return s.db }

func (s *DuckDBStore) Name() string { return "duckdb" }

func (s *DuckDBStore) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.SQL().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// DuckDB cannot update list columns in place. The id is derived from
	// owner, content hash and model, so an existing row already has this vector.
	stmt := fmt.Sprintf(`
		INSERT INTO %s
			(id, owner_id, source_table, content, content_hash, model, embedding, run_id, generated_at, superseded_at)
		VALUES (?, ?, ?, ?, ?, ?, CAST(? AS FLOAT[]), ?, ?, NULL)
		ON CONFLICT (id) DO UPDATE SET
			run_id = EXCLUDED.run_id,
			generated_at = EXCLUDED.generated_at,
			superseded_at = NULL`, s.table)

	for _, d := range docs {
		if _, err := tx.ExecContext(ctx, stmt,
			d.ID, d.OwnerID, d.SourceTable, d.Text, d.ContentHash, d.Model,
			vectorLiteral(d.Vector), d.RunID, d.GeneratedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to upsert document %s: %w", d.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit documents: %w", err)
	}

	return nil
}

func (s *DuckDBStore) Supersede(ctx context.Context, owner, table, model, runID string) (int, error) {
	res, err := s.db.SQL().ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s
		SET superseded_at = ?
		WHERE owner_id = ? AND source_table = ? AND model = ? AND run_id <> ? AND superseded_at IS NULL`, s.table),
		time.Now().UTC(), owner, table, model, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede documents: %w", err)
	}

	n, _ := res.RowsAffected()

	return int(n), nil
}

func (s *DuckDBStore) Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]Match, error) {
	p := &placeholders{}
	// the query vector binds first, so it takes the first marker
	vecMark := p.mark()
	where, args := whereClause(filter, len(vector), "len(embedding)", p)

	query := fmt.Sprintf(`
		SELECT id, owner_id, source_table, content, content_hash, model, run_id, generated_at,
			list_cosine_similarity(embedding, CAST(%s AS FLOAT[])) AS score
		FROM %s
		WHERE %s
		ORDER BY score DESC, id
		LIMIT %d`, vecMark, s.table, where, limitOrDefault(topK))

	rows, err := s.db.SQL().QueryContext(ctx, query, append([]any{vectorLiteral(vector)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	return scanMatches(rows, func(rows *sql.Rows, m *Match) error {
		return rows.Scan(&m.Document.ID, &m.Document.OwnerID, &m.Document.SourceTable, &m.Document.Text,
			&m.Document.ContentHash, &m.Document.Model, &m.Document.RunID, &m.Document.GeneratedAt, &m.Score)
	})
}

func (s *DuckDBStore) DeleteOwner(ctx context.Context, owner string) (int, error) {
	res, err := s.db.SQL().ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE owner_id = ?", s.table), owner)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}

	n, _ := res.RowsAffected()

	return int(n), nil
}

func (s *DuckDBStore) Close() error {
	if s.ownsDB {
		return s.db.Close()
	}

	return nil
}

func limitOrDefault(topK int) int {
	if topK <= 0 {
		return 10
	}

	return topK
}

func scanMatches(rows *sql.Rows, scan func(*sql.Rows, *Match) error) ([]Match, error) {
	var matches []Match

	for rows.Next() {
		var m Match
		if err := scan(rows, &m); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}

		matches = append(matches, m)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return matches, nil
}
