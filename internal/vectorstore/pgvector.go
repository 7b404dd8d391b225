package vectorstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// PgVectorStore keeps documents in Postgres with the pgvector extension and
// ranks with the cosine distance operator
type PgVectorStore struct {
	db    *sql.DB
	table string
}

// NewPgVectorStore connects to Postgres and ensures the table exists.
// dimensions fixes the vector column size when positive.
func NewPgVectorStore(ctx context.Context, dsn, table string, dimensions int) (*PgVectorStore, error) {
	if dsn == "" {
		return nil, errors.New("pgvector DSN is required")
	}

	table, err := validTableName(table)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &PgVectorStore{db: db, table: table}
	if err := s.ensureTable(ctx, dimensions); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *PgVectorStore) ensureTable(ctx context.Context, dimensions int) error {
	column := "vector"
	if dimensions > 0 {
		column = fmt.Sprintf("vector(%d)", dimensions)
	}

	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS %[1]s (
  id            text PRIMARY KEY,
  owner_id      text NOT NULL,
  source_table  text NOT NULL,
  content       text NOT NULL,
  content_hash  text NOT NULL,
  model         text NOT NULL,
  embedding     %[2]s NOT NULL,
  run_id        text NOT NULL,
  generated_at  timestamptz NOT NULL,
  superseded_at timestamptz
);
CREATE INDEX IF NOT EXISTS %[1]s_owner_idx ON %[1]s (owner_id, source_table, model);
`, s.table, column)

	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "42501" {
			return fmt.Errorf("pgvector extension must be installed by a privileged role: %w", err)
		}

		return fmt.Errorf("failed to create vector table: %w", err)
	}

	return nil
}

func (s *PgVectorStore) Name() string { return "pgvector" }

func (s *PgVectorStore) Upsert(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt := fmt.Sprintf(`
INSERT INTO %s
 (id, owner_id, source_table, content, content_hash, model, embedding, run_id, generated_at, superseded_at)
 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NULL)
 ON CONFLICT (id) DO UPDATE SET
   content=EXCLUDED.content,
   embedding=EXCLUDED.embedding,
   run_id=EXCLUDED.run_id,
   generated_at=EXCLUDED.generated_at,
   superseded_at=NULL`, s.table)

	for _, d := range docs {
		if _, err := tx.ExecContext(ctx, stmt,
			d.ID, d.OwnerID, d.SourceTable, d.Text, d.ContentHash, d.Model,
			pgvector.NewVector(d.Vector), d.RunID, d.GeneratedAt.UTC(),
		); err != nil {
			return fmt.Errorf("failed to upsert document %s: %w", d.ID, err)
		}
	}

	return tx.Commit()
}

func (s *PgVectorStore) Supersede(ctx context.Context, owner, table, model, runID string) (int, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`
UPDATE %s SET superseded_at = now()
 WHERE owner_id = $1 AND source_table = $2 AND model = $3 AND run_id <> $4 AND superseded_at IS NULL`, s.table),
		owner, table, model, runID)
	if err != nil {
		return 0, fmt.Errorf("failed to supersede documents: %w", err)
	}

	n, _ := res.RowsAffected()

	return int(n), nil
}

func (s *PgVectorStore) Query(ctx context.Context, vector []float32, filter Filter, topK int) ([]Match, error) {
	p := &placeholders{dollar: true}
	vecMark := p.mark()
	where, args := whereClause(filter, len(vector), "vector_dims(embedding)", p)

	query := fmt.Sprintf(`
SELECT id, owner_id, source_table, content, content_hash, model, run_id, generated_at,
       1 - (embedding <=> %s) AS score
  FROM %s
 WHERE %s
 ORDER BY embedding <=> %s, id
 LIMIT %d`, vecMark, s.table, where, vecMark, limitOrDefault(topK))

	rows, err := s.db.QueryContext(ctx, query, append([]any{pgvector.NewVector(vector)}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	return scanMatches(rows, func(rows *sql.Rows, m *Match) error {
		return rows.Scan(&m.Document.ID, &m.Document.OwnerID, &m.Document.SourceTable, &m.Document.Text,
			&m.Document.ContentHash, &m.Document.Model, &m.Document.RunID, &m.Document.GeneratedAt, &m.Score)
	})
}

func (s *PgVectorStore) DeleteOwner(ctx context.Context, owner string) (int, error) {
	res, err := s.db.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE owner_id = $1", s.table), owner)
	if err != nil {
		return 0, fmt.Errorf("failed to delete documents: %w", err)
	}

	n, _ := res.RowsAffected()

	return int(n), nil
}

func (s *PgVectorStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}

	return nil
}
