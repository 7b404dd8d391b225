package vectorstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "test-model"

func doc(owner, table, text, runID string, vec ...float32) Document {
	hash := text + "-hash"

	return Document{
		ID:          DocumentID(owner, table, testModel, hash),
		OwnerID:     owner,
		SourceTable: table,
		Text:        text,
		ContentHash: hash,
		Model:       testModel,
		Vector:      vec,
		RunID:       runID,
		GeneratedAt: time.Date(2024, 3, 13, 12, 0, 0, 0, time.UTC),
	}
}

func ids(matches []Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Document.Text
	}

	return out
}

type storeFactory func(t *testing.T) Store

func backends(t *testing.T) map[string]storeFactory {
	t.Helper()

	factories := map[string]storeFactory{
		"memory": func(t *testing.T) Store { return NewMemoryStore() },
		"duckdb": func(t *testing.T) Store {
			s, err := OpenDuckDBStore(context.Background(), filepath.Join(t.TempDir(), "vectors.duckdb"), "")
			require.NoError(t, err)

			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "vectors.db"), "")
			require.NoError(t, err)

			return s
		},
	}

	if dsn := os.Getenv("ASKDB_TEST_PGVECTOR_DSN"); dsn != "" {
		factories["pgvector"] = func(t *testing.T) Store {
			table := fmt.Sprintf("askdb_test_%d", time.Now().UnixNano())
			s, err := NewPgVectorStore(context.Background(), dsn, table, 0)
			require.NoError(t, err)

			t.Cleanup(func() { _, _ = s.db.Exec("DROP TABLE IF EXISTS " + table) })

			return s
		}
	}

	return factories
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(t)
			t.Cleanup(func() { _ = s.Close() })

			fn(t, s)
		})
	}
}

func TestStore_QueryRanksWithinOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.Upsert(ctx, []Document{
			doc("user-a", "orders", "a-close", "r1", 1, 0, 0, 0),
			doc("user-a", "orders", "a-far", "r1", 0, 1, 0, 0),
			doc("user-a", "reviews", "a-review", "r1", 0.9, 0.1, 0, 0),
			doc("user-b", "orders", "b-closest", "r1", 1, 0, 0, 0),
			doc(SharedOwner, "regions", "shared-mid", "r1", 0.7, 0.7, 0, 0),
		}))

		query := []float32{1, 0, 0, 0}

		matches, err := s.Query(ctx, query, Filter{OwnerID: "user-a", Model: testModel}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"a-close", "a-review", "a-far"}, ids(matches))
		assert.InDelta(t, 1.0, matches[0].Score, 1e-5)

		matches, err = s.Query(ctx, query, Filter{OwnerID: "user-a", IncludeShared: true, Model: testModel}, 2)
		require.NoError(t, err)
		assert.Equal(t, []string{"a-close", "a-review"}, ids(matches))

		matches, err = s.Query(ctx, query, Filter{OwnerID: "user-a", IncludeShared: true, Model: testModel}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"a-close", "a-review", "shared-mid", "a-far"}, ids(matches))

		matches, err = s.Query(ctx, query, Filter{OwnerID: "user-a", Tables: []string{"reviews"}, Model: testModel}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"a-review"}, ids(matches))

		matches, err = s.Query(ctx, query, Filter{OwnerID: "user-a", Model: "other-model"}, 10)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestStore_Supersede(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		query := []float32{1, 0}

		require.NoError(t, s.Upsert(ctx, []Document{
			doc("user-a", "orders", "old", "r1", 1, 0),
			doc("user-a", "orders", "kept", "r1", 0.5, 0.5),
			doc("user-a", "users", "other-table", "r1", 0, 1),
		}))

		// run r2 rewrote "kept" with identical content and dropped "old"
		require.NoError(t, s.Upsert(ctx, []Document{doc("user-a", "orders", "kept", "r2", 0.5, 0.5)}))

		n, err := s.Supersede(ctx, "user-a", "orders", testModel, "r2")
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		matches, err := s.Query(ctx, query, Filter{OwnerID: "user-a", Model: testModel}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"kept", "other-table"}, ids(matches))
		assert.Equal(t, "r2", matches[0].Document.RunID)

		// re-indexing superseded content makes it live again
		require.NoError(t, s.Upsert(ctx, []Document{doc("user-a", "orders", "old", "r3", 1, 0)}))

		matches, err = s.Query(ctx, query, Filter{OwnerID: "user-a", Model: testModel}, 1)
		require.NoError(t, err)
		assert.Equal(t, []string{"old"}, ids(matches))
	})
}

func TestStore_DeleteOwner(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.Upsert(ctx, []Document{
			doc("user-a", "orders", "a1", "r1", 1, 0),
			doc("user-a", "orders", "a2", "r1", 0, 1),
			doc("user-b", "orders", "b1", "r1", 1, 0),
		}))

		n, err := s.DeleteOwner(ctx, "user-a")
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		matches, err := s.Query(ctx, []float32{1, 0}, Filter{OwnerID: "user-a", Model: testModel}, 10)
		require.NoError(t, err)
		assert.Empty(t, matches)

		matches, err = s.Query(ctx, []float32{1, 0}, Filter{OwnerID: "user-b", Model: testModel}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{"b1"}, ids(matches))
	})
}

func TestStore_NoOwnersMatchesNothing(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.Upsert(ctx, []Document{doc(SharedOwner, "regions", "s1", "r1", 1, 0)}))

		matches, err := s.Query(ctx, []float32{1, 0}, Filter{Model: testModel}, 10)
		require.NoError(t, err)
		assert.Empty(t, matches)
	})
}

func TestSQLiteStore_LoadsVecExtension(t *testing.T) {
	s, err := OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "v.db"), "custom_vectors")
	require.NoError(t, err)
	defer s.Close()

	version, err := s.Version(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, version)
}

func TestDuckDBStore_CustomTable(t *testing.T) {
	ctx := context.Background()

	s, err := OpenDuckDBStore(ctx, filepath.Join(t.TempDir(), "vectors.duckdb"), "custom_vectors")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Upsert(ctx, []Document{doc("user-a", "orders", "a1", "r1", 1, 0)}))
	// same id again refreshes the row instead of failing
	require.NoError(t, s.Upsert(ctx, []Document{doc("user-a", "orders", "a1", "r2", 1, 0)}))

	exists, err := s.DB().TableExists(ctx, "custom_vectors")
	require.NoError(t, err)
	assert.True(t, exists)

	var inDefault int
	require.NoError(t, s.DB().SQL().QueryRowContext(ctx, "SELECT COUNT(*) FROM vector_documents").Scan(&inDefault))
	assert.Zero(t, inDefault)

	matches, err := s.Query(ctx, []float32{1, 0}, Filter{OwnerID: "user-a", Model: testModel}, 10)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "r2", matches[0].Document.RunID)

	_, err = OpenDuckDBStore(ctx, filepath.Join(t.TempDir(), "v.duckdb"), "bad-name")
	assert.Error(t, err)
}

func TestValidTableName(t *testing.T) {
	name, err := validTableName("")
	require.NoError(t, err)
	assert.Equal(t, "vector_documents", name)

	_, err = validTableName("docs; DROP TABLE users")
	assert.Error(t, err)

	_, err = OpenSQLiteStore(context.Background(), filepath.Join(t.TempDir(), "v.db"), "bad-name")
	assert.Error(t, err)
}

func TestNewPgVectorStore_RequiresDSN(t *testing.T) {
	_, err := NewPgVectorStore(context.Background(), "", "", 0)
	assert.Error(t, err)
}
