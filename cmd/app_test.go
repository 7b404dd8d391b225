package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/catalog"
	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/pipeline"
	"github.com/kyleking/askdb/internal/storage"
	"github.com/kyleking/askdb/internal/testutil"
)

// testConfig seeds a DuckDB read path and returns a config using local
// providers and temp directories only
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "data.duckdb")

	db, err := storage.OpenPath(dbPath)
	require.NoError(t, err)

	for _, stmt := range storage.SampleSeed {
		_, err := db.SQL().Exec(stmt)
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())

	catalogYAML, err := os.ReadFile(filepath.Join("..", "internal", "catalog", "testdata", "catalog.yaml"))
	require.NoError(t, err)

	catalogPath := filepath.Join(dir, "catalog.yaml")
	require.NoError(t, os.WriteFile(catalogPath, catalogYAML, 0o644))

	cfg := config.DefaultConfig()
	cfg.Database.Driver = "duckdb"
	cfg.Database.Path = dbPath
	cfg.Catalog.Source = "file"
	cfg.Catalog.File = catalogPath
	cfg.LLM.Provider = "fallback"
	cfg.Embedding.Provider = "local"
	cfg.Embedding.Dimensions = 64
	cfg.VectorStore.Backend = "duckdb"
	cfg.VectorStore.Path = filepath.Join(dir, "vectors.duckdb")
	cfg.Cache.Directory = filepath.Join(dir, "cache")
	cfg.Cache.Persistent = false
	cfg.Pipeline.SummaryEnabled = false

	return cfg
}

func TestApplication_IngestAskDelete(t *testing.T) {
	ctx := context.Background()

	app, err := newApplication(ctx, testConfig(t))
	require.NoError(t, err)

	defer func() { assert.NoError(t, app.Close()) }()

	var out bytes.Buffer

	err = runIngest(ctx, &out, app, pipeline.ExecutionContext{
		UserID:       testutil.UserA,
		TargetTables: []string{"orders"},
	}, false, false)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "owner=user-a")

	out.Reset()
	require.NoError(t, runIngest(ctx, &out, app, pipeline.ExecutionContext{
		UserID:       testutil.UserA,
		TargetTables: []string{"orders"},
	}, true, false))
	assert.Contains(t, out.String(), `"skipped": true`)

	out.Reset()
	require.NoError(t, runAsk(ctx, &out, app, pipeline.RetrieveRequest{UserID: testutil.UserA, Question: "orders to Brazil"}, false))
	assert.Contains(t, out.String(), "orders record:")
	assert.Contains(t, out.String(), "Found ")

	out.Reset()
	require.NoError(t, runDelete(ctx, &out, app, testutil.UserA))
	assert.Contains(t, out.String(), "Deleted")

	out.Reset()
	require.NoError(t, runAsk(ctx, &out, app, pipeline.RetrieveRequest{UserID: testutil.UserA, Question: "orders to Brazil"}, false))
	assert.Contains(t, out.String(), "No matching data found.")
}

func TestApplication_MemoryBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.VectorStore.Backend = "memory"
	cfg.Pipeline.Ledger = "memory"

	app, err := newApplication(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "memory", app.store.Backend())
	assert.NoError(t, app.Close())
}

func TestApplication_StateLedgerForOtherBackends(t *testing.T) {
	cfg := testConfig(t)
	cfg.VectorStore.Backend = "sqlite"
	cfg.VectorStore.Path = filepath.Join(t.TempDir(), "vectors.db")

	app, err := newApplication(context.Background(), cfg)
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(cfg.Cache.Directory, "state.duckdb"))
	assert.NoError(t, app.Close())
}

func TestApplication_ConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		errType errors.ErrorType
	}{
		{name: "unknown catalog source", mutate: func(c *config.Config) { c.Catalog.Source = "guess" }, errType: errors.ErrTypeConfig},
		{name: "missing catalog file", mutate: func(c *config.Config) { c.Catalog.File = "/nonexistent/catalog.yaml" }},
		{name: "unknown vector backend", mutate: func(c *config.Config) { c.VectorStore.Backend = "faiss" }, errType: errors.ErrTypeVectorStoreUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)

			app, err := newApplication(context.Background(), cfg)
			require.Error(t, err)
			assert.Nil(t, app)

			if tt.errType != "" {
				assert.True(t, errors.IsType(err, tt.errType), "got %v", err)
			}
		})
	}
}

func TestRunIngest_RequiresWork(t *testing.T) {
	err := runIngest(context.Background(), &bytes.Buffer{}, &application{}, pipeline.ExecutionContext{UserID: testutil.UserA}, false, false)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
}

func TestRunCatalogShow(t *testing.T) {
	c, err := catalog.NewStatic(testutil.SampleDescriptors()...)
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runCatalogShow(&out, c))

	output := out.String()
	assert.Contains(t, output, "(6 tables)")
	assert.Contains(t, output, "users: Registered customers")
	assert.Contains(t, output, "user column: id")
	assert.Contains(t, output, "time column: shipped_at")
	assert.Contains(t, output, "user_id -> users.id")
	assert.Contains(t, output, "user column: none (shared)")
}

func TestRunCatalogReload(t *testing.T) {
	cfg := testConfig(t)

	c, closeFn, err := openCatalog(context.Background(), cfg)
	require.NoError(t, err)

	defer func() { assert.NoError(t, closeFn()) }()

	var out bytes.Buffer
	require.NoError(t, runCatalogReload(context.Background(), &out, c))
	assert.Contains(t, out.String(), "Catalog reloaded: v2")
	assert.Contains(t, out.String(), "orders")
}

func TestRootCommand(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, c := range root.Commands {
		names = append(names, c.Name)
	}

	assert.Equal(t, []string{"ingest", "ask", "delete", "catalog", "config"}, names)
}
