package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "github.com/lib/pq" // Postgres driver for catalog introspection

	"github.com/kyleking/askdb/internal/catalog"
	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/embedding"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/executor"
	"github.com/kyleking/askdb/internal/intent"
	"github.com/kyleking/askdb/internal/llm"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/pipeline"
	"github.com/kyleking/askdb/internal/query"
	"github.com/kyleking/askdb/internal/storage"
	"github.com/kyleking/askdb/internal/vectorstore"
)

// application owns every component opened for one command
type application struct {
	cfg      *config.Config
	catalog  *catalog.Catalog
	pipeline *pipeline.Pipeline
	store    *vectorstore.Adapter

	closers []func() error
}

// Close releases resources in reverse order of opening
func (a *application) Close() error {
	var first error

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}

	a.closers = nil

	return first
}

func (a *application) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// newApplication wires the configured read path, catalog, language model,
// embedding generator, vector store and freshness ledger into a pipeline
func newApplication(ctx context.Context, cfg *config.Config) (_ *application, err error) {
	a := &application{cfg: cfg}

	// a failed setup returns nil, so close through the local
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to create directories")
	}

	loader, err := a.catalogLoader(cfg)
	if err != nil {
		return nil, err
	}

	a.catalog = catalog.New(loader, logging.GetLogger())
	if _, err := a.catalog.Reload(ctx); err != nil {
		return nil, err
	}

	extractor, err := executor.NewExtractorFromConfig(ctx, &cfg.Database)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open read path")
	}

	gate := executor.NewGate(extractor, config.Duration(cfg.Database.QueryTimeout, 0))
	a.onClose(gate.Close)

	service, err := llm.NewServiceFromConfig(ctx, cfg.LLM)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to configure language model")
	}

	generator, closeCache, err := embedding.NewGeneratorFromConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	a.onClose(closeCache)

	backend, err := vectorstore.NewStoreFromConfig(ctx, cfg.VectorStore, generator.Provider().Dimensions())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeVectorStoreUnavailable, "failed to open vector store")
	}

	a.store = vectorstore.NewAdapter(backend)
	a.onClose(a.store.Close)

	ledger, err := a.freshnessLedger(ctx, cfg, backend)
	if err != nil {
		return nil, err
	}

	a.pipeline, err = pipeline.New(pipeline.Deps{
		Catalog:     a.catalog,
		Classifier:  intent.NewClassifier(service, config.Duration(cfg.LLM.Timeout, 0)),
		Synthesizer: query.NewSynthesizer(cfg.Database.MaxRows, query.JoinPolicy(cfg.Pipeline.JoinPolicy)),
		Gate:        gate,
		Generator:   generator,
		Store:       a.store,
		Ledger:      ledger,
		Summarizer:  service,
	}, pipeline.Options{
		FreshnessWindow: config.Duration(cfg.Pipeline.FreshnessWindow, 0),
		ChunkSize:       cfg.Pipeline.ChunkSize,
		TopK:            cfg.Pipeline.TopK,
		SummaryEnabled:  cfg.Pipeline.SummaryEnabled,
	})
	if err != nil {
		return nil, err
	}

	logging.GetLogger().WithFields(map[string]interface{}{
		"driver":    cfg.Database.Driver,
		"catalog":   cfg.Catalog.Source,
		"llm":       service.Name(),
		"embedding": generator.Provider().Name(),
		"vectors":   a.store.Backend(),
	}).Debug("Application initialized")

	return a, nil
}

func (a *application) catalogLoader(cfg *config.Config) (catalog.Loader, error) {
	switch cfg.Catalog.Source {
	case "file", "":
		return catalog.FileLoader{Path: cfg.Catalog.File}, nil
	case "introspect":
	default:
		return nil, errors.NewConfigError(fmt.Sprintf("unknown catalog source: %s", cfg.Catalog.Source), "catalog.source")
	}

	switch cfg.Database.Driver {
	case "postgres":
		db, err := sql.Open("postgres", cfg.Database.DSN)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open catalog connection")
		}

		a.onClose(db.Close)

		schema := cfg.Catalog.Schema
		if schema == "" || schema == "main" {
			schema = "public"
		}

		return catalog.IntrospectLoader{DB: db, Schema: schema, Placeholder: "$1"}, nil
	default:
		db, err := storage.OpenFromConfig(&cfg.Database, true)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open catalog connection")
		}

		a.onClose(db.Close)

		return catalog.IntrospectLoader{DB: db.SQL(), Schema: cfg.Catalog.Schema, Placeholder: "?"}, nil
	}
}

// freshnessLedger shares the DuckDB vector database when there is one and
// otherwise keeps a small state database next to the cache
func (a *application) freshnessLedger(
	ctx context.Context,
	cfg *config.Config,
	backend vectorstore.Store,
) (pipeline.FreshnessLedger, error) {
	if cfg.Pipeline.Ledger == "memory" {
		return pipeline.NewMemoryLedger(), nil
	}

	if store, ok := backend.(*vectorstore.DuckDBStore); ok {
		return pipeline.NewDuckDBLedger(store.DB()), nil
	}

	db, err := storage.OpenPath(filepath.Join(cfg.Cache.Directory, "state.duckdb"))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to open freshness ledger")
	}

	a.onClose(db.Close)

	if err := db.Initialize(ctx); err != nil {
		return nil, errors.Wrap(err, errors.ErrTypeDatabase, "failed to migrate freshness ledger")
	}

	return pipeline.NewDuckDBLedger(db), nil
}
