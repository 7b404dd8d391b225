// Package pipeline orchestrates one ingest or retrieve invocation: it moves a
// question or a table list through classification, synthesis, gated
// execution, chunking and embedding, and indexes the result per owner.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kyleking/askdb/internal/catalog"
	"github.com/kyleking/askdb/internal/chunker"
	"github.com/kyleking/askdb/internal/embedding"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/executor"
	"github.com/kyleking/askdb/internal/intent"
	"github.com/kyleking/askdb/internal/llm"
	"github.com/kyleking/askdb/internal/logging"
	"github.com/kyleking/askdb/internal/query"
	"github.com/kyleking/askdb/internal/vectorstore"
)

// Deps are the collaborators a Pipeline drives. Classifier and Summarizer
// may be nil; without a classifier only table ingests are possible.
type Deps struct {
	Catalog     *catalog.Catalog
	Classifier  *intent.Classifier
	Synthesizer *query.Synthesizer
	Gate        *executor.Gate
	Generator   *embedding.Generator
	Store       *vectorstore.Adapter
	Ledger      FreshnessLedger
	Summarizer  llm.Service
}

// Options is orchestration policy
type Options struct {
	FreshnessWindow time.Duration
	ChunkSize       int
	TopK            int
	SummaryEnabled  bool
	Clock           func() time.Time
}

// DefaultOptions mirrors the configuration defaults
func DefaultOptions() Options {
	return Options{
		FreshnessWindow: 15 * time.Minute,
		ChunkSize:       chunker.DefaultMaxChars,
		TopK:            8,
		SummaryEnabled:  true,
		Clock:           time.Now,
	}
}

// ExecutionContext describes one ingest. Either Question or TargetTables
// must be set; MaxRows and ChunkSize override the configured values when
// positive.
type ExecutionContext struct {
	TargetTables []string
	ForceRefresh bool
	MaxRows      int
	ChunkSize    int
	UserID       string
	Question     string
}

// TableReport summarizes the work done for one table. Capped means the
// result filled the row cap, so the table may hold rows that were not read.
type TableReport struct {
	Table     string `json:"table"`
	Owner     string `json:"owner"`
	Skipped   bool   `json:"skipped"`
	Rows      int    `json:"rows"`
	Capped    bool   `json:"capped"`
	Chunks    int    `json:"chunks"`
	Embedded  int    `json:"embedded"`
	CacheHits int    `json:"cache_hits"`
}

// IngestReport is returned by Ingest, also when it fails part way
type IngestReport struct {
	RunID   string           `json:"run_id"`
	Tables  []TableReport    `json:"tables"`
	States  []State          `json:"states"`
	Failure errors.ErrorType `json:"failure,omitempty"`
}

// Pipeline runs invocations against shared components. It is safe for
// concurrent use; each invocation gets its own Run and chunker.
type Pipeline struct {
	deps   Deps
	opts   Options
	logger *logging.Logger
}

// New validates deps and fills unset options from DefaultOptions
func New(deps Deps, opts Options) (*Pipeline, error) {
	switch {
	case deps.Catalog == nil:
		return nil, errors.New(errors.ErrTypeConfig, "pipeline requires a catalog")
	case deps.Synthesizer == nil:
		return nil, errors.New(errors.ErrTypeConfig, "pipeline requires a synthesizer")
	case deps.Gate == nil:
		return nil, errors.New(errors.ErrTypeConfig, "pipeline requires an execution gate")
	case deps.Generator == nil:
		return nil, errors.New(errors.ErrTypeConfig, "pipeline requires an embedding generator")
	case deps.Store == nil:
		return nil, errors.New(errors.ErrTypeConfig, "pipeline requires a vector store")
	}

	def := DefaultOptions()

	if opts.FreshnessWindow <= 0 {
		opts.FreshnessWindow = def.FreshnessWindow
	}

	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}

	if opts.TopK <= 0 {
		opts.TopK = def.TopK
	}

	if opts.Clock == nil {
		opts.Clock = def.Clock
	}

	if deps.Ledger == nil {
		deps.Ledger = NewMemoryLedger()
	}

	return &Pipeline{
		deps:   deps,
		opts:   opts,
		logger: logging.GetLogger().WithField("component", "pipeline"),
	}, nil
}

// Options returns the effective options
func (p *Pipeline) Options() Options { return p.opts }

// job is the compiled work for one table
type job struct {
	table string
	owner string
	spec  *query.QuerySpec
	// fresh jobs are subject to the freshness window and retire older
	// documents of the same table once indexed
	fresh bool
}

// Ingest extracts and indexes data. Tables are processed in order; the
// first failure stops the run, and documents committed for earlier tables
// are kept.
func (p *Pipeline) Ingest(ctx context.Context, ec ExecutionContext) (*IngestReport, error) {
	run := newRun(uuid.NewString(), p.opts.Clock)
	report := &IngestReport{RunID: run.ID}

	logger := p.logger.WithFields(map[string]interface{}{
		"run_id": run.ID,
		"mode":   "ingest",
	})

	finish := func(err error) (*IngestReport, error) {
		if err != nil {
			run.fail(err)
			report.Failure = run.Failure()
			logger.WithError(err).WithField("failure", string(report.Failure)).Warn("Ingest failed")
		} else {
			run.done()
		}

		report.States = run.States()

		return report, err
	}

	if ec.Question == "" && len(ec.TargetTables) == 0 {
		return finish(errors.New(errors.ErrTypeValidation, "ingest needs a question or target tables"))
	}

	if ec.UserID == vectorstore.SharedOwner {
		return finish(errors.Newf(errors.ErrTypeValidation, "%q is reserved", vectorstore.SharedOwner))
	}

	snap, err := p.deps.Catalog.Current()
	if err != nil {
		return finish(err)
	}

	synth := p.synthesizer(ec.MaxRows)

	chunkSize := p.opts.ChunkSize
	if ec.ChunkSize > 0 {
		chunkSize = ec.ChunkSize
	}

	ch := chunker.New(chunkSize)

	if ec.Question != "" {
		j, err := p.compileQuestion(ctx, run, ec, snap, synth)
		if err != nil {
			return finish(err)
		}

		tr, err := p.runJob(ctx, run, j, snap, ch, ec.ForceRefresh)
		report.Tables = append(report.Tables, tr)

		return finish(err)
	}

	for _, table := range ec.TargetTables {
		if err := ctx.Err(); err != nil {
			return finish(errors.Wrap(err, errors.ErrTypeCanceled, "ingest canceled"))
		}

		j, err := p.compileTable(run, table, ec.UserID, snap, synth)
		if err != nil {
			return finish(err)
		}

		tr, err := p.runJob(ctx, run, j, snap, ch, ec.ForceRefresh)
		report.Tables = append(report.Tables, tr)

		if err != nil {
			return finish(err)
		}
	}

	logger.WithField("tables", len(report.Tables)).Info("Ingest completed")

	return finish(nil)
}

func (p *Pipeline) synthesizer(maxRows int) *query.Synthesizer {
	if maxRows <= 0 || maxRows >= p.deps.Synthesizer.MaxRows {
		return p.deps.Synthesizer
	}

	s := *p.deps.Synthesizer
	s.MaxRows = maxRows

	return &s
}

func (p *Pipeline) compileQuestion(
	ctx context.Context,
	run *Run,
	ec ExecutionContext,
	snap *catalog.Snapshot,
	synth *query.Synthesizer,
) (job, error) {
	if p.deps.Classifier == nil {
		return job{}, errors.New(errors.ErrTypeIntentClassificationFailed, "no classifier configured")
	}

	run.enter(StateClassifying, "")

	in, err := p.deps.Classifier.Classify(ctx, intent.Request{Text: ec.Question, UserID: ec.UserID}, snap)
	if err != nil {
		return job{}, err
	}

	run.enter(StateSynthesizing, in.PrimaryEntity())

	spec, err := synth.Synthesize(in, snap)
	if err != nil {
		return job{}, err
	}

	owner := vectorstore.SharedOwner
	if spec.UserScoped {
		owner = ec.UserID
	} else if err := checkSharedScope(spec, snap); err != nil {
		return job{}, err
	}

	return job{table: spec.PrimaryTable, owner: owner, spec: spec}, nil
}

// checkSharedScope refuses an unscoped query over any table whose rows
// belong to individual users; its documents would be readable by everyone
// who opts into shared results.
func checkSharedScope(spec *query.QuerySpec, snap *catalog.Snapshot) error {
	for _, name := range spec.Tables {
		if desc, ok := snap.Table(name); ok && desc.UserColumn != "" {
			return errors.Newf(errors.ErrTypeValidation,
				"table %s holds per-user rows and cannot be indexed without a user id", name).
				WithSuggestion("Pass --user to ingest the table for one user")
		}
	}

	return nil
}

// compileTable builds a list intent over table. Tables that carry a user
// column are scoped to the requesting user and refused without one; the rest
// are indexed as shared documents.
func (p *Pipeline) compileTable(
	run *Run,
	table, userID string,
	snap *catalog.Snapshot,
	synth *query.Synthesizer,
) (job, error) {
	run.enter(StateSynthesizing, table)

	var opts []intent.Option

	owner := vectorstore.SharedOwner

	if desc, ok := snap.Table(table); ok && userID != "" && desc.UserColumn != "" {
		opts = append(opts, intent.WithUser(userID))
		owner = userID
	}

	in, err := intent.NewStructuredIntent(intent.KindList, []string{table}, opts...)
	if err != nil {
		return job{}, err
	}

	spec, err := synth.Synthesize(in, snap)
	if err != nil {
		return job{}, err
	}

	if !spec.UserScoped {
		if err := checkSharedScope(spec, snap); err != nil {
			return job{}, err
		}
	}

	return job{table: spec.PrimaryTable, owner: owner, spec: spec, fresh: true}, nil
}

// runJob executes, chunks, embeds and indexes one compiled job
func (p *Pipeline) runJob(
	ctx context.Context,
	run *Run,
	j job,
	snap *catalog.Snapshot,
	ch *chunker.Chunker,
	force bool,
) (TableReport, error) {
	tr := TableReport{Table: j.table, Owner: j.owner}

	logger := p.logger.WithFields(map[string]interface{}{
		"run_id": run.ID,
		"table":  j.table,
		"owner":  j.owner,
	})

	// taken before any work so a concurrent delete invalidates this job
	claim := p.deps.Store.Claim(j.owner)

	if j.fresh && !force {
		last, ok, err := p.deps.Ledger.LastCompleted(ctx, j.owner, j.table)
		if err != nil {
			return tr, errors.Wrap(err, errors.ErrTypeDatabase, "failed to read freshness ledger")
		}

		if ok && p.opts.Clock().Sub(last) < p.opts.FreshnessWindow {
			logger.WithField("completed_at", last).Debug("Skipping fresh table")

			tr.Skipped = true

			return tr, nil
		}
	}

	if err := p.deps.Catalog.Check(snap); err != nil {
		return tr, err
	}

	run.enter(StateExecuting, j.table)

	result, err := p.deps.Gate.Execute(ctx, j.spec)
	if err != nil {
		return tr, err
	}

	tr.Rows = result.RowCount
	tr.Capped = result.Truncated || result.RowCount >= j.spec.MaxRows

	run.enter(StateChunking, j.table)

	chunks, err := ch.Chunk(result, snap)
	if err != nil {
		return tr, err
	}

	tr.Chunks = len(chunks)

	run.enter(StateEmbedding, j.table)

	vectors, err := p.deps.Generator.Embed(ctx, chunks)
	if err != nil {
		return tr, err
	}

	for _, v := range vectors {
		if v.Cached {
			tr.CacheHits++
		} else {
			tr.Embedded++
		}
	}

	if err := ctx.Err(); err != nil {
		return tr, errors.Wrap(err, errors.ErrTypeCanceled, "ingest canceled before indexing")
	}

	if err := p.deps.Catalog.Check(snap); err != nil {
		return tr, err
	}

	run.enter(StateIndexing, j.table)

	docs := p.documents(run.ID, j.owner, chunks, vectors)

	if err := p.deps.Store.Upsert(ctx, claim, docs); err != nil {
		return tr, err
	}

	if !j.fresh {
		logger.WithField("documents", len(docs)).Info("Indexed question result")
		return tr, nil
	}

	// the mark is written under the owner lock so a delete cannot slip in
	// between retiring old documents and recording freshness
	retired, err := p.deps.Store.Supersede(ctx, claim, j.table, p.deps.Generator.Model(), run.ID,
		func(ctx context.Context) error {
			if err := p.deps.Ledger.MarkCompleted(ctx, j.owner, j.table, run.ID, p.opts.Clock()); err != nil {
				return errors.Wrap(err, errors.ErrTypeDatabase, "failed to update freshness ledger")
			}

			return nil
		})
	if err != nil {
		return tr, err
	}

	logger.WithFields(map[string]interface{}{
		"documents":  len(docs),
		"superseded": retired,
		"cache_hits": tr.CacheHits,
	}).Info("Indexed table")

	return tr, nil
}

// documents pairs chunks with vectors, dropping repeated content so each
// document id is written once per batch
func (p *Pipeline) documents(runID, owner string, chunks []chunker.Chunk, vectors []embedding.EmbeddingVector) []vectorstore.Document {
	now := p.opts.Clock().UTC()
	seen := make(map[string]bool, len(chunks))
	docs := make([]vectorstore.Document, 0, len(chunks))

	for i, c := range chunks {
		v := vectors[i]

		id := vectorstore.DocumentID(owner, c.SourceTable, v.Model, v.ContentHash)
		if seen[id] {
			continue
		}

		seen[id] = true

		docs = append(docs, vectorstore.Document{
			ID:          id,
			OwnerID:     owner,
			SourceTable: c.SourceTable,
			Text:        c.Text,
			ContentHash: v.ContentHash,
			Model:       v.Model,
			Vector:      v.Values,
			RunID:       runID,
			GeneratedAt: now,
		})
	}

	return docs
}

// PublicError is the message shown to consumers for err. It never carries
// statement text, schema names or driver output.
func PublicError(err error) string {
	return errors.PublicMessage(err)
}
