package embedding

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kyleking/askdb/internal/cache"
	"github.com/kyleking/askdb/internal/chunker"
	"github.com/kyleking/askdb/internal/config"
	"github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/logging"
)

// EmbeddingVector is the vector for one chunk, in the order chunks were given
type EmbeddingVector struct {
	Values      []float32
	Model       string
	ContentHash string
	// Cached is true when the vector came from the cache
	Cached bool
}

// Options tunes batching, concurrency and retry
type Options struct {
	BatchSize   int
	Concurrency int
	MaxAttempts int
	BaseBackoff time.Duration
	// RateLimit is provider calls per second; zero means unlimited
	RateLimit float64
	Timeout   time.Duration
}

// DefaultOptions returns the settings used when none are configured
func DefaultOptions() Options {
	return Options{
		BatchSize:   16,
		Concurrency: 4,
		MaxAttempts: 4,
		BaseBackoff: 250 * time.Millisecond,
		Timeout:     30 * time.Second,
	}
}

// Generator embeds chunks through a provider. It is safe for concurrent use.
type Generator struct {
	provider Provider
	cache    VectorCache
	opts     Options
	limiter  *rate.Limiter
	logger   *logging.Logger
}

// NewGenerator creates a generator; vectorCache may be nil
func NewGenerator(provider Provider, vectorCache VectorCache, opts Options) *Generator {
	def := DefaultOptions()

	if opts.BatchSize <= 0 {
		opts.BatchSize = def.BatchSize
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = def.Concurrency
	}

	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}

	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}

	return &Generator{
		provider: provider,
		cache:    vectorCache,
		opts:     opts,
		limiter:  rate.NewLimiter(limit, opts.Concurrency),
		logger:   logging.GetLogger().WithField("component", "embedding"),
	}
}

// NewGeneratorFromConfig wires the configured provider, the in-memory vector
// cache and, when caching is persistent, the file cache behind it. The
// returned close function releases the file cache.
func NewGeneratorFromConfig(ctx context.Context, cfg *config.Config) (*Generator, func() error, error) {
	provider, err := NewProvider(ctx, cfg.Embedding)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to create embedding provider")
	}

	closeFn := func() error { return nil }

	var backing cache.Cache

	if cfg.Cache.Persistent {
		fc, err := cache.NewFileCacheFromConfig(cfg.Cache)
		if err != nil {
			return nil, nil, errors.Wrap(err, errors.ErrTypeConfig, "failed to open embedding cache")
		}

		backing = fc
		closeFn = fc.Close
	}

	vc, err := NewLRUCache(cfg.Embedding.CacheSize, backing)
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}

	def := DefaultOptions()

	return NewGenerator(provider, vc, Options{
		BatchSize:   cfg.Embedding.BatchSize,
		Concurrency: cfg.Embedding.Concurrency,
		MaxAttempts: cfg.Embedding.MaxAttempts,
		BaseBackoff: config.Duration(cfg.Embedding.BaseBackoff, def.BaseBackoff),
		RateLimit:   cfg.Embedding.RateLimit,
		Timeout:     config.Duration(cfg.Embedding.Timeout, def.Timeout),
	}), closeFn, nil
}

// Model returns the model identifier all vectors from this generator carry
func (g *Generator) Model() string { return g.provider.Model() }

// Provider returns the underlying provider
func (g *Generator) Provider() Provider { return g.provider }

// Embed returns one vector per chunk in input order. Cached vectors skip the
// provider; identical texts are embedded once.
func (g *Generator) Embed(ctx context.Context, chunks []chunker.Chunk) ([]EmbeddingVector, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	model := g.provider.Model()
	out := make([]EmbeddingVector, len(chunks))

	// content hash -> positions still needing a vector
	pending := make(map[string][]int)

	var (
		texts  []string
		hashes []string
	)

	for i, ch := range chunks {
		hash := ch.ContentHash
		if hash == "" {
			hash = chunker.Hash(ch.Text)
		}

		out[i] = EmbeddingVector{Model: model, ContentHash: hash}

		if g.cache != nil {
			if vec, ok := g.cache.Get(ctx, model, hash); ok {
				out[i].Values = vec
				out[i].Cached = true

				continue
			}
		}

		if _, seen := pending[hash]; !seen {
			texts = append(texts, ch.Text)
			hashes = append(hashes, hash)
		}

		pending[hash] = append(pending[hash], i)
	}

	if len(texts) == 0 {
		return out, nil
	}

	vectors, err := g.embedAll(ctx, texts)
	if err != nil {
		return nil, err
	}

	for j, hash := range hashes {
		if g.cache != nil {
			g.cache.Put(ctx, model, hash, vectors[j])
		}

		for k, pos := range pending[hash] {
			vec := vectors[j]
			if k > 0 {
				vec = clone(vec)
			}

			out[pos].Values = vec
		}
	}

	g.logger.WithFields(map[string]interface{}{
		"chunks":   len(chunks),
		"embedded": len(texts),
		"cached":   len(chunks) - countPositions(pending),
	}).Debug("Embedded chunks")

	return out, nil
}

// EmbedText embeds a single text such as a retrieval question
func (g *Generator) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, errors.New(errors.ErrTypeValidation, "cannot embed empty text")
	}

	vectors, err := g.embedAll(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return vectors[0], nil
}

func (g *Generator) embedAll(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(g.opts.Concurrency)

	for start := 0; start < len(texts); start += g.opts.BatchSize {
		end := min(start+g.opts.BatchSize, len(texts))

		// each batch writes only its own window of vectors
		window := vectors[start:end]
		batch := texts[start:end]

		group.Go(func() error {
			return g.embedBatch(gctx, batch, window)
		})
	}

	if err := group.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrTypeCanceled, "embedding canceled")
		}

		return nil, errors.Wrap(err, errors.ErrTypeEmbeddingUnavailable, "embedding provider unavailable").
			WithSuggestion("Check the embedding provider configuration and that the service is reachable")
	}

	return vectors, nil
}

// embedBatch fills out for texts, retrying only the indices that failed
func (g *Generator) embedBatch(ctx context.Context, texts []string, out [][]float32) error {
	remaining := make([]int, len(texts))
	for i := range remaining {
		remaining[i] = i
	}

	attempts := 0

	operation := func() error {
		attempts++

		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		subset := make([]string, len(remaining))
		for i, idx := range remaining {
			subset[i] = texts[idx]
		}

		callCtx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
		vectors, err := g.provider.EmbedBatch(callCtx, subset)
		cancel()

		var batchErr *BatchError

		switch {
		case err == nil:
		case stderrors.As(err, &batchErr):
			vectors = batchErr.Vectors
		case stderrors.Is(err, ErrDisabled):
			return backoff.Permanent(err)
		case ctx.Err() != nil:
			return backoff.Permanent(ctx.Err())
		default:
			g.logger.WithError(err).WithField("attempt", attempts).Warn("Embedding batch failed")
			return err
		}

		var failed []int

		for i, idx := range remaining {
			if i < len(vectors) && g.valid(vectors[i]) {
				out[idx] = vectors[i]
				continue
			}

			failed = append(failed, idx)
		}

		remaining = failed
		if len(remaining) == 0 {
			return nil
		}

		g.logger.WithFields(map[string]interface{}{
			"attempt": attempts,
			"failed":  len(remaining),
		}).Warn("Retrying failed embeddings")

		return fmt.Errorf("%d embeddings failed", len(remaining))
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = g.opts.BaseBackoff
	policy.MaxElapsedTime = 0

	if policy.InitialInterval <= 0 {
		policy.InitialInterval = time.Millisecond
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(g.opts.MaxAttempts-1)), ctx))
	if err != nil {
		return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
	}

	return nil
}

func (g *Generator) valid(vec []float32) bool {
	if len(vec) == 0 {
		return false
	}

	dims := g.provider.Dimensions()

	return dims <= 0 || len(vec) == dims
}

func countPositions(pending map[string][]int) int {
	n := 0
	for _, positions := range pending {
		n += len(positions)
	}

	return n
}
