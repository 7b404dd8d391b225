package embedding

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kyleking/askdb/internal/chunker"
	askerrors "github.com/kyleking/askdb/internal/errors"
	"github.com/kyleking/askdb/internal/testutil"
)

// scriptedProvider wraps the local provider and fails batches or single
// texts as its injector dictates
type scriptedProvider struct {
	*LocalProvider

	mu     sync.Mutex
	calls  [][]string
	inject *testutil.ErrorInjector
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{
		LocalProvider: NewLocalProvider("test-model", 32),
		inject:        testutil.NewErrorInjector(),
	}
}

// failText makes the next n embeddings of text fail
func (p *scriptedProvider) failText(text string, n int) {
	p.inject.InjectErrorTimes(testutil.Key("text", text), n, errors.New("transient"))
}

// failAll makes every batch fail with err
func (p *scriptedProvider) failAll(err error) {
	p.inject.InjectError("batch", err)
}

func (p *scriptedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls = append(p.calls, append([]string(nil), texts...))

	if err := p.inject.ShouldError("batch"); err != nil {
		return nil, err
	}

	vectors, err := p.LocalProvider.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	var failed []int

	for i, text := range texts {
		if p.inject.ShouldError(testutil.Key("text", text)) != nil {
			vectors[i] = nil
			failed = append(failed, i)
		}
	}

	if len(failed) > 0 {
		return nil, &BatchError{Failed: failed, Vectors: vectors}
	}

	return vectors, nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.calls)
}

func (p *scriptedProvider) textsSent() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, c := range p.calls {
		n += len(c)
	}

	return n
}

func makeChunks(texts ...string) []chunker.Chunk {
	chunks := make([]chunker.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = chunker.Chunk{ID: fmt.Sprintf("c%d", i), Text: text, ContentHash: chunker.Hash(text)}
	}

	return chunks
}

func fastOptions() Options {
	return Options{BatchSize: 2, Concurrency: 2, MaxAttempts: 3, BaseBackoff: time.Millisecond, Timeout: time.Second}
}

func TestGenerator_EmbedPreservesOrder(t *testing.T) {
	provider := newScriptedProvider()
	gen := NewGenerator(provider, nil, fastOptions())

	texts := []string{"orders record: id=o1", "orders record: id=o2", "orders record: id=o3", "users record: id=u1", "regions record: code=sa"}

	vectors, err := gen.Embed(context.Background(), makeChunks(texts...))
	require.NoError(t, err)
	require.Len(t, vectors, len(texts))

	for i, text := range texts {
		want, _ := provider.LocalProvider.EmbedBatch(context.Background(), []string{text})
		assert.Equal(t, want[0], vectors[i].Values, "vector %d", i)
		assert.Equal(t, chunker.Hash(text), vectors[i].ContentHash)
		assert.Equal(t, "test-model", vectors[i].Model)
		assert.False(t, vectors[i].Cached)
	}

	assert.Equal(t, 3, provider.callCount(), "five texts in batches of two")
}

func TestGenerator_IdempotentWithCache(t *testing.T) {
	provider := newScriptedProvider()

	vc, err := NewLRUCache(64, nil)
	require.NoError(t, err)

	gen := NewGenerator(provider, vc, fastOptions())
	chunks := makeChunks("alpha", "beta", "gamma")

	first, err := gen.Embed(context.Background(), chunks)
	require.NoError(t, err)

	calls := provider.callCount()

	second, err := gen.Embed(context.Background(), chunks)
	require.NoError(t, err)

	assert.Equal(t, calls, provider.callCount(), "second run never reaches the provider")

	for i := range first {
		assert.Equal(t, first[i].Values, second[i].Values)
		assert.True(t, second[i].Cached)
	}
}

func TestGenerator_DeduplicatesIdenticalText(t *testing.T) {
	provider := newScriptedProvider()
	gen := NewGenerator(provider, nil, fastOptions())

	vectors, err := gen.Embed(context.Background(), makeChunks("same", "other", "same"))
	require.NoError(t, err)

	assert.Equal(t, 2, provider.textsSent())
	assert.Equal(t, vectors[0].Values, vectors[2].Values)

	vectors[0].Values[0] = 42
	assert.NotEqual(t, vectors[0].Values[0], vectors[2].Values[0], "duplicates do not share backing arrays")
}

func TestGenerator_RetriesOnlyFailedSubset(t *testing.T) {
	provider := newScriptedProvider()
	provider.failText("flaky", 2)

	opts := fastOptions()
	opts.BatchSize = 8

	gen := NewGenerator(provider, nil, opts)

	vectors, err := gen.Embed(context.Background(), makeChunks("steady", "flaky", "solid"))
	require.NoError(t, err)
	require.Len(t, vectors, 3)

	for _, v := range vectors {
		assert.Len(t, v.Values, 32)
	}

	require.Equal(t, 3, provider.callCount())
	assert.Equal(t, []string{"steady", "flaky", "solid"}, provider.calls[0])
	assert.Equal(t, []string{"flaky"}, provider.calls[1])
	assert.Equal(t, []string{"flaky"}, provider.calls[2])
	assert.Equal(t, 3, provider.inject.GetCount(testutil.Key("text", "flaky")))
	assert.Equal(t, 5, provider.inject.CountPrefix("text:"))
}

func TestGenerator_ExhaustedRetries(t *testing.T) {
	provider := newScriptedProvider()
	provider.failText("doomed", 10)

	gen := NewGenerator(provider, nil, fastOptions())

	_, err := gen.Embed(context.Background(), makeChunks("doomed"))
	require.Error(t, err)
	assert.True(t, askerrors.IsType(err, askerrors.ErrTypeEmbeddingUnavailable))
	assert.True(t, askerrors.IsRetryable(err))
	assert.Equal(t, 3, provider.callCount())
}

func TestGenerator_ProviderDown(t *testing.T) {
	provider := newScriptedProvider()
	provider.failAll(errors.New("connection refused"))

	vc, err := NewLRUCache(8, nil)
	require.NoError(t, err)

	gen := NewGenerator(provider, vc, fastOptions())

	_, err = gen.Embed(context.Background(), makeChunks("a"))
	require.Error(t, err)
	assert.True(t, askerrors.IsType(err, askerrors.ErrTypeEmbeddingUnavailable))

	_, ok := vc.Get(context.Background(), "test-model", chunker.Hash("a"))
	assert.False(t, ok, "failed embeddings are never cached")
}

func TestGenerator_Disabled(t *testing.T) {
	gen := NewGenerator(&DisabledProvider{}, nil, fastOptions())

	_, err := gen.Embed(context.Background(), makeChunks("a"))
	require.Error(t, err)
	assert.True(t, askerrors.IsType(err, askerrors.ErrTypeEmbeddingUnavailable))
	assert.ErrorIs(t, err, ErrDisabled)
}

func TestGenerator_Canceled(t *testing.T) {
	provider := newScriptedProvider()
	gen := NewGenerator(provider, nil, fastOptions())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := gen.Embed(ctx, makeChunks("a", "b"))
	require.Error(t, err)
	assert.True(t, askerrors.IsType(err, askerrors.ErrTypeCanceled))
}

func TestGenerator_RejectsWrongDimensions(t *testing.T) {
	provider := newScriptedProvider()
	gen := NewGenerator(&shortProvider{provider}, nil, fastOptions())

	_, err := gen.Embed(context.Background(), makeChunks("a"))
	assert.True(t, askerrors.IsType(err, askerrors.ErrTypeEmbeddingUnavailable))
}

type shortProvider struct{ *scriptedProvider }

func (p *shortProvider) Dimensions() int { return 64 }

func TestGenerator_EmbedText(t *testing.T) {
	gen := NewGenerator(NewLocalProvider("", 16), nil, fastOptions())

	vec, err := gen.EmbedText(context.Background(), "orders shipped to Brazil")
	require.NoError(t, err)
	assert.Len(t, vec, 16)

	_, err = gen.EmbedText(context.Background(), "")
	assert.True(t, askerrors.IsType(err, askerrors.ErrTypeValidation))
}

func TestGenerator_EmptyInput(t *testing.T) {
	provider := newScriptedProvider()
	gen := NewGenerator(provider, nil, fastOptions())

	vectors, err := gen.Embed(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, vectors)
	assert.Zero(t, provider.callCount())
}
