// Package embedding turns chunk text into vectors through a configured
// provider, with batching, subset retry and a two-tier vector cache.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kyleking/askdb/internal/config"
)

// Provider defines the interface for embedding providers
type Provider interface {
	// EmbedBatch returns one vector per text in input order. A partial
	// failure returns *BatchError carrying the vectors that did succeed.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced vectors
	Dimensions() int

	// Model identifies the vector space; vectors from different models
	// are never compared
	Model() string

	// Name returns the provider name for identification
	Name() string
}

// Provider names accepted by NewProvider
const (
	ProviderLocal    = "local"
	ProviderOllama   = "ollama"
	ProviderOpenAI   = "openai"
	ProviderGenAI    = "genai"
	ProviderDisabled = "disabled"
)

// ErrDisabled is returned by the disabled provider
var ErrDisabled = errors.New("embedding provider is disabled")

// BatchError reports which inputs of a batch failed. Vectors is aligned with
// the input and nil at failed indices.
type BatchError struct {
	Failed  []int
	Vectors [][]float32
	Cause   error
}

func (e *BatchError) Error() string {
	msg := fmt.Sprintf("%d of %d embeddings failed", len(e.Failed), len(e.Vectors))
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}

	return msg
}

func (e *BatchError) Unwrap() error { return e.Cause }

// NewProvider builds the provider named by cfg.Provider
func NewProvider(ctx context.Context, cfg config.EmbeddingConfig) (Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderLocal, "":
		return NewLocalProvider(cfg.Model, cfg.Dimensions), nil
	case ProviderOllama:
		return NewOllamaProvider(cfg)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case ProviderGenAI:
		return NewGenAIProvider(ctx, cfg)
	case ProviderDisabled:
		return &DisabledProvider{}, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

// DisabledProvider is a no-op provider for when embeddings are disabled
type DisabledProvider struct{}

func (p *DisabledProvider) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, ErrDisabled
}

func (p *DisabledProvider) Dimensions() int { return 0 }

func (p *DisabledProvider) Model() string { return "" }

func (p *DisabledProvider) Name() string { return ProviderDisabled }
