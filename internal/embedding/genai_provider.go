package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/kyleking/askdb/internal/config"
)

const defaultGenAIModel = "text-embedding-004"

// GenAIProvider embeds through the Gemini API
type GenAIProvider struct {
	client     *genai.Client
	model      string
	dimensions int
}

// NewGenAIProvider creates a Gemini-backed provider
func NewGenAIProvider(ctx context.Context, cfg config.EmbeddingConfig) (*GenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGenAIModel
	}

	return &GenAIProvider{client: client, model: model, dimensions: cfg.Dimensions}, nil
}

func (p *GenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	var embedCfg *genai.EmbedContentConfig
	if p.dimensions > 0 {
		dims := int32(p.dimensions)
		embedCfg = &genai.EmbedContentConfig{OutputDimensionality: &dims}
	}

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, embedCfg)
	if err != nil {
		return nil, fmt.Errorf("GenAI embed failed: %w", err)
	}

	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Embeddings))
	}

	out := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb != nil {
			out[i] = emb.Values
		}
	}

	return out, nil
}

func (p *GenAIProvider) Dimensions() int { return p.dimensions }

func (p *GenAIProvider) Model() string { return p.model }

func (p *GenAIProvider) Name() string { return ProviderGenAI + ":" + p.model }
