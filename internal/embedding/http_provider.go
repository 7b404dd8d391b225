package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kyleking/askdb/internal/config"
)

const (
	defaultOllamaModel  = "nomic-embed-text"
	defaultOpenAIModel  = "text-embedding-3-small"
	defaultOllamaURL    = "http://localhost:11434"
	defaultOpenAIURL    = "https://api.openai.com/v1"
	defaultHTTPDeadline = 60 * time.Second
)

type httpEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	httpClient *http.Client
}

func newHTTPEmbedder(cfg config.EmbeddingConfig, defModel, defURL string) httpEmbedder {
	e := httpEmbedder{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		httpClient: &http.Client{Timeout: config.Duration(cfg.Timeout, defaultHTTPDeadline)},
	}

	if e.baseURL == "" {
		e.baseURL = defURL
	}

	if e.model == "" {
		e.model = defModel
	}

	return e
}

func (e *httpEmbedder) post(ctx context.Context, url string, reqBody interface{}, headers map[string]string) ([]byte, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	return body, nil
}

// OllamaProvider calls /api/embeddings once per text
type OllamaProvider struct {
	httpEmbedder
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// NewOllamaProvider creates a provider for a local or remote Ollama server
func NewOllamaProvider(cfg config.EmbeddingConfig) (*OllamaProvider, error) {
	return &OllamaProvider{httpEmbedder: newHTTPEmbedder(cfg, defaultOllamaModel, defaultOllamaURL)}, nil
}

func (p *OllamaProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var (
		failed  []int
		lastErr error
	)

	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vec, err := p.embedOne(ctx, text)
		if err != nil {
			failed = append(failed, i)
			lastErr = err

			continue
		}

		out[i] = vec
	}

	if len(failed) == len(texts) && len(texts) > 0 {
		return nil, lastErr
	}

	if len(failed) > 0 {
		return nil, &BatchError{Failed: failed, Vectors: out, Cause: lastErr}
	}

	return out, nil
}

func (p *OllamaProvider) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := p.post(ctx, p.baseURL+"/api/embeddings", ollamaEmbedRequest{Model: p.model, Prompt: text}, nil)
	if err != nil {
		return nil, err
	}

	var response ollamaEmbedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse Ollama response: %w", err)
	}

	if response.Error != "" {
		return nil, fmt.Errorf("Ollama API error: %s", response.Error)
	}

	if len(response.Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding from Ollama")
	}

	return response.Embedding, nil
}

func (p *OllamaProvider) Dimensions() int { return p.dimensions }

func (p *OllamaProvider) Model() string { return p.model }

func (p *OllamaProvider) Name() string { return ProviderOllama + ":" + p.model }

// OpenAIProvider calls the OpenAI-compatible /embeddings endpoint with the
// whole batch in one request
type OpenAIProvider struct {
	httpEmbedder
}

type openAIEmbedRequest struct {
	Model      string   `json:"model"`
	Input      []string `json:"input"`
	Dimensions int      `json:"dimensions,omitempty"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewOpenAIProvider creates a provider; an API key is required
func NewOpenAIProvider(cfg config.EmbeddingConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for OpenAI embedding provider")
	}

	return &OpenAIProvider{httpEmbedder: newHTTPEmbedder(cfg, defaultOpenAIModel, defaultOpenAIURL)}, nil
}

func (p *OpenAIProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := p.post(ctx, p.baseURL+"/embeddings", openAIEmbedRequest{
		Model:      p.model,
		Input:      texts,
		Dimensions: p.dimensions,
	}, map[string]string{"Authorization": "Bearer " + p.apiKey})
	if err != nil {
		return nil, err
	}

	var response openAIEmbedResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to parse OpenAI response: %w", err)
	}

	if response.Error != nil {
		return nil, fmt.Errorf("OpenAI API error: %s", response.Error.Message)
	}

	out := make([][]float32, len(texts))

	for _, d := range response.Data {
		if d.Index >= 0 && d.Index < len(out) {
			out[d.Index] = d.Embedding
		}
	}

	var failed []int

	for i, vec := range out {
		if len(vec) == 0 {
			failed = append(failed, i)
		}
	}

	if len(failed) > 0 {
		return nil, &BatchError{Failed: failed, Vectors: out, Cause: fmt.Errorf("missing embeddings in OpenAI response")}
	}

	return out, nil
}

func (p *OpenAIProvider) Dimensions() int { return p.dimensions }

func (p *OpenAIProvider) Model() string { return p.model }

func (p *OpenAIProvider) Name() string { return ProviderOpenAI + ":" + p.model }
