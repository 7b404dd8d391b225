package llm

import (
	"context"
	"time"
)

// Service is the opaque language-model capability. Output is untrusted text;
// callers validate whatever comes back.
type Service interface {
	// Classify asks for a structured answer to text under instructions, with
	// worked examples shown first
	Classify(ctx context.Context, text, instructions string, examples []Example) (string, error)
	// Generate returns free text for prompt
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
	IsAvailable(ctx context.Context) bool
}

// Example is one few-shot input/output pair
type Example struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Config represents LLM service configuration
type Config struct {
	Provider  string            `json:"provider"` // openai, anthropic, ollama, genai
	Model     string            `json:"model"`
	APIKey    string            `json:"api_key,omitempty"`
	BaseURL   string            `json:"base_url,omitempty"`
	MaxTokens int               `json:"max_tokens,omitempty"`
	Timeout   time.Duration     `json:"timeout,omitempty"`
	Options   map[string]string `json:"options,omitempty"`
}

// Provider constants for different LLM providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
	ProviderGenAI     = "genai"
	ProviderFallback  = "fallback"
)

// Model constants for common models
const (
	ModelGPT4oMini   = "gpt-4o-mini"
	ModelClaudeHaiku = "claude-3-5-haiku-latest"
	ModelLlama3      = "llama3.1"
	ModelGemini      = "gemini-2.0-flash"
)

// DefaultModel returns the model used when none is configured
func DefaultModel(provider string) string {
	switch provider {
	case ProviderOpenAI:
		return ModelGPT4oMini
	case ProviderAnthropic:
		return ModelClaudeHaiku
	case ProviderOllama:
		return ModelLlama3
	case ProviderGenAI:
		return ModelGemini
	}

	return ""
}

const defaultMaxTokens = 1024
