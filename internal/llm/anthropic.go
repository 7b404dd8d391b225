package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicService calls the Messages API through the official SDK
type AnthropicService struct {
	client    anthropic.Client
	model     string
	maxTokens int
	hasKey    bool
}

// NewAnthropicService creates a service for config.Model
func NewAnthropicService(config Config) (*AnthropicService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required for Anthropic provider")
	}

	model := config.Model
	if model == "" {
		model = DefaultModel(ProviderAnthropic)
	}

	maxTokens := config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicService{
		client:    anthropic.NewClient(opts...),
		model:     model,
		maxTokens: maxTokens,
		hasKey:    true,
	}, nil
}

func (s *AnthropicService) Name() string { return ProviderAnthropic + ":" + s.model }

func (s *AnthropicService) IsAvailable(_ context.Context) bool { return s.hasKey }

func (s *AnthropicService) Classify(ctx context.Context, text, instructions string, examples []Example) (string, error) {
	var messages []anthropic.MessageParam
	for _, ex := range examples {
		messages = append(messages,
			anthropic.NewUserMessage(anthropic.NewTextBlock(ex.Input)),
			anthropic.NewAssistantMessage(anthropic.NewTextBlock(ex.Output)),
		)
	}

	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))

	return s.send(ctx, instructions, messages)
}

func (s *AnthropicService) Generate(ctx context.Context, prompt string) (string, error) {
	return s.send(ctx, "", []anthropic.MessageParam{
		anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
	})
}

func (s *AnthropicService) send(ctx context.Context, system string, messages []anthropic.MessageParam) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     s.model,
		MaxTokens: int64(s.maxTokens),
		Messages:  messages,
	}

	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic request failed: %w", err)
	}

	var sb strings.Builder

	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("no text in Anthropic response")
	}

	return sb.String(), nil
}
