package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GenAIService calls Gemini models through google.golang.org/genai
type GenAIService struct {
	client *genai.Client
	model  string
}

// NewGenAIService creates a Gemini-backed service
func NewGenAIService(ctx context.Context, config Config) (*GenAIService, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("GenAI API key is required")
	}

	model := config.Model
	if model == "" {
		model = DefaultModel(ProviderGenAI)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}

	return &GenAIService{client: client, model: model}, nil
}

func (s *GenAIService) Name() string { return ProviderGenAI + ":" + s.model }

func (s *GenAIService) IsAvailable(_ context.Context) bool { return s.client != nil }

func (s *GenAIService) Classify(ctx context.Context, text, instructions string, examples []Example) (string, error) {
	var contents []*genai.Content
	for _, ex := range examples {
		contents = append(contents,
			genai.NewContentFromText(ex.Input, genai.RoleUser),
			genai.NewContentFromText(ex.Output, genai.RoleModel),
		)
	}

	contents = append(contents, genai.NewContentFromText(text, genai.RoleUser))

	return s.generate(ctx, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(instructions, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
}

func (s *GenAIService) Generate(ctx context.Context, prompt string) (string, error) {
	return s.generate(ctx, []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)}, nil)
}

func (s *GenAIService) generate(ctx context.Context, contents []*genai.Content, cfg *genai.GenerateContentConfig) (string, error) {
	resp, err := s.client.Models.GenerateContent(ctx, s.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("no text in GenAI response")
	}

	return text, nil
}
