package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client speaks the OpenAI chat completions API and the Ollama chat API
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new LLM client with the given configuration
func NewClient(config Config) (*Client, error) {
	c := &Client{httpClient: &http.Client{Timeout: 60 * time.Second}}
	if err := c.Configure(config); err != nil {
		return nil, err
	}

	return c, nil
}

// Configure validates and applies config
func (c *Client) Configure(config Config) error {
	if config.Provider == "" {
		return fmt.Errorf("provider is required")
	}

	if config.Model == "" {
		config.Model = DefaultModel(config.Provider)
	}

	switch config.Provider {
	case ProviderOpenAI:
		if config.APIKey == "" {
			return fmt.Errorf("API key is required for OpenAI provider")
		}

		if config.BaseURL == "" {
			config.BaseURL = "https://api.openai.com/v1"
		}
	case ProviderOllama:
		if config.BaseURL == "" {
			config.BaseURL = "http://localhost:11434"
		}
	default:
		return fmt.Errorf("unsupported provider: %s", config.Provider)
	}

	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultMaxTokens
	}

	if config.Timeout > 0 {
		c.httpClient.Timeout = config.Timeout
	}

	c.config = config

	return nil
}

func (c *Client) Name() string { return c.config.Provider + ":" + c.config.Model }

// IsAvailable reports whether the provider can be reached. OpenAI only needs
// a key; Ollama is checked with a request.
func (c *Client) IsAvailable(ctx context.Context) bool {
	if c.config.Provider == ProviderOpenAI {
		return c.config.APIKey != ""
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// fewShotMessages lays out instructions, examples and the question as a chat
func fewShotMessages(text, instructions string, examples []Example) []chatMessage {
	msgs := []chatMessage{{Role: "system", Content: instructions}}
	for _, ex := range examples {
		msgs = append(msgs,
			chatMessage{Role: "user", Content: ex.Input},
			chatMessage{Role: "assistant", Content: ex.Output},
		)
	}

	return append(msgs, chatMessage{Role: "user", Content: text})
}

func (c *Client) Classify(ctx context.Context, text, instructions string, examples []Example) (string, error) {
	return c.chat(ctx, fewShotMessages(text, instructions, examples), true)
}

func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	return c.chat(ctx, []chatMessage{{Role: "user", Content: prompt}}, false)
}

func (c *Client) chat(ctx context.Context, msgs []chatMessage, jsonOutput bool) (string, error) {
	switch c.config.Provider {
	case ProviderOpenAI:
		return c.chatOpenAI(ctx, msgs, jsonOutput)
	case ProviderOllama:
		return c.chatOllama(ctx, msgs, jsonOutput)
	default:
		return "", fmt.Errorf("LLM client not configured")
	}
}

// OpenAI API structures
type openAIRequest struct {
	Model          string                `json:"model"`
	Messages       []chatMessage         `json:"messages"`
	Temperature    float64               `json:"temperature"`
	MaxTokens      int                   `json:"max_tokens,omitempty"`
	ResponseFormat *openAIResponseFormat `json:"response_format,omitempty"`
}

type openAIResponseFormat struct {
	Type string `json:"type"`
}

type openAIResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

func (c *Client) chatOpenAI(ctx context.Context, msgs []chatMessage, jsonOutput bool) (string, error) {
	reqBody := openAIRequest{
		Model:     c.config.Model,
		Messages:  msgs,
		MaxTokens: c.config.MaxTokens,
	}
	if jsonOutput {
		reqBody.ResponseFormat = &openAIResponseFormat{Type: "json_object"}
	}

	respBody, err := c.post(ctx, c.config.BaseURL+"/chat/completions", reqBody, map[string]string{
		"Authorization": "Bearer " + c.config.APIKey,
	})
	if err != nil {
		return "", err
	}

	var response openAIResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse OpenAI response: %w", err)
	}

	if response.Error != nil {
		return "", fmt.Errorf("OpenAI API error: %s", response.Error.Message)
	}

	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	return response.Choices[0].Message.Content, nil
}

// Ollama API structures
type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message chatMessage `json:"message"`
	Error   string      `json:"error,omitempty"`
}

func (c *Client) chatOllama(ctx context.Context, msgs []chatMessage, jsonOutput bool) (string, error) {
	reqBody := ollamaChatRequest{
		Model:    c.config.Model,
		Messages: msgs,
		Options:  map[string]any{"temperature": 0, "num_predict": c.config.MaxTokens},
	}
	if jsonOutput {
		reqBody.Format = "json"
	}

	respBody, err := c.post(ctx, c.config.BaseURL+"/api/chat", reqBody, nil)
	if err != nil {
		return "", err
	}

	var response ollamaChatResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return "", fmt.Errorf("failed to parse Ollama response: %w", err)
	}

	if response.Error != "" {
		return "", fmt.Errorf("Ollama API error: %s", response.Error)
	}

	return response.Message.Content, nil
}

func (c *Client) post(ctx context.Context, url string, reqBody interface{}, headers map[string]string) ([]byte, error) {
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

	resp, err := c.httpClient.Do(req)
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
