package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kadirpekel/interagent/pkg/config"
	"github.com/kadirpekel/interagent/pkg/httpclient"
)

// OpenAIProvider talks to the OpenAI chat completions API, or any
// OpenAI-compatible gateway when a base URL override is configured.
type OpenAIProvider struct {
	model       string
	apiKey      string
	baseURL     string
	temperature float64
	httpClient  *httpclient.Client
	counter     *TokenCounter
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens"`
	Temperature float64         `json:"temperature"`
	Stream      bool            `json:"stream"`
}

type openAIResponse struct {
	Choices []struct {
		Message openAIMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// NewOpenAIProvider builds an adapter for the given model.
func NewOpenAIProvider(cfg *config.BackendConfig, model string, maxRetries int) (*OpenAIProvider, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("openai_api_key is required for provider %q", cfg.Provider)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	counter, err := NewTokenCounter(model)
	if err != nil {
		return nil, err
	}

	return &OpenAIProvider{
		model:       model,
		apiKey:      cfg.OpenAIAPIKey,
		baseURL:     baseURL,
		temperature: cfg.Temperature,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
			httpclient.WithMaxRetries(maxRetries),
			httpclient.WithHeaderParser(httpclient.ParseOpenAIRateLimitHeaders),
		),
		counter: counter,
	}, nil
}

// Generate sends the prompt as a two-message chat (empty system prompt plus
// the user prompt) and returns the first choice's text.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	messages := []openAIMessage{
		{Role: "system", Content: ""},
		{Role: "user", Content: prompt},
	}

	request := openAIRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   p.counter.CompletionBudget(prompt, len(messages)),
		Temperature: p.temperature,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("OpenAI request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed openAIResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("OpenAI API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("no response choices returned")
	}
	return parsed.Choices[0].Message.Content, nil
}

// ModelName returns the configured model identifier.
func (p *OpenAIProvider) ModelName() string {
	return p.model
}

// Close releases adapter resources.
func (p *OpenAIProvider) Close() error {
	return nil
}

var _ Provider = (*OpenAIProvider)(nil)
