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

const anthropicVersion = "2023-06-01"

// AnthropicProvider talks to the Anthropic messages API.
type AnthropicProvider struct {
	model       string
	apiKey      string
	baseURL     string
	temperature float64
	httpClient  *httpclient.Client
	counter     *TokenCounter
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewAnthropicProvider builds an adapter for the given model.
func NewAnthropicProvider(cfg *config.BackendConfig, model string, maxRetries int) (*AnthropicProvider, error) {
	if cfg.AnthropicAPIKey == "" {
		return nil, fmt.Errorf("anthropic_api_key is required for provider %q", cfg.Provider)
	}

	counter, err := NewTokenCounter(model)
	if err != nil {
		return nil, err
	}

	return &AnthropicProvider{
		model:       model,
		apiKey:      cfg.AnthropicAPIKey,
		baseURL:     "https://api.anthropic.com",
		temperature: cfg.Temperature,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
			httpclient.WithMaxRetries(maxRetries),
			httpclient.WithHeaderParser(httpclient.ParseAnthropicRateLimitHeaders),
		),
		counter: counter,
	}, nil
}

// Generate sends the prompt as a single user message.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string) (string, error) {
	messages := []anthropicMessage{{Role: "user", Content: prompt}}

	request := anthropicRequest{
		Model:       p.model,
		MaxTokens:   p.counter.CompletionBudget(prompt, len(messages)),
		Temperature: p.temperature,
		Messages:    messages,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Anthropic request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("Anthropic API error: %s", parsed.Error.Message)
	}
	for _, part := range parsed.Content {
		if part.Type == "text" {
			return part.Text, nil
		}
	}
	return "", fmt.Errorf("no text content returned")
}

// ModelName returns the configured model identifier.
func (p *AnthropicProvider) ModelName() string {
	return p.model
}

// Close releases adapter resources.
func (p *AnthropicProvider) Close() error {
	return nil
}

var _ Provider = (*AnthropicProvider)(nil)
