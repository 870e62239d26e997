package llms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kadirpekel/interagent/pkg/config"
	"github.com/kadirpekel/interagent/pkg/httpclient"
)

// GeminiProvider talks to the Gemini generateContent REST API.
type GeminiProvider struct {
	model       string
	apiKey      string
	baseURL     string
	temperature float64
	httpClient  *httpclient.Client
	counter     *TokenCounter
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		Temperature     float64 `json:"temperature"`
		MaxOutputTokens int     `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// NewGeminiProvider builds an adapter for the given model.
func NewGeminiProvider(cfg *config.BackendConfig, model string, maxRetries int) (*GeminiProvider, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("gemini_api_key is required for provider %q", cfg.Provider)
	}

	counter, err := NewTokenCounter(model)
	if err != nil {
		return nil, err
	}

	return &GeminiProvider{
		model:       model,
		apiKey:      cfg.GeminiAPIKey,
		baseURL:     "https://generativelanguage.googleapis.com/v1beta",
		temperature: cfg.Temperature,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
			httpclient.WithMaxRetries(maxRetries),
		),
		counter: counter,
	}, nil
}

// Generate sends the prompt as a single user content block and joins the
// text parts of the first candidate.
func (p *GeminiProvider) Generate(ctx context.Context, prompt string) (string, error) {
	request := geminiRequest{
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: prompt}}},
		},
	}
	request.GenerationConfig.Temperature = p.temperature
	request.GenerationConfig.MaxOutputTokens = p.counter.CompletionBudget(prompt, 1)

	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, p.model, p.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed geminiResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("Gemini API error: %s", parsed.Error.Message)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("no candidates returned")
	}

	var sb strings.Builder
	for _, part := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return sb.String(), nil
}

// ModelName returns the configured model identifier.
func (p *GeminiProvider) ModelName() string {
	return p.model
}

// Close releases adapter resources.
func (p *GeminiProvider) Close() error {
	return nil
}

var _ Provider = (*GeminiProvider)(nil)
