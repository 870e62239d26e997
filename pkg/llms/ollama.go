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

// OllamaProvider talks to a local Ollama server.
type OllamaProvider struct {
	model       string
	host        string
	temperature float64
	httpClient  *httpclient.Client
}

type ollamaRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Stream  bool   `json:"stream"`
	Options struct {
		Temperature float64 `json:"temperature"`
	} `json:"options"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Error    string `json:"error,omitempty"`
}

// NewOllamaProvider builds an adapter for the configured local model.
func NewOllamaProvider(cfg *config.BackendConfig, maxRetries int) (*OllamaProvider, error) {
	if cfg.OllamaModelName == "" {
		return nil, fmt.Errorf("ollama_model_name is required for provider %q", cfg.Provider)
	}

	host := cfg.OllamaHost
	if host == "" {
		host = "http://localhost:11434"
	}

	return &OllamaProvider{
		model:       cfg.OllamaModelName,
		host:        strings.TrimRight(host, "/"),
		temperature: cfg.Temperature,
		httpClient: httpclient.New(
			httpclient.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Timeout) * time.Second}),
			httpclient.WithMaxRetries(maxRetries),
		),
	}, nil
}

// Generate sends the prompt to /api/generate with streaming disabled.
func (p *OllamaProvider) Generate(ctx context.Context, prompt string) (string, error) {
	request := ollamaRequest{
		Model:  p.model,
		Prompt: prompt,
		Stream: false,
	}
	request.Options.Temperature = p.temperature

	body, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("Ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var parsed ollamaResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("Ollama error: %s", parsed.Error)
	}
	return parsed.Response, nil
}

// ModelName returns the configured model identifier.
func (p *OllamaProvider) ModelName() string {
	return p.model
}

// Close releases adapter resources.
func (p *OllamaProvider) Close() error {
	return nil
}

var _ Provider = (*OllamaProvider)(nil)
