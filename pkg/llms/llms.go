// Package llms provides the LLM backend adapters and their registry.
//
// Every adapter implements the same single-shot contract: a prompt goes in,
// generated text comes out. Retry with exponential backoff happens inside the
// shared HTTP client; the completion budget is computed per request from the
// model's context window and the tokenized prompt length.
package llms

import (
	"context"
	"fmt"
	"sync"

	"github.com/kadirpekel/interagent/pkg/config"
)

// Provider is the uniform backend contract.
type Provider interface {
	// Generate sends a single prompt and returns the model's text response.
	Generate(ctx context.Context, prompt string) (string, error)

	// ModelName returns the underlying model identifier.
	ModelName() string

	// Close releases adapter resources.
	Close() error
}

// Registry holds named providers. Adapter selection is purely by string key.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry creates an empty provider registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds a provider under a name.
func (r *Registry) Register(name string, p Provider) error {
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if p == nil {
		return fmt.Errorf("provider cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[name]; exists {
		return fmt.Errorf("provider %q already registered", name)
	}
	r.providers[name] = p
	return nil
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q not found", name)
	}
	return p, nil
}

// Names lists registered provider names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

// FromConfig constructs the provider selected by the backend config.
// maxRetries bounds the HTTP retry budget of every adapter; it comes from
// the agent section's max_query_retry_times.
func FromConfig(cfg *config.BackendConfig, maxRetries int) (Provider, error) {
	switch cfg.Provider {
	case "gpt":
		return NewOpenAIProvider(cfg, "gpt-3.5-turbo-16k", maxRetries)
	case "gpt4":
		return NewOpenAIProvider(cfg, "gpt-4o-mini", maxRetries)
	case "claude":
		return NewAnthropicProvider(cfg, "claude-3-sonnet-20240229", maxRetries)
	case "gemini":
		return NewGeminiProvider(cfg, "gemini-1.5-flash", maxRetries)
	case "ollama":
		return NewOllamaProvider(cfg, maxRetries)
	default:
		return nil, fmt.Errorf("%s backend not implemented", cfg.Provider)
	}
}
