package llms

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// messageOverhead is the fixed per-message token cost of the chat framing.
const messageOverhead = 15

// minCompletionTokens is the floor for the completion budget; prompts that
// nearly fill the context window still get a usable reply.
const minCompletionTokens = 256

// contextWindows maps model names to their context window sizes.
var contextWindows = map[string]int{
	"gpt-3.5-turbo":              4096,
	"gpt-3.5-turbo-16k":          16384,
	"gpt-4":                      8192,
	"gpt-4-turbo":                128000,
	"gpt-4o":                     128000,
	"gpt-4o-mini":                128000,
	"claude-3-sonnet-20240229":   200000,
	"claude-3-5-sonnet-20240620": 200000,
	"gemini-1.5-flash":           1000000,
	"gemini-1.5-pro":             2000000,
}

// completionCeilings caps the completion budget for models whose output limit
// is far below the context window.
var completionCeilings = map[string]int{
	"gpt-4-turbo":                4096,
	"gpt-4o":                     4096,
	"gpt-4o-mini":                4096,
	"claude-3-sonnet-20240229":   4096,
	"claude-3-5-sonnet-20240620": 8192,
	"gemini-1.5-flash":           8192,
	"gemini-1.5-pro":             8192,
}

const defaultContextWindow = 8192

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// TokenCounter counts prompt tokens for a specific model.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// NewTokenCounter creates a counter for the model, falling back to the
// cl100k_base encoding for models tiktoken does not know.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	return len(tc.encoding.Encode(text, nil, nil))
}

// CompletionBudget computes the max completion tokens for a prompt: the
// model's context window minus the tokenized prompt length minus a fixed
// per-message overhead, clamped to the model's output ceiling.
func (tc *TokenCounter) CompletionBudget(prompt string, numMessages int) int {
	return budgetFor(tc.model, tc.Count(prompt), numMessages)
}

func budgetFor(model string, promptTokens, numMessages int) int {
	window, ok := contextWindows[model]
	if !ok {
		window = defaultContextWindow
	}

	budget := window - promptTokens - messageOverhead*numMessages
	if ceiling, ok := completionCeilings[model]; ok && budget > ceiling {
		budget = ceiling
	}
	if budget < minCompletionTokens {
		budget = minCompletionTokens
	}
	return budget
}
