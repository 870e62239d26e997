// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package embedder provides text embedding for the vector memories.
//
// The fuzzy keyword memory uses 256-dim truncated vectors; the document index
// uses the model's full dimension. Embedder choice follows the backend
// provider choice.
package embedder

import (
	"context"
	"fmt"

	"github.com/kadirpekel/interagent/pkg/config"
)

// Embedder produces vector embeddings from text.
type Embedder interface {
	// Embed converts text to a vector embedding.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts to vector embeddings.
	// More efficient than calling Embed multiple times.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding vector dimension.
	Dimension() int

	// Model returns the model name being used.
	Model() string

	// Close releases any resources held by the embedder.
	Close() error
}

// FromConfig builds the embedder matching the backend provider choice.
// dimension > 0 requests truncated vectors where the API supports it.
// maxRetries bounds the HTTP retry budget, from max_query_retry_times.
func FromConfig(cfg *config.BackendConfig, dimension, maxRetries int) (Embedder, error) {
	switch cfg.Provider {
	case "gpt", "gpt4", "claude", "gemini":
		// Claude and Gemini deployments embed through OpenAI as well;
		// only the chat backend differs.
		return NewOpenAIEmbedder(cfg, dimension, maxRetries)
	case "ollama":
		return NewOllamaEmbedder(cfg, maxRetries)
	default:
		return nil, fmt.Errorf("no embedder for provider %q", cfg.Provider)
	}
}
