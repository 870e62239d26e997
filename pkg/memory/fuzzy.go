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

// Package memory implements the fuzzy keyword memory: a per-master corpus of
// text spans with precomputed embeddings, cosine-searched in memory.
//
// The corpus is a tab-separated file with two columns, text and emb, where
// emb is a JSON-style float array. Embeddings are 256-dim truncations, so the
// query embedder must be configured to the same dimension.
package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/philippgille/chromem-go"

	"github.com/kadirpekel/interagent/pkg/embedder"
)

// FuzzyDimension is the truncated embedding size the corpus files carry.
const FuzzyDimension = 256

// Span is one retrieved memory span.
type Span struct {
	Text       string
	Similarity float32
}

// FuzzyMemory answers nearest-neighbor queries over one master's corpus.
type FuzzyMemory struct {
	collection *chromem.Collection
	embedder   embedder.Embedder
	size       int
}

// OpenTSV loads the corpus at path. A missing file is not an error: the
// memory opens empty and every query returns no spans.
func OpenTSV(path string, emb embedder.Embedder) (*FuzzyMemory, error) {
	db := chromem.NewDB()
	collection, err := db.GetOrCreateCollection("fuzzy", nil, func(ctx context.Context, text string) ([]float32, error) {
		return emb.Embed(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create fuzzy collection: %w", err)
	}

	m := &FuzzyMemory{collection: collection, embedder: emb}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return m, nil
		}
		return nil, fmt.Errorf("failed to open memory corpus %s: %w", path, err)
	}
	defer f.Close()

	var docs []chromem.Document
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		row := scanner.Text()
		if line == 1 && strings.HasPrefix(row, "text\t") {
			continue
		}
		if strings.TrimSpace(row) == "" {
			continue
		}

		parts := strings.SplitN(row, "\t", 2)
		if len(parts) != 2 {
			continue
		}
		vec, err := parseVector(parts[1])
		if err != nil {
			return nil, fmt.Errorf("bad embedding at %s:%d: %w", path, line, err)
		}

		docs = append(docs, chromem.Document{
			ID:        strconv.Itoa(line),
			Content:   parts[0],
			Embedding: vec,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read memory corpus %s: %w", path, err)
	}

	if len(docs) > 0 {
		if err := collection.AddDocuments(context.Background(), docs, 1); err != nil {
			return nil, fmt.Errorf("failed to index memory corpus: %w", err)
		}
	}
	m.size = len(docs)
	return m, nil
}

// parseVector reads a "[f, f, ...]" float array.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty vector")
	}

	fields := strings.Split(s, ",")
	vec := make([]float32, 0, len(fields))
	for _, field := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(field), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q: %w", field, err)
		}
		vec = append(vec, float32(v))
	}
	return vec, nil
}

// Size returns the number of loaded spans.
func (m *FuzzyMemory) Size() int {
	return m.size
}

// Query embeds text and returns the topk nearest spans by cosine similarity.
// topk below 1 is raised to 1; an empty corpus yields no spans.
func (m *FuzzyMemory) Query(ctx context.Context, text string, topk int) ([]Span, error) {
	if m.size == 0 {
		return nil, nil
	}
	if topk < 1 {
		topk = 1
	}
	if topk > m.size {
		topk = m.size
	}

	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed memory query: %w", err)
	}

	results, err := m.collection.QueryEmbedding(ctx, vec, topk, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("memory query failed: %w", err)
	}

	spans := make([]Span, 0, len(results))
	for _, r := range results {
		spans = append(spans, Span{Text: r.Content, Similarity: r.Similarity})
	}
	return spans, nil
}
