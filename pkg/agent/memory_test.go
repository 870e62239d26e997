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

package agent

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/interagent/pkg/memory"
)

// keyedEmbedder maps marker words to fixed two-dimensional vectors so
// nearest-neighbor results are deterministic.
type keyedEmbedder struct{}

func (keyedEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if strings.Contains(strings.ToLower(text), "sushi") {
		return []float32{1, 0}, nil
	}
	return []float32{0, 1}, nil
}

func (e keyedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (keyedEmbedder) Dimension() int { return 2 }
func (keyedEmbedder) Model() string  { return "keyed" }
func (keyedEmbedder) Close() error   { return nil }

func writeFuzzyCorpus(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Alice.tsv")
	corpus := "text\temb\n" +
		"Alice likes sushi\t[1, 0]\n" +
		"Alice dislikes rain\t[0, 1]\n"
	require.NoError(t, os.WriteFile(path, []byte(corpus), 0o644))
	return path
}

func newMemoryAgent(t *testing.T, provider *scriptProvider, withFuzzy bool) *Memory {
	t.Helper()
	deps := testDeps(t, provider)
	deps.Stopwords = map[string]bool{"the": true}

	if withFuzzy {
		path := writeFuzzyCorpus(t)
		deps.OpenFuzzy = func(string) (*memory.FuzzyMemory, error) {
			return memory.OpenTSV(path, keyedEmbedder{})
		}
	}

	m, err := NewMemory("Alice", "plan a trip", true, deps)
	require.NoError(t, err)
	return m
}

func TestMemoryQueryKeywordRetrieval(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{responses: []string{
		"draft", "marked [destination]",
		`{"keyword": "budget", "window": 1, "limit": 10}`, // pair channel
		`{"keyword": "budget", "window": 1, "limit": 10}`, // cross channel
		"utterance",
	}}

	m := newMemoryAgent(t, provider, false)
	require.NoError(t, m.deps.Store.Insert(ctx, "Alice", "Bob", "the budget is 800", ""))
	require.NoError(t, m.deps.Store.Insert(ctx, "Alice", "Carol", "budget for the gift", ""))

	text, err := m.Query(ctx, "Bob", nil)
	require.NoError(t, err)
	assert.Equal(t, "utterance", text)

	prompt := provider.lastPrompt()
	assert.Contains(t, prompt, "Alice to Bob: the budget is 800")
	assert.Contains(t, prompt, "Alice to Carol: budget for the gift")

	// Memos now carry this turn's parameters and results.
	assert.Contains(t, m.pairMemo.params, `"budget"`)
	assert.Contains(t, m.pairMemo.result, "the budget is 800")
	assert.Contains(t, m.crossMemo.result, "budget for the gift")
}

func TestMemoryReactPromptCarriesMemo(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{responses: []string{
		"draft", "marked [destination]",
		`{"keyword": "budget", "window": 1, "limit": 10}`,
		`{"keyword": "budget", "window": 1, "limit": 10}`,
		"utterance one",
		`{"destination": "unknown"}`, // plan update
		`{"keyword": "hotel", "window": 1, "limit": 10}`,
		`{"keyword": "hotel", "window": 1, "limit": 10}`,
		"utterance two",
	}}

	m := newMemoryAgent(t, provider, false)
	require.NoError(t, m.deps.Store.Insert(ctx, "Alice", "Bob", "the budget is 800", ""))

	_, err := m.Query(ctx, "Bob", nil)
	require.NoError(t, err)

	// First turn starts from the None memo.
	firstReact := provider.prompts[2]
	assert.Contains(t, firstReact, "prev=None")
	assert.Contains(t, firstReact, "result=None")

	_, err = m.Query(ctx, "Bob", nil)
	require.NoError(t, err)

	secondReact := provider.prompts[6]
	assert.Contains(t, secondReact, `prev={"keyword": "budget"`)
	assert.Contains(t, secondReact, "result=Alice to Bob: the budget is 800")
}

func TestMemoryKeywordChannelAllStopwords(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{responses: []string{
		"draft", "marked [destination]",
		`{"keyword": "the", "window": 1, "limit": 10}`,
		`{"keyword": "the", "window": 1, "limit": 10}`,
		"utterance",
	}}

	m := newMemoryAgent(t, provider, false)
	require.NoError(t, m.deps.Store.Insert(ctx, "Alice", "Bob", "the budget is 800", ""))

	_, err := m.Query(ctx, "Bob", nil)
	require.NoError(t, err)

	assert.Equal(t, "None", m.pairMemo.result, "a fully filtered keyword set retrieves nothing")
	assert.NotContains(t, provider.lastPrompt(), "budget is 800")
}

func TestMemoryVectorChannel(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{responses: []string{
		"draft", "marked [destination]",
		`{"keyword": "budget", "window": 1, "limit": 10}`,
		`{"keyword": "budget", "window": 1, "limit": 10}`,
		`{"query": "what food does Alice like, sushi?", "topk": 1}`,
		"utterance",
	}}

	m := newMemoryAgent(t, provider, true)

	_, err := m.Query(ctx, "Bob", nil)
	require.NoError(t, err)

	prompt := provider.lastPrompt()
	assert.Contains(t, prompt, "Alice likes sushi")
	assert.NotContains(t, prompt, "Alice dislikes rain", "topk 1 keeps only the nearest span")
	assert.Contains(t, m.vectorMemo.result, "Alice likes sushi")
}

func TestMemoryVectorChannelSkippedWithoutBackends(t *testing.T) {
	provider := &scriptProvider{responses: []string{
		"draft", "marked [destination]",
		`{"keyword": "budget", "window": 1, "limit": 10}`,
		`{"keyword": "budget", "window": 1, "limit": 10}`,
		"utterance",
	}}

	m := newMemoryAgent(t, provider, false)
	_, err := m.Query(context.Background(), "Bob", nil)
	require.NoError(t, err)

	// Exactly five calls: init, mark, two react calls, utterance.
	assert.Len(t, provider.prompts, 5)
	assert.Equal(t, "None", m.vectorMemo.params)
}

func TestMemoryCloneGetsOwnMemos(t *testing.T) {
	provider := &scriptProvider{}
	m := newMemoryAgent(t, provider, true)
	m.pairMemo.update(`{"keyword": "x"}`, "rows")

	clone, err := m.Clone("Carol", false)
	require.NoError(t, err)

	cloned, ok := clone.(*Memory)
	require.True(t, ok)
	assert.Equal(t, "Carol", cloned.Master())
	assert.Equal(t, "None", cloned.pairMemo.params)
	assert.NotNil(t, cloned.fuzzy, "clones open their own fuzzy memory")
}
