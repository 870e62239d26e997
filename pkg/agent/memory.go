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
	"fmt"
	"strings"

	"github.com/kadirpekel/interagent/pkg/chatstore"
	"github.com/kadirpekel/interagent/pkg/docindex"
	"github.com/kadirpekel/interagent/pkg/memory"
	"github.com/kadirpekel/interagent/pkg/reformat"
)

// retrievalMemo carries one channel's previous parameters and rendered
// result into the next parameterization call.
type retrievalMemo struct {
	params string
	result string
}

func newMemo() retrievalMemo {
	return retrievalMemo{params: "None", result: "None"}
}

func (m *retrievalMemo) update(params, result string) {
	m.params = params
	if strings.TrimSpace(result) == "" {
		m.result = "None"
		return
	}
	m.result = result
}

// sqlParams is the shape the keyword react call must produce.
type sqlParams struct {
	Keyword string `json:"keyword"`
	Window  int    `json:"window"`
	Limit   int    `json:"limit"`
}

// vectorParams is the shape the vector react call must produce.
type vectorParams struct {
	Query string `json:"query"`
	Topk  int    `json:"topk"`
}

// Memory replaces the direct history fetch with reactive keyword-windowed
// retrieval, plus the fuzzy vector memory and the document index on the
// cross-contact channel.
type Memory struct {
	*Think
	fuzzy *memory.FuzzyMemory
	docs  *docindex.Indexer

	pairMemo   retrievalMemo
	crossMemo  retrievalMemo
	vectorMemo retrievalMemo
}

// NewMemory builds a Memory agent, opening the master's fuzzy memory and,
// when the deps provide the factory, the document index.
func NewMemory(master, task string, instructor bool, deps Deps) (*Memory, error) {
	m := &Memory{
		Think:      NewThink(master, task, instructor, deps),
		pairMemo:   newMemo(),
		crossMemo:  newMemo(),
		vectorMemo: newMemo(),
	}
	m.source = m

	if deps.OpenFuzzy != nil {
		fuzzy, err := deps.OpenFuzzy(master)
		if err != nil {
			return nil, fmt.Errorf("failed to open fuzzy memory for %s: %w", master, err)
		}
		m.fuzzy = fuzzy
	}
	if deps.OpenDocs != nil {
		docs, err := deps.OpenDocs(master)
		if err != nil {
			return nil, fmt.Errorf("failed to open document index for %s: %w", master, err)
		}
		m.docs = docs
	}
	return m, nil
}

// contextBlocks runs the reactive retrieval on both channels.
func (m *Memory) contextBlocks(ctx context.Context, contact string, dialogue []string) (string, string, error) {
	pair, err := m.keywordChannel(ctx, contact, dialogue, &m.pairMemo, m.deps.Store.KeywordContextCurrentPair)
	if err != nil {
		return "", "", err
	}

	cross, err := m.keywordChannel(ctx, contact, dialogue, &m.crossMemo, m.deps.Store.KeywordContextCrossContact)
	if err != nil {
		return "", "", err
	}

	vector, err := m.vectorChannel(ctx, dialogue)
	if err != nil {
		return "", "", err
	}
	if vector != "" {
		cross = cross + vector
	}
	return pair, cross, nil
}

type keywordQuery func(ctx context.Context, master, contact, keyword string, window, limit int) ([]chatstore.Record, error)

// keywordChannel derives {keyword, window, limit} from the dialogue and the
// channel's memo, splits the keyword phrase, and merges the windowed rows of
// every keyword. An empty keyword set emits no rows.
func (m *Memory) keywordChannel(ctx context.Context, contact string, dialogue []string, memo *retrievalMemo, query keywordQuery) (string, error) {
	response, err := m.reactCall(ctx, "sql_react", contact, dialogue, memo)
	if err != nil {
		return "", err
	}

	canonical := m.deps.Reformatter.Reform(ctx, response, map[string]any{
		"keyword": "example", "window": 2, "limit": 10,
	})
	var params sqlParams
	if err := reformat.Decode(canonical, &params); err != nil {
		memo.update(canonical, "")
		return "", nil
	}

	keywords := splitKeywords(params.Keyword, m.deps.Stopwords)
	if len(keywords) == 0 {
		memo.update(canonical, "")
		return "", nil
	}

	seen := make(map[int64]bool)
	var merged []chatstore.Record
	for _, keyword := range keywords {
		records, err := query(ctx, m.master, contact, keyword, params.Window, params.Limit)
		if err != nil {
			return "", err
		}
		for _, r := range records {
			if seen[r.ID] {
				continue
			}
			seen[r.ID] = true
			merged = append(merged, r)
		}
	}

	rendered := renderRecords(merged)
	memo.update(canonical, rendered)
	return rendered, nil
}

// vectorChannel consults the fuzzy memory and the document index with
// {query, topk} derived the same reactive way.
func (m *Memory) vectorChannel(ctx context.Context, dialogue []string) (string, error) {
	if m.fuzzy == nil && m.docs == nil {
		return "", nil
	}

	response, err := m.reactCall(ctx, "faiss_react", "", dialogue, &m.vectorMemo)
	if err != nil {
		return "", err
	}

	canonical := m.deps.Reformatter.Reform(ctx, response, map[string]any{
		"query": "example", "topk": 2,
	})
	var params vectorParams
	if err := reformat.Decode(canonical, &params); err != nil || strings.TrimSpace(params.Query) == "" {
		m.vectorMemo.update(canonical, "")
		return "", nil
	}

	var sb strings.Builder
	if m.fuzzy != nil {
		spans, err := m.fuzzy.Query(ctx, params.Query, params.Topk)
		if err != nil {
			return "", err
		}
		for _, span := range spans {
			sb.WriteString(span.Text)
			sb.WriteByte('\n')
		}
	}
	if m.docs != nil {
		passage, err := m.docs.Query(ctx, params.Query, params.Topk)
		if err != nil {
			return "", err
		}
		if passage != "" {
			sb.WriteString(passage)
			sb.WriteByte('\n')
		}
	}

	rendered := sb.String()
	m.vectorMemo.update(canonical, rendered)
	return rendered, nil
}

// reactCall renders one parameterization prompt and runs it.
func (m *Memory) reactCall(ctx context.Context, key, contact string, dialogue []string, memo *retrievalMemo) (string, error) {
	prompt, err := m.deps.Prompts.Tool.Render(key, map[string]string{
		"master":                m.master,
		"contact":               contact,
		"task":                  m.task,
		"agent_chat_history":    renderDialogue(dialogue),
		"previous_query_params": memo.params,
		"previous_result":       memo.result,
	})
	if err != nil {
		return "", err
	}
	return m.generate(ctx, "Retrieval params", prompt)
}

// Clone builds a fresh Memory agent for another master with its own memos
// and memories.
func (m *Memory) Clone(master string, instructor bool) (Agent, error) {
	return NewMemory(master, m.task, instructor, m.deps)
}
