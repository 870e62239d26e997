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

// Package agent implements the per-master agents that produce utterances.
//
// Three variants build on each other. Vanilla fetches plain chat history and
// answers in one backend call. Think adds the plan machine: it drafts and
// marks a plan on its first turn and merges learned facts on every later
// turn. Memory replaces the direct history fetch with reactive retrieval
// whose parameters come from a backend call steered by the previous turn's
// memo.
package agent

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/kadirpekel/interagent/pkg/chatstore"
	"github.com/kadirpekel/interagent/pkg/docindex"
	"github.com/kadirpekel/interagent/pkg/eventlog"
	"github.com/kadirpekel/interagent/pkg/llms"
	"github.com/kadirpekel/interagent/pkg/memory"
	"github.com/kadirpekel/interagent/pkg/prompts"
	"github.com/kadirpekel/interagent/pkg/reformat"
)

// maxRenderRows caps the rendered chat rows per channel per turn.
const maxRenderRows = 30

// Agent is the per-turn contract the communication drives.
type Agent interface {
	// Master returns the human this agent represents.
	Master() string

	// Task returns the task bound at construction.
	Task() string

	// Query produces this agent's next utterance given the counterpart's
	// master name and the dialogue so far.
	Query(ctx context.Context, contact string, dialogue []string) (string, error)

	// Conclude derives the final answer from the dialogue.
	Conclude(ctx context.Context, dialogue []string) (string, error)

	// ConcludeConsensus derives the final answer from the dialogue and both
	// agents' final plan texts.
	ConcludeConsensus(ctx context.Context, dialogue []string, otherPlan string) (string, error)

	// PlanText returns the current plan, empty for planless agents.
	PlanText() string

	// Friends lists the master's friends.
	Friends(ctx context.Context) ([]string, error)

	// ThirdParty picks a friend (other than contact and self) to escalate
	// to. It returns "" when the model's choice is not in the friend set.
	ThirdParty(ctx context.Context, contact string) (string, error)

	// Clone builds a fresh agent of the same kind bound to another master,
	// with its own plan, registry and memos.
	Clone(master string, instructor bool) (Agent, error)
}

// Deps bundles the shared collaborators an agent needs. OpenFuzzy and
// OpenDocs are per-master factories so clones can open their own memories;
// they are only required for Memory agents.
type Deps struct {
	Provider    llms.Provider
	Prompts     *prompts.Set
	Reformatter *reformat.Reformatter
	Store       *chatstore.Store
	Events      *eventlog.Logger
	Stopwords   map[string]bool

	OpenFuzzy func(master string) (*memory.FuzzyMemory, error)
	OpenDocs  func(master string) (*docindex.Indexer, error)
}

func (d Deps) withDefaults() Deps {
	if d.Events == nil {
		d.Events = eventlog.NewDiscard()
	}
	if d.Stopwords == nil {
		d.Stopwords = map[string]bool{}
	}
	return d
}

// LoadStopwords reads one stopword per line from path, lower-cased. An empty
// path yields an empty set; the deployment supplies the word list.
func LoadStopwords(path string) (map[string]bool, error) {
	words := make(map[string]bool)
	if path == "" {
		return words, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stopwords file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if word := strings.ToLower(strings.TrimSpace(line)); word != "" {
			words[word] = true
		}
	}
	return words, nil
}

// keywordSplitPattern separates keyword phrases the react call emits.
var keywordSplitPattern = regexp.MustCompile(`[/\s'"]+`)

// splitKeywords lower-cases the phrase, splits it on slashes, whitespace,
// apostrophes and quotes, and drops stopwords and duplicates.
func splitKeywords(phrase string, stopwords map[string]bool) []string {
	seen := make(map[string]bool)
	var keywords []string
	for _, word := range keywordSplitPattern.Split(strings.ToLower(phrase), -1) {
		if word == "" || stopwords[word] || seen[word] {
			continue
		}
		seen[word] = true
		keywords = append(keywords, word)
	}
	return keywords
}

// renderRecords formats chat rows one per line, oldest first, capped at
// maxRenderRows with the newest rows kept.
func renderRecords(records []chatstore.Record) string {
	if len(records) > maxRenderRows {
		records = records[len(records)-maxRenderRows:]
	}
	var sb strings.Builder
	for _, r := range records {
		fmt.Fprintf(&sb, "%s to %s: %s\n", r.Sender, r.Receiver, r.Message)
	}
	return sb.String()
}

// renderDialogue joins the agent-to-agent dialogue for prompt embedding.
func renderDialogue(dialogue []string) string {
	return strings.Join(dialogue, "\n")
}
