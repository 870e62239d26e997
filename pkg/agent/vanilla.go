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

	"github.com/kadirpekel/interagent/pkg/reformat"
)

// contextSource supplies the two chat-history blocks of the prompt. Memory
// agents install their reactive retrieval here; everyone else fetches the
// plain histories.
type contextSource interface {
	contextBlocks(ctx context.Context, contact string, dialogue []string) (pair, cross string, err error)
}

// Vanilla answers from plain chat history in a single backend call.
type Vanilla struct {
	master     string
	task       string
	instructor bool
	deps       Deps
	source     contextSource
}

// NewVanilla builds a Vanilla agent.
func NewVanilla(master, task string, instructor bool, deps Deps) *Vanilla {
	v := &Vanilla{
		master:     master,
		task:       task,
		instructor: instructor,
		deps:       deps.withDefaults(),
	}
	v.source = v
	return v
}

// Master returns the human this agent represents.
func (v *Vanilla) Master() string { return v.master }

// Task returns the task bound at construction.
func (v *Vanilla) Task() string { return v.task }

// PlanText is empty: Vanilla agents keep no plan.
func (v *Vanilla) PlanText() string { return "" }

// contextBlocks fetches the current-pair and cross-contact histories.
func (v *Vanilla) contextBlocks(ctx context.Context, contact string, _ []string) (string, string, error) {
	pair, err := v.deps.Store.CurrentPairHistory(ctx, v.master, contact, maxRenderRows)
	if err != nil {
		return "", "", err
	}
	cross, err := v.deps.Store.CrossContactHistory(ctx, v.master, contact, maxRenderRows)
	if err != nil {
		return "", "", err
	}
	return renderRecords(pair), renderRecords(cross), nil
}

// assemblePrompt concatenates the five labeled segments in fixed order.
func (v *Vanilla) assemblePrompt(contact string, dialogue []string, pair, cross, formatKey string, formatVars map[string]string) (string, error) {
	system := v.deps.Prompts.ForRole(v.instructor)

	segments := make([]string, 0, 5)

	role, err := system.Render("role", map[string]string{
		"master":  v.master,
		"contact": contact,
	})
	if err != nil {
		return "", err
	}
	segments = append(segments, role)

	history, err := system.Render("chat_history", map[string]string{
		"current_chats": pair,
		"other_chats":   cross,
	})
	if err != nil {
		return "", err
	}
	segments = append(segments, history)

	task, err := system.Render("task", map[string]string{
		"contact": contact,
		"task":    v.task,
	})
	if err != nil {
		return "", err
	}
	segments = append(segments, task)

	agentHistory, err := system.Render("agent_chat_history", map[string]string{
		"agent_chat_history": renderDialogue(dialogue),
	})
	if err != nil {
		return "", err
	}
	segments = append(segments, agentHistory)

	format, err := system.Render(formatKey, formatVars)
	if err != nil {
		return "", err
	}
	segments = append(segments, format)

	return strings.Join(segments, "\n\n"), nil
}

// Query produces the next utterance.
func (v *Vanilla) Query(ctx context.Context, contact string, dialogue []string) (string, error) {
	pair, cross, err := v.source.contextBlocks(ctx, contact, dialogue)
	if err != nil {
		return "", fmt.Errorf("context retrieval failed for %s: %w", v.master, err)
	}

	prompt, err := v.assemblePrompt(contact, dialogue, pair, cross, "return_format", nil)
	if err != nil {
		return "", err
	}
	return v.generate(ctx, "Utterance", prompt)
}

// generate runs one backend call and records it in the event log.
func (v *Vanilla) generate(ctx context.Context, instruction, prompt string) (string, error) {
	response, err := v.deps.Provider.Generate(ctx, prompt)
	v.deps.Events.Log(instruction, prompt, response)
	if err != nil {
		return "", fmt.Errorf("backend call failed for %s: %w", v.master, err)
	}
	return strings.TrimSpace(response), nil
}

// Conclude derives the final answer from the dialogue.
func (v *Vanilla) Conclude(ctx context.Context, dialogue []string) (string, error) {
	prompt, err := v.deps.Prompts.Tool.Render("conclusion", map[string]string{
		"task":               v.task,
		"agent_chat_history": renderDialogue(dialogue),
	})
	if err != nil {
		return "", err
	}
	return v.generate(ctx, "Conclusion", prompt)
}

// ConcludeConsensus derives the final answer from both plans. For planless
// agents both plan slots render empty.
func (v *Vanilla) ConcludeConsensus(ctx context.Context, dialogue []string, otherPlan string) (string, error) {
	return v.concludeConsensus(ctx, dialogue, v.PlanText(), otherPlan)
}

func (v *Vanilla) concludeConsensus(ctx context.Context, dialogue []string, ownPlan, otherPlan string) (string, error) {
	prompt, err := v.deps.Prompts.Tool.Render("consensus_conclusion", map[string]string{
		"task":               v.task,
		"agent_chat_history": renderDialogue(dialogue),
		"infonav_a":          ownPlan,
		"infonav_b":          otherPlan,
	})
	if err != nil {
		return "", err
	}
	return v.generate(ctx, "Consensus conclusion", prompt)
}

// Friends lists the master's friends.
func (v *Vanilla) Friends(ctx context.Context) ([]string, error) {
	return v.deps.Store.Friends(ctx, v.master)
}

// ThirdParty asks the backend to pick an escalation target from the friend
// list minus self and the current counterpart. The choice is validated
// case-insensitively; an unknown name yields "".
func (v *Vanilla) ThirdParty(ctx context.Context, contact string) (string, error) {
	friends, err := v.Friends(ctx)
	if err != nil {
		return "", err
	}

	candidates := make([]string, 0, len(friends))
	for _, friend := range friends {
		if strings.EqualFold(friend, contact) || strings.EqualFold(friend, v.master) {
			continue
		}
		candidates = append(candidates, friend)
	}
	if len(candidates) == 0 {
		return "", nil
	}

	prompt, err := v.deps.Prompts.Tool.Render("raise_new_communication", map[string]string{
		"master":  v.master,
		"contact": contact,
		"task":    v.task,
		"friends": strings.Join(candidates, ", "),
	})
	if err != nil {
		return "", err
	}

	response, err := v.generate(ctx, "Third-party choice", prompt)
	if err != nil {
		return "", err
	}

	canonical := v.deps.Reformatter.Reform(ctx, response, map[string]any{"name": "example"})
	var choice struct {
		Name string `json:"name"`
	}
	if err := reformat.Decode(canonical, &choice); err != nil {
		return "", nil
	}

	for _, candidate := range candidates {
		if strings.EqualFold(candidate, strings.TrimSpace(choice.Name)) {
			return candidate, nil
		}
	}
	return "", nil
}

// Clone builds a fresh Vanilla agent for another master.
func (v *Vanilla) Clone(master string, instructor bool) (Agent, error) {
	return NewVanilla(master, v.task, instructor, v.deps), nil
}
