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
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kadirpekel/interagent/pkg/infonav"
)

// Think maintains a plan: drafted and bracket-marked on the first turn,
// updated with learned facts on every later turn.
type Think struct {
	*Vanilla
	status   infonav.Status
	plan     string
	registry *infonav.Registry
}

// NewThink builds a Think agent with an empty plan.
func NewThink(master, task string, instructor bool, deps Deps) *Think {
	t := &Think{
		Vanilla:  NewVanilla(master, task, instructor, deps),
		status:   infonav.StatusDraft,
		registry: infonav.NewRegistry(),
	}
	t.source = t
	return t
}

// PlanText returns the current plan.
func (t *Think) PlanText() string { return t.plan }

// Status returns the plan lifecycle state.
func (t *Think) Status() infonav.Status { return t.status }

// Query advances the plan machine, then emits the utterance with the
// with-plan return format.
func (t *Think) Query(ctx context.Context, contact string, dialogue []string) (string, error) {
	if err := t.advancePlan(ctx, dialogue); err != nil {
		return "", err
	}

	pair, cross, err := t.source.contextBlocks(ctx, contact, dialogue)
	if err != nil {
		return "", fmt.Errorf("context retrieval failed for %s: %w", t.master, err)
	}

	prompt, err := t.assemblePrompt(contact, dialogue, pair, cross,
		"return_format_withinfonav", map[string]string{
			"infonav":       t.plan,
			"unknown_facts": t.registry.RenderUnknown(),
		})
	if err != nil {
		return "", err
	}
	return t.generate(ctx, "Utterance", prompt)
}

// advancePlan runs the draft-mark steps on the first turn and the update
// step on every later one.
func (t *Think) advancePlan(ctx context.Context, dialogue []string) error {
	switch t.status {
	case infonav.StatusDraft:
		if err := t.initPlan(ctx); err != nil {
			return err
		}
		return t.markPlan(ctx)
	case infonav.StatusMarked:
		return t.markPlan(ctx)
	default:
		return t.updatePlan(ctx, dialogue)
	}
}

func (t *Think) initPlan(ctx context.Context) error {
	prompt, err := t.deps.Prompts.Tool.Render("infonav_init", map[string]string{
		"task": t.task,
	})
	if err != nil {
		return err
	}

	draft, err := t.generate(ctx, "InfoNav init", prompt)
	if err != nil {
		return err
	}
	t.plan = draft
	t.status = infonav.StatusMarked
	t.deps.Events.Instruction("Plan of %s entered %s", t.master, t.status)
	return nil
}

func (t *Think) markPlan(ctx context.Context) error {
	prompt, err := t.deps.Prompts.Tool.Render("infonav_mark", map[string]string{
		"task":    t.task,
		"infonav": t.plan,
	})
	if err != nil {
		return err
	}

	marked, err := t.generate(ctx, "InfoNav mark", prompt)
	if err != nil {
		return err
	}
	t.plan = marked
	t.registry.SetUnknownFromPlan(marked)
	t.status = infonav.StatusUpdating
	t.deps.Events.Instruction("Plan of %s entered %s", t.master, t.status)
	return nil
}

// updatePlan merges the facts learned from the dialogue into the plan. A
// response that yields no JSON keeps the plan and the unknown set as they
// are.
func (t *Think) updatePlan(ctx context.Context, dialogue []string) error {
	prompt, err := t.deps.Prompts.Tool.Render("infonav_update", map[string]string{
		"task":               t.task,
		"infonav":            t.plan,
		"known_facts":        t.registry.RenderKnown(),
		"unknown_facts":      t.registry.RenderUnknown(),
		"agent_chat_history": renderDialogue(dialogue),
	})
	if err != nil {
		return err
	}

	response, err := t.generate(ctx, "InfoNav update", prompt)
	if err != nil {
		return err
	}

	canonical := t.deps.Reformatter.ReformFree(ctx, response)
	var raw map[string]any
	if err := json.Unmarshal([]byte(canonical), &raw); err != nil || len(raw) == 0 {
		slog.Debug("plan update produced no facts", "master", t.master)
		return nil
	}

	updates := make(map[string]string, len(raw))
	for k, v := range raw {
		updates[k] = fmt.Sprint(v)
	}
	t.plan = t.registry.Merge(t.plan, updates)
	return nil
}

// ConcludeConsensus reconciles this agent's plan with the counterpart's.
func (t *Think) ConcludeConsensus(ctx context.Context, dialogue []string, otherPlan string) (string, error) {
	return t.concludeConsensus(ctx, dialogue, t.plan, otherPlan)
}

// Clone builds a fresh Think agent for another master.
func (t *Think) Clone(master string, instructor bool) (Agent, error) {
	return NewThink(master, t.task, instructor, t.deps), nil
}
