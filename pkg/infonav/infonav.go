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

// Package infonav tracks the plan and its known/unknown rationale slots.
//
// A plan moves through three statuses. In the marked plan, unresolved slots
// appear as bracket tokens [slot]; resolving one rewrites it in place to
// [slot](Solved, which is VALUE). The registry keeps the two slot sets
// disjoint: a tentative value whose text still contains "unknown" stays in
// the unknown set.
package infonav

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Status is the plan lifecycle state.
type Status int

const (
	// StatusDraft means no plan text exists yet.
	StatusDraft Status = iota
	// StatusMarked means the plan exists and awaits bracket annotation.
	StatusMarked
	// StatusUpdating means slots are installed and updates merge per turn.
	StatusUpdating
)

func (s Status) String() string {
	switch s {
	case StatusDraft:
		return "draft"
	case StatusMarked:
		return "marked"
	case StatusUpdating:
		return "updating"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// slotPattern matches non-nested bracket tokens.
var slotPattern = regexp.MustCompile(`\[([^\[\]]+)\]`)

// Registry holds one agent's plan slots. Values in unknown are tentative:
// recorded but not yet trusted enough to resolve the slot.
type Registry struct {
	known   map[string]string
	unknown map[string]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		known:   make(map[string]string),
		unknown: make(map[string]string),
	}
}

// SetUnknownFromPlan extracts every bracket token from the marked plan and
// installs the slots as unknown. Previously installed slots are replaced.
func (r *Registry) SetUnknownFromPlan(planText string) {
	r.known = make(map[string]string)
	r.unknown = make(map[string]string)
	for _, match := range slotPattern.FindAllStringSubmatch(planText, -1) {
		r.unknown[match[1]] = ""
	}
}

// Merge applies an updates mapping to the plan. For each slot present both in
// the plan as a bracket token and in the unknown set, the token is rewritten
// to its solved form and the value recorded. A value containing "unknown"
// (case-insensitive) keeps the slot unknown with the tentative value stored.
// The rewritten plan text is returned.
func (r *Registry) Merge(planText string, updates map[string]string) string {
	for key, value := range updates {
		token := "[" + key + "]"
		if _, pending := r.unknown[key]; !pending {
			continue
		}
		if !strings.Contains(planText, token) {
			continue
		}

		if strings.Contains(strings.ToLower(value), "unknown") {
			r.unknown[key] = value
			continue
		}

		solved := fmt.Sprintf("%s(Solved, which is %s)", token, value)
		planText = strings.Replace(planText, token, solved, 1)
		r.known[key] = value
		delete(r.unknown, key)
	}
	return planText
}

// Known returns a copy of the resolved slots.
func (r *Registry) Known() map[string]string {
	out := make(map[string]string, len(r.known))
	for k, v := range r.known {
		out[k] = v
	}
	return out
}

// Unknown returns the unresolved slot names, sorted.
func (r *Registry) Unknown() []string {
	names := make([]string, 0, len(r.unknown))
	for k := range r.unknown {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// RenderKnown produces the deterministic enumeration embedded in prompts.
func (r *Registry) RenderKnown() string {
	keys := make([]string, 0, len(r.known))
	for k := range r.known {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&sb, "known fact: %s --> %s\n", k, r.known[k])
	}
	return sb.String()
}

// RenderUnknown produces the deterministic enumeration of unresolved slots.
func (r *Registry) RenderUnknown() string {
	var sb strings.Builder
	for _, k := range r.Unknown() {
		fmt.Fprintf(&sb, "unknown fact: %s\n", k)
	}
	return sb.String()
}
