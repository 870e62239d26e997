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

// Package comm orchestrates the bounded two-agent dialogue.
//
// A communication broadcasts the task, optionally escalates to a third party
// once per agent, runs strictly serial rounds of one instructor and one
// assistant utterance each, and closes with a conclusion. Third-party
// escalation spawns one nested communication with consensus on and
// escalation off, so recursion depth never exceeds one.
package comm

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/kadirpekel/interagent/pkg/agent"
	"github.com/kadirpekel/interagent/pkg/eventlog"
)

// broadcastPrefix opens every communication's first history entry.
const broadcastPrefix = "[Trigger Agents Communication for Task Solving, Task Prompt]: "

// FailedConclusion is returned when the dialogue could not be concluded.
const FailedConclusion = "unable to conclude"

// Communication drives one dialogue session between two agents.
type Communication struct {
	instructor agent.Agent
	assistant  agent.Agent
	maxRounds  int

	consensus    bool
	multiParty   bool
	nestedRounds int
	sink         Sink
	events       *eventlog.Logger

	history []string
}

// Option configures a Communication.
type Option func(*Communication)

// WithConsensus toggles the consensus conclusion.
func WithConsensus(on bool) Option {
	return func(c *Communication) { c.consensus = on }
}

// WithMultiParty enables third-party escalation at round zero.
func WithMultiParty(on bool) Option {
	return func(c *Communication) { c.multiParty = on }
}

// WithNestedRounds bounds the rounds of escalation sub-dialogues.
func WithNestedRounds(rounds int) Option {
	return func(c *Communication) { c.nestedRounds = rounds }
}

// WithSink routes utterances to a persistence sink.
func WithSink(sink Sink) Option {
	return func(c *Communication) { c.sink = sink }
}

// WithEvents sets the audit trail.
func WithEvents(events *eventlog.Logger) Option {
	return func(c *Communication) { c.events = events }
}

// WithPreparedHistory preloads dialogue entries recorded by an earlier
// session; they precede the broadcast.
func WithPreparedHistory(history []string) Option {
	return func(c *Communication) {
		c.history = append(c.history, history...)
	}
}

// New builds a communication between an instructor and an assistant.
func New(instructor, assistant agent.Agent, maxRounds int, opts ...Option) *Communication {
	c := &Communication{
		instructor: instructor,
		assistant:  assistant,
		maxRounds:  maxRounds,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.nestedRounds == 0 {
		c.nestedRounds = maxRounds
	}
	if c.sink == nil {
		c.sink = discardSink{}
	}
	if c.events == nil {
		c.events = eventlog.NewDiscard()
	}
	return c
}

// History returns the dialogue entries appended so far.
func (c *Communication) History() []string {
	out := make([]string, len(c.history))
	copy(out, c.history)
	return out
}

// Utterances yields the dialogue entries in append order.
func (c *Communication) Utterances() iter.Seq[string] {
	return func(yield func(string) bool) {
		for _, entry := range c.history {
			if !yield(entry) {
				return
			}
		}
	}
}

func entry(fromMaster, toMaster, text string) string {
	return fmt.Sprintf("from <%s's Agent> to <%s's Agent>: %s", fromMaster, toMaster, text)
}

func (c *Communication) append(ctx context.Context, fromMaster, toMaster, text, recordedHistory string) error {
	c.history = append(c.history, entry(fromMaster, toMaster, text))
	return c.sink.Record(ctx, fromMaster, toMaster, text, recordedHistory)
}

// Run executes the full state machine and returns the conclusion. On a
// failed backend call it returns the partial history's FailedConclusion
// together with the error.
func (c *Communication) Run(ctx context.Context) (string, error) {
	iMaster := c.instructor.Master()
	aMaster := c.assistant.Master()
	c.events.Instruction("Communication started between %s and %s", iMaster, aMaster)

	// Broadcast the task. The only entry where sender equals receiver.
	broadcast := broadcastPrefix + c.instructor.Task()
	if err := c.append(ctx, iMaster, iMaster, broadcast, ""); err != nil {
		return FailedConclusion, err
	}

	if c.multiParty {
		if err := c.escalate(ctx, c.instructor, aMaster); err != nil {
			return FailedConclusion, err
		}
		if err := c.escalate(ctx, c.assistant, iMaster); err != nil {
			return FailedConclusion, err
		}
	}

	for round := 0; round < c.maxRounds; round++ {
		c.events.Instruction("Round %d between %s and %s", round+1, iMaster, aMaster)

		text, err := c.instructor.Query(ctx, aMaster, c.History())
		if err != nil {
			return FailedConclusion, err
		}
		if err := c.append(ctx, iMaster, aMaster, text, ""); err != nil {
			return FailedConclusion, err
		}

		text, err = c.assistant.Query(ctx, iMaster, c.History())
		if err != nil {
			return FailedConclusion, err
		}
		if err := c.append(ctx, aMaster, iMaster, text, ""); err != nil {
			return FailedConclusion, err
		}
	}

	conclusion, err := c.conclude(ctx)
	if err != nil {
		return FailedConclusion, err
	}
	if err := c.sink.Record(ctx, iMaster, aMaster, conclusion, renderHistory(c.history)); err != nil {
		return FailedConclusion, err
	}
	c.events.Instruction("Communication concluded between %s and %s", iMaster, aMaster)
	return conclusion, nil
}

func (c *Communication) conclude(ctx context.Context) (string, error) {
	if c.consensus {
		return c.instructor.ConcludeConsensus(ctx, c.History(), c.assistant.PlanText())
	}
	return c.instructor.Conclude(ctx, c.History())
}

// escalate lets one agent raise a nested communication with a chosen
// third party. An unknown choice is logged and contributes nothing; a failed
// nested dialogue degrades to a "None" entry.
func (c *Communication) escalate(ctx context.Context, escalator agent.Agent, contact string) error {
	friend, err := escalator.ThirdParty(ctx, contact)
	if err != nil {
		return err
	}
	master := escalator.Master()
	if friend == "" {
		c.events.Instruction("Failed to find third-party for %s", master)
		return nil
	}

	c.events.Instruction("Escalation of %s to %s", master, friend)

	nestedInstructor, err := escalator.Clone(master, true)
	if err != nil {
		return err
	}
	nestedAssistant, err := escalator.Clone(friend, false)
	if err != nil {
		return err
	}

	nested := New(nestedInstructor, nestedAssistant, c.nestedRounds,
		WithConsensus(true),
		WithMultiParty(false),
		WithSink(c.sink),
		WithEvents(c.events),
	)

	summary, err := nested.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.events.Instruction("Nested communication of %s with %s failed", master, friend)
		summary = "None"
	}
	return c.append(ctx, master, contact, summary, "")
}

func renderHistory(history []string) string {
	return strings.Join(history, "\n")
}
