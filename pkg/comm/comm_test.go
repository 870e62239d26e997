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

package comm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/interagent/pkg/agent"
	"github.com/kadirpekel/interagent/pkg/chatstore"
)

// fakeAgent is a scriptable agent.Agent for orchestration tests.
type fakeAgent struct {
	master string
	task   string
	plan   string

	friend   string
	queryErr error
	turns    int

	lastOtherPlan string
	lastDialogue  []string
}

func newFakeAgent(master, task string) *fakeAgent {
	return &fakeAgent{master: master, task: task}
}

func (f *fakeAgent) Master() string { return f.master }
func (f *fakeAgent) Task() string   { return f.task }

func (f *fakeAgent) Query(_ context.Context, contact string, dialogue []string) (string, error) {
	if f.queryErr != nil {
		return "", f.queryErr
	}
	f.turns++
	f.lastDialogue = dialogue
	return fmt.Sprintf("%s turn %d to %s", f.master, f.turns, contact), nil
}

func (f *fakeAgent) Conclude(_ context.Context, dialogue []string) (string, error) {
	f.lastDialogue = dialogue
	return f.master + " conclusion", nil
}

func (f *fakeAgent) ConcludeConsensus(_ context.Context, dialogue []string, otherPlan string) (string, error) {
	f.lastDialogue = dialogue
	f.lastOtherPlan = otherPlan
	return f.master + " consensus", nil
}

func (f *fakeAgent) PlanText() string { return f.plan }

func (f *fakeAgent) Friends(context.Context) ([]string, error) {
	if f.friend == "" {
		return nil, nil
	}
	return []string{f.friend}, nil
}

func (f *fakeAgent) ThirdParty(context.Context, string) (string, error) {
	return f.friend, nil
}

func (f *fakeAgent) Clone(master string, _ bool) (agent.Agent, error) {
	return newFakeAgent(master, f.task), nil
}

// memSink collects recorded rows in memory.
type memSink struct {
	rows [][4]string
}

func (s *memSink) Record(_ context.Context, from, to, message, history string) error {
	s.rows = append(s.rows, [4]string{from, to, message, history})
	return nil
}

func TestRunHistoryShape(t *testing.T) {
	instructor := newFakeAgent("Alice", "plan a trip")
	assistant := newFakeAgent("Bob", "plan a trip")

	c := New(instructor, assistant, 2)
	conclusion, err := c.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Alice conclusion", conclusion)

	history := c.History()
	require.Len(t, history, 5, "broadcast plus two entries per round")

	assert.Equal(t, "from <Alice's Agent> to <Alice's Agent>: "+broadcastPrefix+"plan a trip", history[0])
	assert.Equal(t, "from <Alice's Agent> to <Bob's Agent>: Alice turn 1 to Bob", history[1])
	assert.Equal(t, "from <Bob's Agent> to <Alice's Agent>: Bob turn 1 to Alice", history[2])
	assert.Equal(t, "from <Alice's Agent> to <Bob's Agent>: Alice turn 2 to Bob", history[3])
	assert.Equal(t, "from <Bob's Agent> to <Alice's Agent>: Bob turn 2 to Alice", history[4])
}

func TestRunSerialDialogueVisibility(t *testing.T) {
	instructor := newFakeAgent("Alice", "task")
	assistant := newFakeAgent("Bob", "task")

	c := New(instructor, assistant, 1)
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	// The assistant's turn saw the instructor's utterance already appended.
	require.Len(t, assistant.lastDialogue, 2)
	assert.Contains(t, assistant.lastDialogue[1], "Alice turn 1 to Bob")
}

func TestRunConsensusConclusion(t *testing.T) {
	instructor := newFakeAgent("Alice", "task")
	assistant := newFakeAgent("Bob", "task")
	assistant.plan = "bob's plan"

	c := New(instructor, assistant, 1, WithConsensus(true))
	conclusion, err := c.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Alice consensus", conclusion)
	assert.Equal(t, "bob's plan", instructor.lastOtherPlan)
}

func TestRunQueryErrorFailsConclusion(t *testing.T) {
	instructor := newFakeAgent("Alice", "task")
	assistant := newFakeAgent("Bob", "task")
	assistant.queryErr = fmt.Errorf("backend down")

	c := New(instructor, assistant, 3)
	conclusion, err := c.Run(context.Background())
	assert.Error(t, err)
	assert.Equal(t, FailedConclusion, conclusion)
}

func TestRunMultiPartyEscalation(t *testing.T) {
	instructor := newFakeAgent("Alice", "task")
	instructor.friend = "Carol"
	assistant := newFakeAgent("Bob", "task")

	sink := &memSink{}
	c := New(instructor, assistant, 1,
		WithMultiParty(true), WithNestedRounds(1), WithSink(sink))

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	history := c.History()
	// Broadcast, one escalation summary, one round.
	require.Len(t, history, 4)
	assert.True(t, strings.HasPrefix(history[1], "from <Alice's Agent> to <Bob's Agent>: "),
		"escalation summary is addressed to the original counterpart")
	assert.Contains(t, history[1], "consensus", "nested dialogues conclude by consensus")

	// The nested communication recorded its own broadcast into the shared sink.
	var nestedBroadcasts int
	for _, row := range sink.rows {
		if row[0] == "Alice" && row[1] == "Alice" && strings.HasPrefix(row[2], broadcastPrefix) {
			nestedBroadcasts++
		}
	}
	assert.Equal(t, 2, nestedBroadcasts, "outer and nested broadcast both flow through the sink")
}

func TestRunMultiPartyBothAgentsEscalate(t *testing.T) {
	instructor := newFakeAgent("Alice", "task")
	instructor.friend = "Carol"
	assistant := newFakeAgent("Bob", "task")
	assistant.friend = "Dave"

	c := New(instructor, assistant, 1, WithMultiParty(true), WithNestedRounds(1))
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	history := c.History()
	// Broadcast, two escalation summaries, one round.
	require.Len(t, history, 5)
	assert.True(t, strings.HasPrefix(history[1], "from <Alice's Agent> to <Bob's Agent>: "))
	assert.True(t, strings.HasPrefix(history[2], "from <Bob's Agent> to <Alice's Agent>: "))
}

func TestRunMultiPartyNoFriendFound(t *testing.T) {
	instructor := newFakeAgent("Alice", "task")
	assistant := newFakeAgent("Bob", "task")

	c := New(instructor, assistant, 1, WithMultiParty(true))
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	// Broadcast plus one round only: failed escalations leave no entry.
	assert.Len(t, c.History(), 3)
}

func TestRunNestedFailureDegradesToNone(t *testing.T) {
	instructor := &failingCloneAgent{fakeAgent: *newFakeAgent("Alice", "task")}
	instructor.friend = "Carol"
	assistant := newFakeAgent("Bob", "task")

	c := New(instructor, assistant, 1, WithMultiParty(true))
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	history := c.History()
	require.Len(t, history, 4)
	assert.Equal(t, "from <Alice's Agent> to <Bob's Agent>: None", history[1])
}

// failingCloneAgent clones agents whose queries always fail, so the nested
// communication cannot complete.
type failingCloneAgent struct {
	fakeAgent
}

func (f *failingCloneAgent) Clone(master string, _ bool) (agent.Agent, error) {
	clone := newFakeAgent(master, f.task)
	clone.queryErr = fmt.Errorf("nested backend down")
	return clone, nil
}

func TestRunCancelledContextPropagates(t *testing.T) {
	assistant := newFakeAgent("Bob", "task")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	blocked := &ctxAwareAgent{fakeAgent: *newFakeAgent("Alice", "task")}
	c := New(blocked, assistant, 1)

	conclusion, err := c.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, FailedConclusion, conclusion)
}

// ctxAwareAgent fails its query once the context is done.
type ctxAwareAgent struct {
	fakeAgent
}

func (a *ctxAwareAgent) Query(ctx context.Context, contact string, dialogue []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return a.fakeAgent.Query(ctx, contact, dialogue)
}

func TestWithPreparedHistoryPrecedesBroadcast(t *testing.T) {
	instructor := newFakeAgent("Alice", "task")
	assistant := newFakeAgent("Bob", "task")

	prepared := []string{"from <Alice's Agent> to <Bob's Agent>: earlier session"}
	c := New(instructor, assistant, 1, WithPreparedHistory(prepared))

	_, err := c.Run(context.Background())
	require.NoError(t, err)

	history := c.History()
	require.Len(t, history, 4)
	assert.Equal(t, prepared[0], history[0])
	assert.Contains(t, history[1], broadcastPrefix)
}

func TestUtterancesIteratesInOrder(t *testing.T) {
	instructor := newFakeAgent("Alice", "task")
	assistant := newFakeAgent("Bob", "task")

	c := New(instructor, assistant, 1)
	_, err := c.Run(context.Background())
	require.NoError(t, err)

	var collected []string
	for u := range c.Utterances() {
		collected = append(collected, u)
	}
	assert.Equal(t, c.History(), collected)
}

func TestConclusionRowCarriesHistory(t *testing.T) {
	instructor := newFakeAgent("Alice", "task")
	assistant := newFakeAgent("Bob", "task")

	sink := &memSink{}
	c := New(instructor, assistant, 1, WithSink(sink))
	conclusion, err := c.Run(context.Background())
	require.NoError(t, err)

	last := sink.rows[len(sink.rows)-1]
	assert.Equal(t, conclusion, last[2])
	assert.Equal(t, renderHistory(c.History()), last[3])

	// Regular utterances carry no history payload.
	for _, row := range sink.rows[:len(sink.rows)-1] {
		assert.Empty(t, row[3])
	}
}

func TestStoreSinkAttributesAgents(t *testing.T) {
	ctx := context.Background()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := chatstore.New(db, "sqlite", nil)
	require.NoError(t, store.InitSchema(ctx))

	sink := NewStoreSink(store)
	require.NoError(t, sink.Record(ctx, "Alice", "Bob", "hello", ""))

	records, err := store.CurrentPairHistory(ctx, "Alice's Agent", "Bob's Agent", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Alice's Agent", records[0].Sender)
	assert.Equal(t, "Bob's Agent", records[0].Receiver)
	assert.Equal(t, "hello", records[0].Message)
}

func TestRunAllBoundedConcurrency(t *testing.T) {
	var comms []*Communication
	for i := 0; i < 5; i++ {
		instructor := newFakeAgent("Alice", fmt.Sprintf("task %d", i))
		assistant := newFakeAgent("Bob", fmt.Sprintf("task %d", i))
		comms = append(comms, New(instructor, assistant, 1))
	}
	// One failing communication in the middle.
	bad := newFakeAgent("Eve", "task")
	bad.queryErr = fmt.Errorf("down")
	comms[2] = New(bad, newFakeAgent("Bob", "task"), 1)

	results := RunAll(context.Background(), comms, 2)
	require.Len(t, results, 5)

	for i, r := range results {
		if i == 2 {
			assert.Error(t, r.Err)
			assert.Equal(t, FailedConclusion, r.Conclusion)
			continue
		}
		assert.NoError(t, r.Err)
		assert.Equal(t, "Alice conclusion", r.Conclusion)
		assert.Len(t, r.History, 3)
	}
}
