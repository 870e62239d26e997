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

	"github.com/kadirpekel/interagent/pkg/chatstore"
	"github.com/kadirpekel/interagent/pkg/eventlog"
)

// Sink receives every utterance a communication emits. Senders and
// receivers are master names; the sink decides attribution and persistence.
type Sink interface {
	Record(ctx context.Context, fromMaster, toMaster, message, history string) error
}

// agentSuffix attributes a row to a master's agent in the chat store.
const agentSuffix = "'s Agent"

// StoreSink appends agent-attributed rows to the chat store.
type StoreSink struct {
	store *chatstore.Store
}

// NewStoreSink builds the chat-store sink.
func NewStoreSink(store *chatstore.Store) *StoreSink {
	return &StoreSink{store: store}
}

// Record writes one chats row with both endpoints agent-attributed.
func (s *StoreSink) Record(ctx context.Context, fromMaster, toMaster, message, history string) error {
	return s.store.Insert(ctx, fromMaster+agentSuffix, toMaster+agentSuffix, message, history)
}

// LogSink records utterances only in the event log. Offline evaluation uses
// it to keep the chat store untouched.
type LogSink struct {
	events *eventlog.Logger
}

// NewLogSink builds the event-log sink.
func NewLogSink(events *eventlog.Logger) *LogSink {
	return &LogSink{events: events}
}

// Record emits one audit row per utterance.
func (s *LogSink) Record(_ context.Context, fromMaster, toMaster, message, _ string) error {
	s.events.Log("Utterance recorded",
		entry(fromMaster, toMaster, ""), message)
	return nil
}

// discardSink drops everything.
type discardSink struct{}

func (discardSink) Record(context.Context, string, string, string, string) error { return nil }
