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

// Package mode constructs agents and communications per the configured mode.
//
// Base mode runs Think agents on plain chat history. RAG mode runs Memory
// agents with reactive retrieval, consulting the document index when
// use_llamaindex is set. Consensus conclusion is on by default in both.
package mode

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/kadirpekel/interagent/pkg/agent"
	"github.com/kadirpekel/interagent/pkg/comm"
	"github.com/kadirpekel/interagent/pkg/config"
	"github.com/kadirpekel/interagent/pkg/docindex"
	"github.com/kadirpekel/interagent/pkg/embedder"
	"github.com/kadirpekel/interagent/pkg/eventlog"
	"github.com/kadirpekel/interagent/pkg/memory"
)

// Factory builds communications for one configured deployment.
type Factory struct {
	cfg    *config.Config
	deps   agent.Deps
	events *eventlog.Logger
}

// NewFactory wires the shared dependencies. The deps' fuzzy and document
// factories are installed here from the agent config when absent.
func NewFactory(cfg *config.Config, deps agent.Deps) *Factory {
	if deps.Events == nil {
		deps.Events = eventlog.NewDiscard()
	}

	if cfg.Mode.Mode == "RAG" {
		if deps.OpenFuzzy == nil {
			deps.OpenFuzzy = func(master string) (*memory.FuzzyMemory, error) {
				path := fuzzyCorpusPath(cfg, master)
				emb, err := fuzzyEmbedder(cfg)
				if err != nil {
					return nil, err
				}
				return memory.OpenTSV(path, emb)
			}
		}
		if cfg.Agent.UseDocumentIndex && deps.OpenDocs == nil {
			deps.OpenDocs = func(master string) (*docindex.Indexer, error) {
				emb, err := docEmbedder(cfg)
				if err != nil {
					return nil, err
				}
				return docindex.Open(cfg.Agent.UserFilesRoot, master, emb)
			}
		}
	}

	return &Factory{cfg: cfg, deps: deps, events: deps.Events}
}

func fuzzyEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	return embedder.FromConfig(&cfg.Backend, memory.FuzzyDimension, cfg.Agent.MaxQueryRetryTimes)
}

func docEmbedder(cfg *config.Config) (embedder.Embedder, error) {
	return embedder.FromConfig(&cfg.Backend, 0, cfg.Agent.MaxQueryRetryTimes)
}

func fuzzyCorpusPath(cfg *config.Config, master string) string {
	name := master + ".tsv"
	if cfg.Agent.MemoryName != "" {
		name = cfg.Agent.MemoryName + "_" + name
	}
	return filepath.Join(cfg.Agent.MemoryDir, name)
}

// newAgent instantiates the mode's agent class.
func (f *Factory) newAgent(master, task string, instructor bool) (agent.Agent, error) {
	switch f.cfg.Mode.Mode {
	case "Base":
		return agent.NewThink(master, task, instructor, f.deps), nil
	case "RAG":
		return agent.NewMemory(master, task, instructor, f.deps)
	default:
		return nil, fmt.Errorf("mode %q not realized", f.cfg.Mode.Mode)
	}
}

// rewriteTask passes the raw task once through the rewrite template. The
// rewritten text replaces the task for the entire session.
func (f *Factory) rewriteTask(ctx context.Context, master, contact, task string) (string, error) {
	if !f.cfg.Agent.RewritePrompt {
		return task, nil
	}

	prompt, err := f.deps.Prompts.Tool.Render("rewrite_task", map[string]string{
		"master":  master,
		"contact": contact,
		"task":    task,
	})
	if err != nil {
		return "", err
	}

	rewritten, err := f.deps.Provider.Generate(ctx, prompt)
	f.events.Log("Task rewrite", prompt, rewritten)
	if err != nil {
		return "", fmt.Errorf("task rewrite failed: %w", err)
	}
	return rewritten, nil
}

// NewCommunication builds a ready-to-run communication for the task between
// two masters. Callers append options to override the defaults (consensus
// on, bounded by max_communication_turns).
func (f *Factory) NewCommunication(ctx context.Context, instructorMaster, assistantMaster, task string, opts ...comm.Option) (*comm.Communication, error) {
	task, err := f.rewriteTask(ctx, instructorMaster, assistantMaster, task)
	if err != nil {
		return nil, err
	}

	instructor, err := f.newAgent(instructorMaster, task, true)
	if err != nil {
		return nil, err
	}
	assistant, err := f.newAgent(assistantMaster, task, false)
	if err != nil {
		return nil, err
	}

	options := append([]comm.Option{
		comm.WithConsensus(true),
		comm.WithEvents(f.events),
	}, opts...)

	return comm.New(instructor, assistant, f.cfg.Agent.MaxCommunicationTurns, options...), nil
}
