// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command interagent runs agent-to-agent communications from the terminal.
//
// Usage:
//
//	interagent run --config config.yaml Alice Bob "plan a dinner for both"
//	interagent batch --config config.yaml tasks.jsonl
//	interagent index --config config.yaml Alice --watch
//	interagent friend --config config.yaml Alice Bob
//	interagent info --config config.yaml
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"github.com/kadirpekel/interagent/pkg/agent"
	"github.com/kadirpekel/interagent/pkg/chatstore"
	"github.com/kadirpekel/interagent/pkg/comm"
	"github.com/kadirpekel/interagent/pkg/config"
	"github.com/kadirpekel/interagent/pkg/docindex"
	"github.com/kadirpekel/interagent/pkg/embedder"
	"github.com/kadirpekel/interagent/pkg/eventlog"
	"github.com/kadirpekel/interagent/pkg/llms"
	"github.com/kadirpekel/interagent/pkg/logger"
	"github.com/kadirpekel/interagent/pkg/mode"
	"github.com/kadirpekel/interagent/pkg/prompts"
	"github.com/kadirpekel/interagent/pkg/reformat"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Run     RunCmd     `cmd:"" help:"Run one communication between two masters."`
	Batch   BatchCmd   `cmd:"" help:"Run a JSONL file of communications in parallel, offline."`
	Index   IndexCmd   `cmd:"" help:"Index a master's uploaded documents."`
	Friend  FriendCmd  `cmd:"" help:"Register two masters as friends."`
	Info    InfoCmd    `cmd:"" help:"Show the resolved configuration."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"config.yaml"`
	LogLevel string `help:"Log level (debug, info, warn, error). Overrides the config."`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("interagent version %s\n", version)
	return nil
}

// app bundles everything a command needs after bootstrap.
type app struct {
	cfg     *config.Config
	store   *chatstore.Store
	events  *eventlog.Logger
	factory *mode.Factory
	pool    *config.DBPool
}

func (a *app) Close() {
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			slog.Warn("failed to close event log", "error", err)
		}
	}
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			slog.Warn("failed to close database pools", "error", err)
		}
	}
}

// bootstrap loads the config and wires the full engine stack.
func bootstrap(cli *CLI) (*app, error) {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return nil, err
	}

	level := cfg.Logging.Level
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	logger.Setup(level)

	events, err := eventlog.New(filepath.Join(cfg.Logging.Dir,
		eventlog.FileName(cfg.Logging.Logname, time.Now())))
	if err != nil {
		return nil, err
	}

	pool := config.NewDBPool()
	db, err := pool.Get(&cfg.MySQL)
	if err != nil {
		events.Close()
		return nil, err
	}

	store := chatstore.New(db, cfg.MySQL.Dialect(), events)
	if err := store.InitSchema(context.Background()); err != nil {
		events.Close()
		pool.Close()
		return nil, err
	}

	provider, err := llms.FromConfig(&cfg.Backend, cfg.Agent.MaxQueryRetryTimes)
	if err != nil {
		events.Close()
		pool.Close()
		return nil, err
	}

	set, err := prompts.LoadSet(cfg.Agent.PromptsDir)
	if err != nil {
		events.Close()
		pool.Close()
		return nil, err
	}

	stopwords, err := agent.LoadStopwords(cfg.Agent.StopwordsFile)
	if err != nil {
		events.Close()
		pool.Close()
		return nil, err
	}

	deps := agent.Deps{
		Provider:    provider,
		Prompts:     set,
		Reformatter: reformat.New(provider, set.Tool, cfg.Agent.MaxToolRetryTimes, events),
		Store:       store,
		Events:      events,
		Stopwords:   stopwords,
	}

	return &app{
		cfg:     cfg,
		store:   store,
		events:  events,
		factory: mode.NewFactory(cfg, deps),
		pool:    pool,
	}, nil
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// RunCmd runs one communication and prints the conclusion.
type RunCmd struct {
	Instructor string `arg:"" help:"Master whose agent instructs."`
	Assistant  string `arg:"" help:"Master whose agent assists."`
	Task       string `arg:"" help:"Task prompt."`

	MultiParty bool `help:"Allow each agent to escalate to one third party."`
	Offline    bool `help:"Do not persist utterances to the chat store."`
}

func (c *RunCmd) Run(cli *CLI) error {
	a, err := bootstrap(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	var sink comm.Sink = comm.NewStoreSink(a.store)
	if c.Offline {
		sink = comm.NewLogSink(a.events)
	}

	communication, err := a.factory.NewCommunication(ctx, c.Instructor, c.Assistant, c.Task,
		comm.WithMultiParty(c.MultiParty),
		comm.WithSink(sink),
	)
	if err != nil {
		return err
	}

	conclusion, err := communication.Run(ctx)
	if err != nil {
		return err
	}

	for u := range communication.Utterances() {
		fmt.Println(u)
	}
	fmt.Printf("\nConclusion: %s\n", conclusion)
	return nil
}

// batchEntry is one line of the batch input file.
type batchEntry struct {
	Instructor string `json:"instructor"`
	Assistant  string `json:"assistant"`
	Task       string `json:"task"`
}

// BatchCmd runs many communications in parallel without touching the chat
// store, for offline evaluation. Input is JSONL with instructor, assistant
// and task fields; output is JSONL with the conclusion per line.
type BatchCmd struct {
	File        string `arg:"" help:"JSONL file of communications." type:"path"`
	Concurrency int    `help:"Parallel communications." default:"4"`
	Output      string `short:"o" help:"Output JSONL path (default stdout)." type:"path"`
}

func (c *BatchCmd) Run(cli *CLI) error {
	a, err := bootstrap(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	entries, err := readBatchFile(c.File)
	if err != nil {
		return err
	}

	sink := comm.NewLogSink(a.events)
	comms := make([]*comm.Communication, 0, len(entries))
	for _, e := range entries {
		communication, err := a.factory.NewCommunication(ctx, e.Instructor, e.Assistant, e.Task,
			comm.WithSink(sink))
		if err != nil {
			return err
		}
		comms = append(comms, communication)
	}

	slog.Info("running batch", "communications", len(comms), "concurrency", c.Concurrency)
	results := comm.RunAll(ctx, comms, c.Concurrency)

	out := os.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := json.NewEncoder(out)
	failed := 0
	for i, r := range results {
		row := map[string]any{
			"instructor": entries[i].Instructor,
			"assistant":  entries[i].Assistant,
			"task":       entries[i].Task,
			"conclusion": r.Conclusion,
		}
		if r.Err != nil {
			row["error"] = r.Err.Error()
			failed++
		}
		if err := enc.Encode(row); err != nil {
			return err
		}
	}
	slog.Info("batch finished", "total", len(results), "failed", failed)
	return nil
}

func readBatchFile(path string) ([]batchEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()

	var entries []batchEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var e batchEntry
		if err := json.Unmarshal(text, &e); err != nil {
			return nil, fmt.Errorf("bad batch entry at %s:%d: %w", path, line, err)
		}
		if e.Instructor == "" || e.Assistant == "" || e.Task == "" {
			return nil, fmt.Errorf("batch entry at %s:%d needs instructor, assistant and task", path, line)
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// IndexCmd ingests a master's uploaded documents into their index.
type IndexCmd struct {
	Master string `arg:"" help:"Master whose documents to index."`
	Watch  bool   `help:"Keep watching the folder and index new files."`
}

func (c *IndexCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	level := cfg.Logging.Level
	if cli.LogLevel != "" {
		level = cli.LogLevel
	}
	logger.Setup(level)

	emb, err := embedder.FromConfig(&cfg.Backend, 0, cfg.Agent.MaxQueryRetryTimes)
	if err != nil {
		return err
	}
	defer emb.Close()

	ix, err := docindex.Open(cfg.Agent.UserFilesRoot, c.Master, emb)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	added, err := ix.UpdateWithNewFiles(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("indexed %d new file(s), %d chunk(s) total in %s\n", added, ix.Size(), ix.Dir())

	if !c.Watch {
		return nil
	}
	slog.Info("watching for new documents", "dir", ix.Dir())
	if err := ix.Watch(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// FriendCmd registers two masters as friends, creating the users as needed.
type FriendCmd struct {
	A string `arg:"" help:"First master."`
	B string `arg:"" help:"Second master."`
}

func (c *FriendCmd) Run(cli *CLI) error {
	a, err := bootstrap(cli)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := a.store.AddFriendship(ctx, c.A, c.B); err != nil {
		return err
	}
	fmt.Printf("%s and %s are now friends\n", c.A, c.B)
	return nil
}

// InfoCmd prints the resolved configuration summary.
type InfoCmd struct{}

func (c *InfoCmd) Run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}

	fmt.Printf("Mode:          %s\n", cfg.Mode.Mode)
	fmt.Printf("Backend:       %s\n", cfg.Backend.Provider)
	fmt.Printf("Database:      %s (%s)\n", cfg.MySQL.Driver, cfg.MySQL.Database)
	fmt.Printf("Max turns:     %d\n", cfg.Agent.MaxCommunicationTurns)
	fmt.Printf("Prompts dir:   %s\n", cfg.Agent.PromptsDir)
	fmt.Printf("Memory dir:    %s\n", cfg.Agent.MemoryDir)
	fmt.Printf("User files:    %s\n", cfg.Agent.UserFilesRoot)
	fmt.Printf("Document idx:  %t\n", cfg.Agent.UseDocumentIndex)
	fmt.Printf("Task rewrite:  %t\n", cfg.Agent.RewritePrompt)
	fmt.Printf("Event logs:    %s\n", cfg.Logging.Dir)
	return nil
}

func main() {
	_ = config.LoadEnvFiles()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("interagent"),
		kong.Description("interagent - cooperative personal-agent communication engine"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
