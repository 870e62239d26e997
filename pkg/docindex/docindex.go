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

// Package docindex maintains the per-master document memory: a persisted
// vector index over the master's uploaded files, built incrementally as new
// files appear in the master's directory.
package docindex

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"

	"github.com/kadirpekel/interagent/pkg/embedder"
)

const (
	storageDirName  = "storage"
	recordFileName  = "indexed_files.txt"
	chunkWordCount  = 512
	chunkWordOverlap = 64
)

// Indexer is one master's document index. Ingestion is serialized per
// master; queries run concurrently.
type Indexer struct {
	master     string
	dir        string
	recordPath string
	embedder   embedder.Embedder

	mu         sync.Mutex
	db         *chromem.DB
	collection *chromem.Collection
}

// Open loads (or creates) the index for master under root. The master's
// files live in root/<master>/; the persisted index in root/<master>/storage.
func Open(root, master string, emb embedder.Embedder) (*Indexer, error) {
	dir := filepath.Join(root, master)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create user directory: %w", err)
	}

	db, err := chromem.NewPersistentDB(filepath.Join(dir, storageDirName), false)
	if err != nil {
		return nil, fmt.Errorf("failed to open document index: %w", err)
	}

	collection, err := db.GetOrCreateCollection("documents", nil, func(ctx context.Context, text string) ([]float32, error) {
		return emb.Embed(ctx, text)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open document collection: %w", err)
	}

	return &Indexer{
		master:     master,
		dir:        dir,
		recordPath: filepath.Join(dir, recordFileName),
		embedder:   emb,
		db:         db,
		collection: collection,
	}, nil
}

// Dir returns the master's file directory.
func (ix *Indexer) Dir() string {
	return ix.dir
}

// Size returns the number of indexed chunks.
func (ix *Indexer) Size() int {
	return ix.collection.Count()
}

// indexedFiles reads the record of already ingested paths.
func (ix *Indexer) indexedFiles() (map[string]bool, error) {
	data, err := os.ReadFile(ix.recordPath)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]bool{}, nil
		}
		return nil, fmt.Errorf("failed to read index record: %w", err)
	}

	files := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files[line] = true
		}
	}
	return files, nil
}

// writeRecord replaces the record atomically.
func (ix *Indexer) writeRecord(files map[string]bool) error {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	tmp := ix.recordPath + ".tmp"
	content := strings.Join(names, "\n")
	if content != "" {
		content += "\n"
	}
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return fmt.Errorf("failed to write index record: %w", err)
	}
	if err := os.Rename(tmp, ix.recordPath); err != nil {
		return fmt.Errorf("failed to replace index record: %w", err)
	}
	return nil
}

// pendingFiles lists supported files in the directory not yet in the record.
func (ix *Indexer) pendingFiles(indexed map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(ix.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan user directory: %w", err)
	}

	var pending []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == recordFileName || strings.HasSuffix(name, ".tmp") {
			continue
		}
		if _, ok := extractors[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		if !indexed[name] {
			pending = append(pending, name)
		}
	}
	sort.Strings(pending)
	return pending, nil
}

// UpdateWithNewFiles folds every not-yet-indexed file into the index and
// returns how many files were ingested. A file that fails to extract is
// skipped and recorded so it is not retried every pass.
func (ix *Indexer) UpdateWithNewFiles(ctx context.Context) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	indexed, err := ix.indexedFiles()
	if err != nil {
		return 0, err
	}
	pending, err := ix.pendingFiles(indexed)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}

	ingested := 0
	for _, name := range pending {
		path := filepath.Join(ix.dir, name)
		text, err := Extract(ctx, path)
		if err != nil {
			if ctx.Err() != nil {
				return ingested, ctx.Err()
			}
			slog.Warn("failed to extract document", "master", ix.master, "file", name, "error", err)
			indexed[name] = true
			continue
		}

		if err := ix.addDocument(ctx, name, text); err != nil {
			return ingested, err
		}
		indexed[name] = true
		ingested++
		slog.Info("indexed document", "master", ix.master, "file", name)
	}

	if err := ix.writeRecord(indexed); err != nil {
		return ingested, err
	}
	return ingested, nil
}

func (ix *Indexer) addDocument(ctx context.Context, name, text string) error {
	chunks := chunkWords(text, chunkWordCount, chunkWordOverlap)
	if len(chunks) == 0 {
		return nil
	}

	vectors, err := ix.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("failed to embed document %s: %w", name, err)
	}

	docs := make([]chromem.Document, 0, len(chunks))
	for i, chunk := range chunks {
		docs = append(docs, chromem.Document{
			ID:        uuid.NewString(),
			Content:   chunk,
			Embedding: vectors[i],
			Metadata:  map[string]string{"file": name},
		})
	}
	if err := ix.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("failed to index document %s: %w", name, err)
	}
	return nil
}

// Query returns the topk most similar chunks concatenated into one passage.
// An empty index yields an empty passage.
func (ix *Indexer) Query(ctx context.Context, query string, topk int) (string, error) {
	count := ix.collection.Count()
	if count == 0 {
		return "", nil
	}
	if topk < 1 {
		topk = 1
	}
	if topk > count {
		topk = count
	}

	vec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return "", fmt.Errorf("failed to embed document query: %w", err)
	}

	results, err := ix.collection.QueryEmbedding(ctx, vec, topk, nil, nil)
	if err != nil {
		return "", fmt.Errorf("document query failed: %w", err)
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		parts = append(parts, r.Content)
	}
	return strings.Join(parts, "\n\n"), nil
}

// chunkWords splits text into overlapping word-count chunks.
func chunkWords(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}
	if overlap >= size {
		overlap = size - 1
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(words); start += step {
		end := start + size
		if end > len(words) {
			end = len(words)
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}
