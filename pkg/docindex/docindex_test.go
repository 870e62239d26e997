package docindex

import (
	"context"
	"hash/fnv"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// hashEmbedder produces deterministic pseudo-embeddings from word hashes so
// identical texts land on identical vectors.
type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 8)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%8]++
	}
	// Avoid the zero vector for empty input.
	vec[0]++
	return vec, nil
}

func (e hashEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := e.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (hashEmbedder) Dimension() int { return 8 }
func (hashEmbedder) Model() string  { return "hash" }
func (hashEmbedder) Close() error   { return nil }

func TestUpdateWithNewFiles(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	ix, err := Open(root, "Alice", hashEmbedder{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(ix.Dir(), "notes.txt"),
		[]byte("Bob's favorite book is Dune by Frank Herbert"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ix.Dir(), "ignored.bin"),
		[]byte("binary"), 0o644))

	n, err := ix.UpdateWithNewFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, ix.Size())

	// Second pass is a no-op.
	n, err = ix.UpdateWithNewFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestUpdateIsIncremental(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	ix, err := Open(root, "Alice", hashEmbedder{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(ix.Dir(), "a.txt"), []byte("first file"), 0o644))
	_, err = ix.UpdateWithNewFiles(ctx)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(ix.Dir(), "b.md"), []byte("second file"), 0o644))
	n, err := ix.UpdateWithNewFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	record, err := os.ReadFile(filepath.Join(ix.Dir(), "indexed_files.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a.txt\nb.md\n", string(record))
}

func TestQueryReturnsConcatenatedPassage(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	ix, err := Open(root, "Alice", hashEmbedder{})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(ix.Dir(), "books.txt"),
		[]byte("dune is a science fiction novel"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ix.Dir(), "cooking.txt"),
		[]byte("the stew needs more salt"), 0o644))
	_, err = ix.UpdateWithNewFiles(ctx)
	require.NoError(t, err)

	passage, err := ix.Query(ctx, "dune science fiction", 1)
	require.NoError(t, err)
	assert.Contains(t, passage, "dune")
}

func TestQueryEmptyIndex(t *testing.T) {
	ix, err := Open(t.TempDir(), "Alice", hashEmbedder{})
	require.NoError(t, err)

	passage, err := ix.Query(context.Background(), "anything", 3)
	require.NoError(t, err)
	assert.Empty(t, passage)
}

func TestChunkWords(t *testing.T) {
	words := make([]string, 10)
	for i := range words {
		words[i] = "w"
	}
	text := strings.Join(words, " ")

	chunks := chunkWords(text, 4, 1)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(strings.Fields(c)), 4)
	}

	// Consecutive chunks overlap by one word: steps of 3 over 10 words.
	assert.Len(t, chunks, 3)

	assert.Nil(t, chunkWords("   ", 4, 1))
}

func TestExtractHTMLStripsMarkup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	html := `<html><head><style>body{color:red}</style></head>
<body><h1>Title</h1><p>Hello <b>world</b></p><script>alert(1)</script></body></html>`
	require.NoError(t, os.WriteFile(path, []byte(html), 0o644))

	text, err := Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, text, "Title")
	assert.Contains(t, text, "Hello")
	assert.NotContains(t, text, "alert")
	assert.NotContains(t, text, "color:red")
}

func TestExtractNotebook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nb.ipynb")
	nb := `{"cells": [
		{"cell_type": "markdown", "source": ["# Heading\n", "Some prose"]},
		{"cell_type": "code", "source": "print('hi')"}
	]}`
	require.NoError(t, os.WriteFile(path, []byte(nb), 0o644))

	text, err := Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, text, "Some prose")
	assert.Contains(t, text, "print('hi')")
}

func TestExtractCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,book\nBob,Dune\n"), 0o644))

	text, err := Extract(context.Background(), path)
	require.NoError(t, err)
	assert.Contains(t, text, "Bob, Dune")
}

func TestExtractUnsupported(t *testing.T) {
	_, err := Extract(context.Background(), "file.bin")
	assert.Error(t, err)
}

func TestSupportedExtensionsSorted(t *testing.T) {
	exts := SupportedExtensions()
	assert.Contains(t, exts, ".pdf")
	assert.Contains(t, exts, ".pptx")
	assert.Contains(t, exts, ".epub")
	for i := 1; i < len(exts); i++ {
		assert.True(t, exts[i-1] < exts[i])
	}
}
