package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// axisEmbedder maps known words onto fixed unit axes.
type axisEmbedder struct{}

func (axisEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	switch text {
	case "books":
		return []float32{1, 0, 0, 0}, nil
	case "movies":
		return []float32{0, 1, 0, 0}, nil
	default:
		return []float32{0, 0, 0, 1}, nil
	}
}

func (e axisEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, _ := e.Embed(ctx, t)
		out[i] = v
	}
	return out, nil
}

func (axisEmbedder) Dimension() int { return 4 }
func (axisEmbedder) Model() string  { return "axis" }
func (axisEmbedder) Close() error   { return nil }

func writeCorpus(t *testing.T, rows []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Alice.tsv")
	content := "text\temb\n"
	for _, r := range rows {
		content += r + "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestOpenTSVMissingFile(t *testing.T) {
	m, err := OpenTSV(filepath.Join(t.TempDir(), "absent.tsv"), axisEmbedder{})
	require.NoError(t, err)
	assert.Equal(t, 0, m.Size())

	spans, err := m.Query(context.Background(), "books", 3)
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestQueryNearestSpan(t *testing.T) {
	path := writeCorpus(t, []string{
		"Bob talked about Dune\t[0.9, 0.1, 0.0, 0.0]",
		"Carol likes westerns\t[0.0, 1.0, 0.0, 0.0]",
	})

	m, err := OpenTSV(path, axisEmbedder{})
	require.NoError(t, err)
	require.Equal(t, 2, m.Size())

	spans, err := m.Query(context.Background(), "books", 1)
	require.NoError(t, err)
	require.Len(t, spans, 1)
	assert.Equal(t, "Bob talked about Dune", spans[0].Text)
}

func TestQueryTopkClamped(t *testing.T) {
	path := writeCorpus(t, []string{
		"only span\t[1.0, 0.0, 0.0, 0.0]",
	})

	m, err := OpenTSV(path, axisEmbedder{})
	require.NoError(t, err)

	// topk above corpus size and below 1 both get clamped.
	spans, err := m.Query(context.Background(), "books", 5)
	require.NoError(t, err)
	assert.Len(t, spans, 1)

	spans, err = m.Query(context.Background(), "books", 0)
	require.NoError(t, err)
	assert.Len(t, spans, 1)
}

func TestOpenTSVBadEmbedding(t *testing.T) {
	path := writeCorpus(t, []string{"broken\t[not, a, number]"})

	_, err := OpenTSV(path, axisEmbedder{})
	assert.Error(t, err)
}

func TestOpenTSVSkipsMalformedRows(t *testing.T) {
	path := writeCorpus(t, []string{
		"no tab separator at all",
		"",
		fmt.Sprintf("good\t%s", "[0.0, 0.0, 1.0, 0.0]"),
	})

	m, err := OpenTSV(path, axisEmbedder{})
	require.NoError(t, err)
	assert.Equal(t, 1, m.Size())
}
