package indexer_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"multimodal-rag/internal/chromemdb"
	"multimodal-rag/internal/chunker"
	"multimodal-rag/internal/indexer"
	"multimodal-rag/internal/llmservice/llmtest"
	"multimodal-rag/internal/models"
	"multimodal-rag/internal/progress"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chunksFor(t *testing.T, source string, texts ...string) []models.Chunk {
	t.Helper()
	var pages []models.PageRecord
	for i, text := range texts {
		pages = append(pages, models.PageRecord{SourceDocument: source, PageNumber: i, Text: text})
	}
	chunks, err := chunker.New(0, 0).Split(pages)
	require.NoError(t, err)
	return chunks
}

func TestBuildOrUpdateSumsDisjointRuns(t *testing.T) {
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "vector_index")
	rec := &progress.Recorder{}
	b := indexer.NewBuilder(llmtest.NewEmbedder(32), "hash", chromemdb.Options{}, rec)

	first := chunksFor(t, "a.pdf", "alpha page one", "alpha page two")
	stats, err := b.BuildOrUpdate(ctx, dir, first)
	require.NoError(t, err)
	assert.Equal(t, &indexer.BuildStats{Before: 0, After: 2, Added: 2, Created: true}, stats)

	second := chunksFor(t, "b.pdf", "beta one", "beta two", "beta three")
	stats, err = b.BuildOrUpdate(ctx, dir, second)
	require.NoError(t, err)
	assert.Equal(t, &indexer.BuildStats{Before: 2, After: 5, Added: 3}, stats)

	meta, err := chromemdb.ReadStats(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, meta.Count)
	assert.Equal(t, "hash", meta.EmbeddingModel)
	assert.Equal(t, 32, meta.Dimension)

	assert.Contains(t, rec.Messages(progress.KindInfo), "Creating a new vector index")
	assert.Contains(t, rec.Messages(progress.KindInfo), "Loaded existing vector index with 2 entries")
	assert.Contains(t, rec.Messages(progress.KindSuccess), "Vector index saved: 2 entries before, 5 after")
}

func TestBuildOrUpdateReindexIsIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := indexer.NewBuilder(llmtest.NewEmbedder(16), "hash", chromemdb.Options{}, nil)
	chunks := chunksFor(t, "a.pdf", "same text")

	_, err := b.BuildOrUpdate(ctx, dir, chunks)
	require.NoError(t, err)
	stats, err := b.BuildOrUpdate(ctx, dir, chunks)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.After)
	assert.Equal(t, 0, stats.Added)
}

func TestBuildOrUpdateEmbeddingFailureWritesNothing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	boom := errors.New("embedding service down")
	b := indexer.NewBuilder(llmtest.FailingEmbedder(boom), "hash", chromemdb.Options{}, nil)

	_, err := b.BuildOrUpdate(context.Background(), dir, chunksFor(t, "a.pdf", "text"))
	require.ErrorIs(t, err, boom)
	assert.False(t, chromemdb.Exists(dir))
}

func TestBuildOrUpdateRejectsOtherModel(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := indexer.NewBuilder(llmtest.NewEmbedder(16), "hash-16", chromemdb.Options{}, nil).
		BuildOrUpdate(ctx, dir, chunksFor(t, "a.pdf", "one"))
	require.NoError(t, err)

	tests := []struct {
		model string
		dim   int
	}{
		{model: "hash-8", dim: 16},
		{model: "hash-16", dim: 8},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s/%d", tt.model, tt.dim), func(t *testing.T) {
			_, err := indexer.NewBuilder(llmtest.NewEmbedder(tt.dim), tt.model, chromemdb.Options{}, nil).
				BuildOrUpdate(ctx, dir, chunksFor(t, "b.pdf", "two"))
			assert.ErrorIs(t, err, chromemdb.ErrConfigMismatch)
		})
	}

	meta, err := chromemdb.ReadStats(dir)
	require.NoError(t, err)
	assert.Equal(t, 1, meta.Count)
}

func TestBuildOrUpdateNoChunks(t *testing.T) {
	b := indexer.NewBuilder(llmtest.NewEmbedder(8), "hash", chromemdb.Options{}, nil)
	_, err := b.BuildOrUpdate(context.Background(), t.TempDir(), nil)
	assert.Error(t, err)
}

func TestBuildOrUpdateAssignsMissingIDs(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	b := indexer.NewBuilder(llmtest.NewEmbedder(16), "hash", chromemdb.Options{}, nil)
	chunks := []models.Chunk{
		{Content: "The sky is blue.", SourceDocument: "sky.pdf", PageNumber: 0},
		{Content: "Grass is green.", SourceDocument: "sky.pdf", PageNumber: 1},
	}

	stats, err := b.BuildOrUpdate(ctx, dir, chunks)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Added)
	assert.Empty(t, chunks[0].ID)

	stats, err = b.BuildOrUpdate(ctx, dir, chunks)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.After)
	assert.Equal(t, 0, stats.Added)
}

func TestBuildOrUpdateRejectsBlankChunkBeforeEmbedding(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "idx")
	boom := errors.New("embedding service down")
	b := indexer.NewBuilder(llmtest.FailingEmbedder(boom), "hash", chromemdb.Options{}, nil)

	_, err := b.BuildOrUpdate(context.Background(), dir, []models.Chunk{{Content: "  ", SourceDocument: "a.pdf"}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, boom)
	assert.False(t, chromemdb.Exists(dir))
}
