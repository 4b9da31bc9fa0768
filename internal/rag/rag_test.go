package rag_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"multimodal-rag/internal/chromemdb"
	"multimodal-rag/internal/indexer"
	"multimodal-rag/internal/llmservice"
	"multimodal-rag/internal/llmservice/llmtest"
	"multimodal-rag/internal/models"
	"multimodal-rag/internal/rag"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dim = 256

func TestExtractImageReferences(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{
			name: "in order",
			text: "intro\n\n[Image: page_1_img_2.png]\nchart\n\n[Image: page_1_img_1.png]\nlogo",
			want: []string{"page_1_img_2.png", "page_1_img_1.png"},
		},
		{
			name: "none",
			text: "plain text without tags",
			want: []string{},
		},
		{
			name: "extra whitespace",
			text: "[Image:   page_3_img_1.jpg]",
			want: []string{"page_3_img_1.jpg"},
		},
		{
			name: "empty tag ignored",
			text: "[Image: ] and [Image: a.png]",
			want: []string{"a.png"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := rag.ExtractImageReferences(tt.text)
			assert.NotNil(t, got)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveImagePathsSkipsMissing(t *testing.T) {
	imagesDir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(imagesDir, "report"), 0o755))
	present := filepath.Join(imagesDir, "report", "page_1_img_1.png")
	require.NoError(t, os.WriteFile(present, []byte("png"), 0o644))

	got := rag.ResolveImagePaths(imagesDir, "report.pdf", []string{"page_1_img_1.png", "page_1_img_2.png"})
	assert.Equal(t, []string{present}, got)
	assert.Empty(t, rag.ResolveImagePaths(imagesDir, "", []string{"page_1_img_1.png"}))
}

type fixture struct {
	indexDir  string
	imagesDir string
	model     *llmtest.Model
}

func newFixture(t *testing.T, chunks ...models.Chunk) *fixture {
	t.Helper()
	f := &fixture{
		indexDir:  filepath.Join(t.TempDir(), "vector_index"),
		imagesDir: t.TempDir(),
		model:     llmtest.NewModel(llmtest.Reply{Text: " The sky is blue. "}),
	}
	if len(chunks) > 0 {
		b := indexer.NewBuilder(llmtest.NewEmbedder(dim), "hash", chromemdb.Options{}, nil)
		_, err := b.BuildOrUpdate(context.Background(), f.indexDir, chunks)
		require.NoError(t, err)
	}
	return f
}

func (f *fixture) rag(topK int) *rag.RAG {
	return rag.NewRAG(
		llmservice.NewCaller(f.model, llmservice.CallerConfig{}),
		llmtest.NewEmbedder(dim),
		rag.Options{IndexDir: f.indexDir, ImagesDir: f.imagesDir, TopK: topK, EmbeddingModel: "hash"},
	)
}

func TestAnswerUsesTopChunkProvenance(t *testing.T) {
	f := newFixture(t,
		models.Chunk{ID: "1", Content: "The sky is blue.\n\n[Image: page_3_img_1.png]\nA blue sky photo", SourceDocument: "weather.pdf", PageNumber: 2, ChunkID: 1},
		models.Chunk{ID: "2", Content: "Grass grows in fields.", SourceDocument: "plants.pdf", PageNumber: 0, ChunkID: 1},
	)
	require.NoError(t, os.MkdirAll(filepath.Join(f.imagesDir, "weather"), 0o755))
	img := filepath.Join(f.imagesDir, "weather", "page_3_img_1.png")
	require.NoError(t, os.WriteFile(img, []byte("png"), 0o644))

	res, err := f.rag(4).Answer(context.Background(), "What color is the sky?")
	require.NoError(t, err)

	assert.Equal(t, "What color is the sky?", res.Question)
	assert.Equal(t, "The sky is blue.", res.Answer)
	assert.Equal(t, "weather.pdf", res.SourceDocument)
	assert.Equal(t, 2, res.PageNumber)
	assert.Equal(t, []string{"page_3_img_1.png"}, res.ImageReferences)
	assert.Equal(t, []string{img}, res.ImagePaths)
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "1", res.Sources[0].ID)

	require.Equal(t, 1, f.model.CallCount())
	call := f.model.Calls[0]
	assert.Equal(t, 0.0, call.Options.Temperature)
	prompt := call.PromptText()
	assert.Contains(t, prompt, "Question: What color is the sky?")
	assert.Contains(t, prompt, "The sky is blue.")
	assert.Contains(t, prompt, "just say that you don't know")
}

func TestAnswerClampsTopK(t *testing.T) {
	f := newFixture(t,
		models.Chunk{ID: "1", Content: "one", SourceDocument: "a.pdf", PageNumber: 0, ChunkID: 1},
	)
	res, err := f.rag(10).Answer(context.Background(), "one?")
	require.NoError(t, err)
	assert.Len(t, res.Sources, 1)
}

func TestAnswerEmptyIndex(t *testing.T) {
	f := newFixture(t)
	idx, err := chromemdb.New(f.indexDir, "hash", chromemdb.Options{})
	require.NoError(t, err)
	require.NoError(t, idx.Save())
	f.model.Replies = []llmtest.Reply{{Text: "I don't know."}}

	res, err := f.rag(4).Answer(context.Background(), "Anything?")
	require.NoError(t, err)
	assert.Equal(t, "I don't know.", res.Answer)
	assert.Equal(t, -1, res.PageNumber)
	assert.Empty(t, res.SourceDocument)
	assert.Empty(t, res.ImageReferences)
	assert.Empty(t, res.Sources)
}

func TestAnswerMissingIndex(t *testing.T) {
	f := newFixture(t)
	_, err := f.rag(4).Answer(context.Background(), "Anything?")
	assert.ErrorIs(t, err, chromemdb.ErrIndexNotFound)
	assert.Equal(t, 0, f.model.CallCount())
}

func TestAnswerEmbedderMismatch(t *testing.T) {
	f := newFixture(t, models.Chunk{ID: "1", Content: "one", SourceDocument: "a.pdf", ChunkID: 1})
	r := rag.NewRAG(
		llmservice.NewCaller(f.model, llmservice.CallerConfig{}),
		llmtest.NewEmbedder(dim/2),
		rag.Options{IndexDir: f.indexDir, EmbeddingModel: "hash"},
	)
	_, err := r.Answer(context.Background(), "one?")
	assert.ErrorIs(t, err, chromemdb.ErrConfigMismatch)
}

func TestAnswerModelFailure(t *testing.T) {
	f := newFixture(t, models.Chunk{ID: "1", Content: "one", SourceDocument: "a.pdf", ChunkID: 1})
	f.model.Replies = []llmtest.Reply{{Err: errors.New("invalid api key")}}

	_, err := f.rag(4).Answer(context.Background(), "one?")
	assert.ErrorIs(t, err, llmservice.ErrModelCall)
}

func TestAnswerRejectsBlankQuestion(t *testing.T) {
	f := newFixture(t)
	_, err := f.rag(4).Answer(context.Background(), "   ")
	assert.Error(t, err)
}
