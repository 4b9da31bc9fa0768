package rag

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"multimodal-rag/internal/chromemdb"
	"multimodal-rag/internal/chunker"
	"multimodal-rag/internal/helper"
	"multimodal-rag/internal/llmservice"
	"multimodal-rag/internal/metrics"
	"multimodal-rag/internal/models"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
)

const DefaultTopK = 4

var imageRef = regexp.MustCompile(models.ImageRefRegex)

// qaPrompt renders the grounded question answering prompt.
var qaPrompt = prompts.PromptTemplate{
	Template:       models.QAPromptTemplate,
	InputVariables: []string{"context", "question"},
	TemplateFormat: prompts.TemplateFormatFString,
}

type Options struct {
	IndexDir       string
	ImagesDir      string
	TopK           int
	EmbeddingModel string
	Index          chromemdb.Options
}

type RAG struct {
	caller   *llmservice.Caller
	embedder embeddings.Embedder
	opts     Options
}

func NewRAG(caller *llmservice.Caller, embedder embeddings.Embedder, opts Options) *RAG {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	return &RAG{caller: caller, embedder: embedder, opts: opts}
}

// Answer retrieves the chunks closest to question from the persisted index and
// asks the chat model to answer from them alone. Provenance comes from the top
// ranked chunk.
func (r *RAG) Answer(ctx context.Context, question string) (*models.QueryResult, error) {
	result, err := r.answer(ctx, question)
	switch {
	case err != nil:
		metrics.QueriesAnswered.WithLabelValues(metrics.OutcomeError).Inc()
	case len(result.Sources) == 0:
		metrics.QueriesAnswered.WithLabelValues(metrics.OutcomeEmpty).Inc()
	default:
		metrics.QueriesAnswered.WithLabelValues(metrics.OutcomeOK).Inc()
	}
	return result, err
}

func (r *RAG) answer(ctx context.Context, question string) (*models.QueryResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, errors.New("question is empty")
	}

	idx, err := chromemdb.Load(ctx, r.opts.IndexDir, r.opts.Index)
	if err != nil {
		return nil, fmt.Errorf("failed to load vector index: %w", err)
	}

	queryVec, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	if err := idx.CheckEmbedder(r.opts.EmbeddingModel, len(queryVec)); err != nil {
		return nil, err
	}

	hits, err := idx.Query(ctx, queryVec, r.opts.TopK)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("question", question).Int("hits", len(hits)).Msg("Retrieved context")

	sources := make([]models.SourceChunk, len(hits))
	contents := make([]string, len(hits))
	for i, hit := range hits {
		c := chunker.FromMetadata(hit.ID, hit.Content, hit.Metadata)
		sources[i] = models.SourceChunk{
			ID:             c.ID,
			Content:        c.Content,
			SourceDocument: c.SourceDocument,
			PageNumber:     c.PageNumber,
			ChunkID:        c.ChunkID,
			Similarity:     hit.Similarity,
		}
		contents[i] = c.Content
	}

	prompt, err := qaPrompt.Format(map[string]any{
		"context":  strings.Join(contents, "\n\n"),
		"question": question,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render prompt: %w", err)
	}

	answer, err := r.caller.Generate(ctx, "answer",
		[]llms.MessageContent{llms.TextParts(llms.ChatMessageTypeHuman, prompt)},
		llms.WithTemperature(0),
	)
	if err != nil {
		return nil, err
	}

	result := &models.QueryResult{
		Question:        question,
		Answer:          strings.TrimSpace(answer),
		PageNumber:      -1,
		ImageReferences: []string{},
		ImagePaths:      []string{},
		Sources:         sources,
	}
	if len(sources) > 0 {
		top := sources[0]
		result.SourceDocument = top.SourceDocument
		result.PageNumber = top.PageNumber
		result.ImageReferences = ExtractImageReferences(top.Content)
		result.ImagePaths = ResolveImagePaths(r.opts.ImagesDir, top.SourceDocument, result.ImageReferences)
	}
	return result, nil
}

// ExtractImageReferences returns the filenames of all [Image: <filename>] tags
// in text, in order of appearance. It never returns nil.
func ExtractImageReferences(text string) []string {
	refs := []string{}
	for _, m := range imageRef.FindAllStringSubmatch(text, -1) {
		if name := strings.TrimSpace(m[1]); name != "" {
			refs = append(refs, name)
		}
	}
	return refs
}

// ResolveImagePaths maps image filenames to <imagesDir>/<document stem>/<filename>,
// dropping files that no longer exist.
func ResolveImagePaths(imagesDir, sourceDocument string, refs []string) []string {
	paths := []string{}
	if sourceDocument == "" {
		return paths
	}
	dir := filepath.Join(imagesDir, helper.FileStem(sourceDocument))
	for _, ref := range refs {
		p := filepath.Join(dir, filepath.Base(ref))
		if !helper.FileExists(p) {
			log.Warn().Str("path", p).Msg("Referenced image not found")
			continue
		}
		paths = append(paths, p)
	}
	return paths
}
