package indexer

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"multimodal-rag/internal/chromemdb"
	"multimodal-rag/internal/chunker"
	"multimodal-rag/internal/helper"
	"multimodal-rag/internal/metrics"
	"multimodal-rag/internal/models"
	"multimodal-rag/internal/progress"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
)

// BuildStats summarizes one BuildOrUpdate run.
type BuildStats struct {
	Before  int  `json:"before"`
	After   int  `json:"after"`
	Added   int  `json:"added"`
	Created bool `json:"created"`
}

type Builder struct {
	embedder embeddings.Embedder
	model    string
	opts     chromemdb.Options
	reporter progress.Reporter
}

// NewBuilder returns a builder that embeds chunks with embedder. model is
// recorded in the index metadata and checked on every later update.
func NewBuilder(embedder embeddings.Embedder, model string, opts chromemdb.Options, reporter progress.Reporter) *Builder {
	return &Builder{
		embedder: embedder,
		model:    model,
		opts:     opts,
		reporter: progress.OrNop(reporter),
	}
}

// BuildOrUpdate embeds chunks and merges them into the index at indexDir,
// creating it when absent. Chunks without an ID get one derived from their
// source, page, chunk number and content. Nothing is written if embedding
// fails.
func (b *Builder) BuildOrUpdate(ctx context.Context, indexDir string, chunks []models.Chunk) (*BuildStats, error) {
	if len(chunks) == 0 {
		return nil, errors.New("no chunks to index")
	}

	chunks = slices.Clone(chunks)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		if strings.TrimSpace(c.Content) == "" {
			return nil, fmt.Errorf("chunk %d of %s has no content", i, c.SourceDocument)
		}
		if c.ID == "" {
			chunks[i].ID = helper.ChunkUUID(c.SourceDocument, c.PageNumber, c.ChunkID, c.Content)
		}
		texts[i] = c.Content
	}
	b.reporter.Info(fmt.Sprintf("Embedding %d chunks", len(chunks)))
	vectors, err := b.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("failed to embed chunks: got %d vectors for %d chunks", len(vectors), len(chunks))
	}

	idx, created, err := chromemdb.Open(ctx, indexDir, b.model, b.opts)
	if err != nil {
		return nil, err
	}
	if !created {
		if err := idx.CheckEmbedder(b.model, len(vectors[0])); err != nil {
			return nil, err
		}
	}

	stats := &BuildStats{Before: idx.Count(), Created: created}
	if created {
		b.reporter.Info("Creating a new vector index")
	} else {
		b.reporter.Info(fmt.Sprintf("Loaded existing vector index with %d entries", stats.Before))
	}

	docs := make([]chromemdb.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromemdb.Document{
			ID:        c.ID,
			Content:   c.Content,
			Metadata:  chunker.Metadata(c),
			Embedding: vectors[i],
		}
	}
	if err := idx.Add(ctx, docs); err != nil {
		return nil, err
	}

	stats.After = idx.Count()
	stats.Added = stats.After - stats.Before

	if err := idx.Save(); err != nil {
		return stats, fmt.Errorf("failed to save vector index: %w", err)
	}

	metrics.ChunksIndexed.Add(float64(stats.Added))
	metrics.IndexSize.Set(float64(stats.After))
	meta := idx.Metadata()
	log.Info().Str("dir", indexDir).Int("before", stats.Before).Int("after", stats.After).
		Str("model", meta.EmbeddingModel).Int("dimension", meta.Dimension).
		Bool("created", created).Msg("Vector index updated")
	b.reporter.Success(fmt.Sprintf("Vector index saved: %d entries before, %d after", stats.Before, stats.After))
	return stats, nil
}
