package chunker

import (
	"fmt"
	"strconv"
	"strings"

	"multimodal-rag/internal/helper"
	"multimodal-rag/internal/models"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 60
)

// Separators are tried in order: paragraphs, then lines, then a hard cut.
var Separators = []string{"\n\n", "\n", ""}

type Chunker struct {
	splitter textsplitter.TextSplitter
}

// New returns a chunker measuring size and overlap in characters.
// Non-positive values fall back to the defaults.
func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = DefaultChunkOverlap
		if overlap >= size {
			overlap = size / 10
		}
	}
	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
			textsplitter.WithSeparators(Separators),
		),
	}
}

// Split chunks every page independently. Chunk IDs restart at 1 on each page.
func (c *Chunker) Split(pages []models.PageRecord) ([]models.Chunk, error) {
	var chunks []models.Chunk
	for _, page := range pages {
		if strings.TrimSpace(page.Text) == "" {
			continue
		}
		parts, err := c.splitter.SplitText(page.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to split page %d of %s: %w", page.PageNumber, page.SourceDocument, err)
		}
		n := 0
		for _, part := range parts {
			if strings.TrimSpace(part) == "" {
				continue
			}
			n++
			chunks = append(chunks, models.Chunk{
				ID:             helper.ChunkUUID(page.SourceDocument, page.PageNumber, n, part),
				Content:        part,
				SourceDocument: page.SourceDocument,
				PageNumber:     page.PageNumber,
				ChunkID:        n,
			})
		}
	}
	return chunks, nil
}

// Metadata is the index metadata stored with a chunk.
func Metadata(c models.Chunk) map[string]string {
	return map[string]string{
		models.MetaSource:  c.SourceDocument,
		models.MetaPage:    strconv.Itoa(c.PageNumber),
		models.MetaChunkID: strconv.Itoa(c.ChunkID),
	}
}

// FromMetadata rebuilds a chunk from an index entry.
func FromMetadata(id, content string, meta map[string]string) models.Chunk {
	page, err := strconv.Atoi(meta[models.MetaPage])
	if err != nil {
		page = -1
	}
	chunkID, _ := strconv.Atoi(meta[models.MetaChunkID])
	return models.Chunk{
		ID:             id,
		Content:        content,
		SourceDocument: meta[models.MetaSource],
		PageNumber:     page,
		ChunkID:        chunkID,
	}
}
