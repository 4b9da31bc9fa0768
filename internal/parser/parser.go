package parser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"multimodal-rag/internal/models"
)

// Loader produces page records from a document on disk.
type Loader interface {
	Load(ctx context.Context, path, outputFolder string) ([]models.PageRecord, error)
}

var _ Loader = (*DocumentLoader)(nil)

// DocumentLoader dispatches on file extension. PDFs go through the image
// aware Extractor, every other format yields text only.
type DocumentLoader struct {
	pdf *Extractor
}

func NewDocumentLoader(extractor *Extractor) *DocumentLoader {
	return &DocumentLoader{pdf: extractor}
}

// SupportedExtensions lists the file extensions Load accepts.
var SupportedExtensions = []string{".pdf", ".docx", ".pptx", ".xlsx", ".xlsm", ".xltx", ".xltm", ".md", ".markdown", ".txt"}

func IsSupported(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

func (l *DocumentLoader) Load(ctx context.Context, path, outputFolder string) ([]models.PageRecord, error) {
	source := filepath.Base(path)

	var (
		pages []models.PageRecord
		err   error
	)
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		if l.pdf == nil {
			return nil, fmt.Errorf("pdf extraction is not configured")
		}
		return l.pdf.Extract(ctx, path, outputFolder)
	case ".docx":
		pages, err = parseDOCX(path)
	case ".pptx":
		pages, err = parsePPTX(path)
	case ".xlsx":
		pages, err = parseXLSX(path)
	case ".xlsm", ".xltx", ".xltm":
		pages, err = parseExcelize(path)
	case ".md", ".markdown":
		pages, err = parseMarkdown(path)
	case ".txt":
		pages, err = parseText(path)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", source, err)
	}

	for i := range pages {
		pages[i].SourceDocument = source
	}
	return pages, nil
}

func parseText(path string) ([]models.PageRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	return []models.PageRecord{{PageNumber: 0, Text: string(data)}}, nil
}
