// Package pipeline wires extraction, chunking, indexing, answering and
// response logging into the three user facing operations: ingest, ask and
// upload.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"multimodal-rag/internal/chromemdb"
	"multimodal-rag/internal/chunker"
	"multimodal-rag/internal/config"
	"multimodal-rag/internal/describer"
	"multimodal-rag/internal/embedding"
	"multimodal-rag/internal/indexer"
	"multimodal-rag/internal/llmservice"
	"multimodal-rag/internal/models"
	"multimodal-rag/internal/parser"
	"multimodal-rag/internal/progress"
	"multimodal-rag/internal/rag"
	"multimodal-rag/internal/responselog"
	"multimodal-rag/internal/upload"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
)

var (
	ErrNoText      = errors.New("no text could be extracted from the document")
	ErrUnsupported = errors.New("unsupported document type")
)

// Deps are the model clients a pipeline talks to.
type Deps struct {
	ChatModel      llms.Model
	VisionModel    llms.Model
	Embedder       embeddings.Embedder
	EmbeddingModel string
	Reporter       progress.Reporter
}

// IngestReport describes one ingested document.
type IngestReport struct {
	Source        string              `json:"source"`
	Path          string              `json:"path"`
	Pages         int                 `json:"pages"`
	Images        int                 `json:"images"`
	ImageFailures []string            `json:"image_failures"`
	Chunks        int                 `json:"chunks"`
	Index         *indexer.BuildStats `json:"index"`
	MIMEType      string              `json:"mime_type,omitempty"`
	Records       []models.PageRecord `json:"-"`
}

// AskResult is an answer together with where it was logged.
type AskResult struct {
	*models.QueryResult
	LogPath string `json:"log_path,omitempty"`
}

type Pipeline struct {
	cfg       *config.Config
	extractor *parser.Extractor
	loader    parser.Loader
	chunker   *chunker.Chunker
	builder   *indexer.Builder
	rag       *rag.RAG
	responses *responselog.Logger
	reporter  progress.Reporter
}

// FromConfig creates the configured chat, vision and embedding clients and
// returns a pipeline using them.
func FromConfig(cfg *config.Config, reporter progress.Reporter) (*Pipeline, error) {
	chat, err := llmservice.NewModel(&cfg.LLM, cfg.LLM.Model)
	if err != nil {
		return nil, err
	}
	vision, err := llmservice.NewModel(&cfg.LLM, cfg.LLM.VisionModel)
	if err != nil {
		return nil, err
	}
	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		return nil, err
	}
	return New(cfg, Deps{
		ChatModel:      chat,
		VisionModel:    vision,
		Embedder:       embedder,
		EmbeddingModel: embedder.Model(),
		Reporter:       reporter,
	}), nil
}

func New(cfg *config.Config, deps Deps) *Pipeline {
	reporter := progress.OrNop(deps.Reporter)
	callerCfg := llmservice.CallerConfigFrom(&cfg.LLM)
	indexOpts := chromemdb.Options{
		EncryptionKey: cfg.RAG.EncryptionKey,
		Compress:      cfg.RAG.Compress,
	}

	vision := describer.New(llmservice.NewCaller(deps.VisionModel, callerCfg), cfg.LLM.VisionMaxTokens)
	extractor := parser.NewExtractor(vision, reporter)

	return &Pipeline{
		cfg:       cfg,
		extractor: extractor,
		loader:    parser.NewDocumentLoader(extractor),
		chunker:   chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap),
		builder:   indexer.NewBuilder(deps.Embedder, deps.EmbeddingModel, indexOpts, reporter),
		rag: rag.NewRAG(llmservice.NewCaller(deps.ChatModel, callerCfg), deps.Embedder, rag.Options{
			IndexDir:       cfg.Storage.IndexDir(),
			ImagesDir:      cfg.Storage.ImagesDir,
			TopK:           cfg.RAG.TopK,
			EmbeddingModel: deps.EmbeddingModel,
			Index:          indexOpts,
		}),
		responses: responselog.New(cfg.Storage.ResponsesDir),
		reporter:  reporter,
	}
}

// Ingest extracts path, chunks its pages and merges them into the index.
func (p *Pipeline) Ingest(ctx context.Context, path string) (*IngestReport, error) {
	if !parser.IsSupported(path) {
		return nil, fmt.Errorf("%w: %s, expected one of %v", ErrUnsupported, path, parser.SupportedExtensions)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}

	pages, err := p.loader.Load(ctx, path, p.cfg.Storage.ImagesDir)
	if err != nil {
		return nil, err
	}

	report := &IngestReport{Path: path, Pages: len(pages), ImageFailures: []string{}, Records: pages}
	for _, page := range pages {
		report.Source = page.SourceDocument
		report.Images += len(page.ImageFilenames)
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		for _, f := range p.extractor.Failures() {
			report.ImageFailures = append(report.ImageFailures, f.Error())
		}
	}

	chunks, err := p.chunker.Split(pages)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return report, fmt.Errorf("%w: %s", ErrNoText, path)
	}
	report.Chunks = len(chunks)
	p.reporter.Info(fmt.Sprintf("Split %d pages into %d chunks", len(pages), len(chunks)))

	stats, err := p.builder.BuildOrUpdate(ctx, p.cfg.Storage.IndexDir(), chunks)
	report.Index = stats
	if err != nil {
		return report, err
	}

	log.Info().
		Str("file", report.Source).
		Int("pages", report.Pages).
		Int("images", report.Images).
		Int("chunks", report.Chunks).
		Msg("Document ingested")
	return report, nil
}

// Upload stores r under the uploads directory and ingests it.
func (p *Pipeline) Upload(ctx context.Context, name string, r io.Reader) (*IngestReport, error) {
	if !parser.IsSupported(name) {
		return nil, fmt.Errorf("%w: %s, expected one of %v", ErrUnsupported, name, parser.SupportedExtensions)
	}
	path, err := upload.Save(p.cfg.Storage.UploadsDir, name, r)
	if err != nil {
		return nil, err
	}
	mime, err := upload.DetectMIME(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".pdf") && !strings.HasPrefix(mime, "application/pdf") {
		if err := os.Remove(path); err != nil {
			log.Warn().Err(err).Str("file", path).Msg("Failed to remove rejected upload")
		}
		return nil, fmt.Errorf("%w: %s is %s, not a pdf", ErrUnsupported, filepath.Base(path), mime)
	}
	p.reporter.Success(fmt.Sprintf("Uploaded %s", path))

	report, err := p.Ingest(ctx, path)
	if err != nil {
		return nil, err
	}
	report.MIMEType = mime
	return report, nil
}

// Ask answers question from the index and logs the result. A failure to
// write the log is reported but does not fail the question.
func (p *Pipeline) Ask(ctx context.Context, question string) (*AskResult, error) {
	res, err := p.rag.Answer(ctx, question)
	if err != nil {
		return nil, err
	}
	out := &AskResult{QueryResult: res}
	path, err := p.responses.Log(res)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to save response")
		return out, nil
	}
	out.LogPath = path
	return out, nil
}

// IndexStats returns the metadata of the persisted index.
func (p *Pipeline) IndexStats() (*chromemdb.Metadata, error) {
	return chromemdb.ReadStats(p.cfg.Storage.IndexDir())
}

// WriteCombinedText writes the page texts of report as one document.
func WriteCombinedText(report *IngestReport, path string) error {
	if err := os.WriteFile(path, []byte(parser.CombinedText(report.Records)), 0o644); err != nil {
		return fmt.Errorf("failed to write combined text %s: %w", path, err)
	}
	return nil
}
