package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"multimodal-rag/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Service is an embeddings.Embedder that knows which model produced its
// vectors and bounds every request with a timeout.
type Service struct {
	embedder embeddings.Embedder
	model    string
	timeout  time.Duration
}

var _ embeddings.Embedder = (*Service)(nil)

// NewEmbedder creates the embedder described by cfg.
func NewEmbedder(cfg *config.LLMConfig) (*Service, error) {
	log.Debug().
		Str("provider", cfg.Provider).
		Str("base_url", cfg.BaseURL).
		Str("embedding_model", cfg.Model).
		Msg("Creating embedder")

	var client embeddings.EmbedderClient
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai embedding client: %w", err)
		}
		client = llm
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama embedding client: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return Wrap(embedder, cfg.Model, cfg.Timeout), nil
}

// Wrap attaches a model identity and request timeout to an existing embedder.
func Wrap(e embeddings.Embedder, model string, timeout time.Duration) *Service {
	return &Service{embedder: e, model: model, timeout: timeout}
}

// Model is the identity recorded alongside the vectors in the index.
func (s *Service) Model() string { return s.model }

func (s *Service) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	// EmbedDocuments may rewrite its input when stripping newlines.
	in := make([]string, len(texts))
	copy(in, texts)
	vectors, err := s.embedder.EmbedDocuments(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("failed to embed %d documents: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d documents", len(vectors), len(texts))
	}
	return vectors, nil
}

func (s *Service) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	vector, err := s.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return vector, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}
