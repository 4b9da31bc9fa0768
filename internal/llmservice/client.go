package llmservice

import (
	"fmt"
	"strings"

	"multimodal-rag/internal/config"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// NewModel builds a chat model for the configured provider. model overrides
// llmConfig.Model when non-empty, which is how the vision model is selected.
func NewModel(llmConfig *config.LLMConfig, model string) (llms.Model, error) {
	if model == "" {
		model = llmConfig.Model
	}
	log.Debug().
		Str("provider", llmConfig.Provider).
		Str("base_url", llmConfig.BaseURL).
		Str("model", model).
		Msg("Creating language model")

	switch llmConfig.Provider {
	case config.ProviderOpenAI, "":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
			openai.WithModel(model),
		}
		if llmConfig.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai model: %w", err)
		}
		return llm, nil
	case config.ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(model)}
		if llmConfig.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(llmConfig.BaseURL))
		}
		llm, err := ollama.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama model: %w", err)
		}
		return llm, nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", llmConfig.Provider)
	}
}
