package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

type Config struct {
	LLM      LLMConfig     `yaml:"llm"`
	EmbedLLM LLMConfig     `yaml:"embed_llm"`
	RAG      RAGConfig     `yaml:"rag"`
	Storage  StorageConfig `yaml:"storage"`
	Server   ServerConfig  `yaml:"server"`
	Log      LogConfig     `yaml:"log"`
}

// LLMConfig describes one model endpoint. The same shape is used for the
// chat/vision model and for the embedding model.
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	BaseURL           string        `yaml:"base_url"`
	Key               string        `yaml:"key"`
	Model             string        `yaml:"model"`
	VisionModel       string        `yaml:"vision_model"`
	VisionMaxTokens   int           `yaml:"vision_max_tokens"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRetries        int           `yaml:"max_retries"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

type RAGConfig struct {
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
	TopK          int    `yaml:"top_k"`
	EncryptionKey string `yaml:"encryption_key"`
	Compress      bool   `yaml:"compress"`
}

type StorageConfig struct {
	UploadsDir    string `yaml:"uploads_dir"`
	ImagesDir     string `yaml:"images_dir"`
	EmbeddingsDir string `yaml:"embeddings_dir"`
	IndexName     string `yaml:"index_name"`
	ResponsesDir  string `yaml:"responses_dir"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// IndexDir is the directory holding the persisted vector index.
func (s StorageConfig) IndexDir() string {
	return strings.TrimRight(s.EmbeddingsDir, "/") + "/" + s.IndexName
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// LoadConfig reads the YAML file at path, applies .env and environment
// overrides and fills defaults. A missing file is not an error.
func LoadConfig(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	cfg.mergeWithEnv()
	cfg.applyDefaults()
	return cfg, nil
}

// Default returns a configuration populated only with defaults and environment.
func Default() *Config {
	cfg := &Config{}
	cfg.mergeWithEnv()
	cfg.applyDefaults()
	return cfg
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

func (c *Config) mergeWithEnv() {
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		if c.LLM.Key == "" {
			c.LLM.Key = v
		}
		if c.EmbedLLM.Key == "" {
			c.EmbedLLM.Key = v
		}
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" && c.LLM.BaseURL == "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		if c.EmbedLLM.Provider == ProviderOllama && c.EmbedLLM.BaseURL == "" {
			c.EmbedLLM.BaseURL = v
		}
		if c.LLM.Provider == ProviderOllama && c.LLM.BaseURL == "" {
			c.LLM.BaseURL = v
		}
	}
	if v := os.Getenv("RAG_ENCRYPTION_KEY"); v != "" {
		c.RAG.EncryptionKey = v
	}
	if v := os.Getenv("RAG_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = ProviderOpenAI
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-3.5-turbo"
	}
	if c.LLM.VisionModel == "" {
		c.LLM.VisionModel = "gpt-4o"
	}
	if c.LLM.VisionMaxTokens == 0 {
		c.LLM.VisionMaxTokens = 300
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 1
	}

	if c.EmbedLLM.Provider == "" {
		c.EmbedLLM.Provider = ProviderOpenAI
	}
	if c.EmbedLLM.Model == "" {
		c.EmbedLLM.Model = "text-embedding-ada-002"
	}
	if c.EmbedLLM.Timeout == 0 {
		c.EmbedLLM.Timeout = 60 * time.Second
	}

	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = 500
	}
	if c.RAG.ChunkOverlap == 0 {
		c.RAG.ChunkOverlap = 60
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = 4
	}

	if c.Storage.UploadsDir == "" {
		c.Storage.UploadsDir = "data/saved_documents"
	}
	if c.Storage.ImagesDir == "" {
		c.Storage.ImagesDir = "data/images"
	}
	if c.Storage.EmbeddingsDir == "" {
		c.Storage.EmbeddingsDir = "data/embeddings"
	}
	if c.Storage.IndexName == "" {
		c.Storage.IndexName = "vector_index"
	}
	if c.Storage.ResponsesDir == "" {
		c.Storage.ResponsesDir = "data/responses"
	}

	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports every problem found instead of stopping at the first one.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	for _, entry := range []struct {
		name string
		llm  LLMConfig
	}{{"llm", c.LLM}, {"embed_llm", c.EmbedLLM}} {
		name, l := entry.name, entry.llm
		switch l.Provider {
		case ProviderOpenAI:
			if l.Key == "" && l.BaseURL == "" {
				errs = append(errs, ValidationError{Field: name + ".key", Message: "API key is required for the openai provider"})
			}
		case ProviderOllama:
		default:
			errs = append(errs, ValidationError{Field: name + ".provider", Message: fmt.Sprintf("unsupported provider %q", l.Provider)})
		}
		if l.Timeout < 0 {
			errs = append(errs, ValidationError{Field: name + ".timeout", Message: "must not be negative"})
		}
		if l.MaxRetries < 0 {
			errs = append(errs, ValidationError{Field: name + ".max_retries", Message: "must not be negative"})
		}
	}

	if c.RAG.ChunkSize <= 0 {
		errs = append(errs, ValidationError{Field: "rag.chunk_size", Message: "must be positive"})
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		errs = append(errs, ValidationError{Field: "rag.chunk_overlap", Message: "must be between 0 and chunk_size"})
	}
	if c.RAG.TopK <= 0 {
		errs = append(errs, ValidationError{Field: "rag.top_k", Message: "must be positive"})
	}
	if k := len(c.RAG.EncryptionKey); k != 0 && k != 32 {
		errs = append(errs, ValidationError{Field: "rag.encryption_key", Message: "must be exactly 32 bytes"})
	}

	return errs
}
