package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("RAG_ENCRYPTION_KEY", "")

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "gpt-3.5-turbo", cfg.LLM.Model)
	assert.Equal(t, "gpt-4o", cfg.LLM.VisionModel)
	assert.Equal(t, 300, cfg.LLM.VisionMaxTokens)
	assert.Equal(t, 1, cfg.LLM.MaxRetries)
	assert.Equal(t, 500, cfg.RAG.ChunkSize)
	assert.Equal(t, 60, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 4, cfg.RAG.TopK)
	assert.Equal(t, "sk-test", cfg.LLM.Key)
	assert.Equal(t, "sk-test", cfg.EmbedLLM.Key)
	assert.Equal(t, "data/embeddings/vector_index", cfg.Storage.IndexDir())
	assert.Equal(t, "data/saved_documents", cfg.Storage.UploadsDir)
	assert.Equal(t, "data/responses", cfg.Storage.ResponsesDir)
	assert.Empty(t, cfg.Validate())
}

func TestLoadConfig_YAMLOverridesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("OLLAMA_BASE_URL", "http://ollama:11434")

	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
llm:
  provider: ollama
  model: llama3
  timeout: 15s
embed_llm:
  provider: ollama
  model: nomic-embed-text
rag:
  chunk_size: 800
  top_k: 2
storage:
  embeddings_dir: /tmp/emb/
  index_name: idx
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "llama3", cfg.LLM.Model)
	assert.Equal(t, 15*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, "http://ollama:11434", cfg.LLM.BaseURL)
	assert.Equal(t, "http://ollama:11434", cfg.EmbedLLM.BaseURL)
	assert.Equal(t, 800, cfg.RAG.ChunkSize)
	assert.Equal(t, 60, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 2, cfg.RAG.TopK)
	assert.Equal(t, "/tmp/emb/idx", cfg.Storage.IndexDir())
	assert.Empty(t, cfg.Validate())
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("llm: [unclosed"), 0o600))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	path := filepath.Join(t.TempDir(), "out.yaml")

	cfg := Default()
	cfg.RAG.TopK = 7
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7, loaded.RAG.TopK)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		fields []string
	}{
		{
			name:   "valid",
			mutate: func(c *Config) {},
		},
		{
			name:   "unknown provider",
			mutate: func(c *Config) { c.LLM.Provider = "bedrock" },
			fields: []string{"llm.provider"},
		},
		{
			name:   "missing openai key",
			mutate: func(c *Config) { c.EmbedLLM.Key = "" },
			fields: []string{"embed_llm.key"},
		},
		{
			name:   "overlap not smaller than size",
			mutate: func(c *Config) { c.RAG.ChunkOverlap = c.RAG.ChunkSize },
			fields: []string{"rag.chunk_overlap"},
		},
		{
			name: "bad encryption key and top_k",
			mutate: func(c *Config) {
				c.RAG.EncryptionKey = "short"
				c.RAG.TopK = -1
			},
			fields: []string{"rag.top_k", "rag.encryption_key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("OPENAI_API_KEY", "sk-test")
			t.Setenv("RAG_ENCRYPTION_KEY", "")
			cfg := Default()
			tt.mutate(cfg)

			var got []string
			for _, e := range cfg.Validate() {
				got = append(got, e.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}
