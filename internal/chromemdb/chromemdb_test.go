package chromemdb_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"multimodal-rag/internal/chromemdb"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "0123456789abcdef0123456789abcdef"

func doc(id string, vec ...float32) chromemdb.Document {
	return chromemdb.Document{
		ID:        id,
		Content:   "content " + id,
		Metadata:  map[string]string{"source": "a.pdf", "page": "0"},
		Embedding: vec,
	}
}

func TestOpenCreatesWhenMissing(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vector_index")

	idx, created, err := chromemdb.Open(context.Background(), dir, "m", chromemdb.Options{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 0, idx.Count())
	assert.False(t, chromemdb.Exists(dir))
}

func TestLoadMissing(t *testing.T) {
	_, err := chromemdb.Load(context.Background(), t.TempDir(), chromemdb.Options{})
	assert.ErrorIs(t, err, chromemdb.ErrIndexNotFound)

	_, err = chromemdb.ReadStats(t.TempDir())
	assert.ErrorIs(t, err, chromemdb.ErrIndexNotFound)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		opts chromemdb.Options
	}{
		{name: "plain"},
		{name: "compressed", opts: chromemdb.Options{Compress: true}},
		{name: "encrypted", opts: chromemdb.Options{EncryptionKey: testKey}},
		{name: "compressed and encrypted", opts: chromemdb.Options{Compress: true, EncryptionKey: testKey}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			dir := filepath.Join(t.TempDir(), "idx")

			idx, err := chromemdb.New(dir, "embed-v1", tt.opts)
			require.NoError(t, err)
			require.NoError(t, idx.Add(ctx, []chromemdb.Document{
				doc("a", 1, 0, 0),
				doc("b", 0, 1, 0),
			}))
			require.NoError(t, idx.Save())
			assert.True(t, chromemdb.Exists(dir))

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			var names []string
			for _, e := range entries {
				names = append(names, e.Name())
			}
			assert.ElementsMatch(t, []string{chromemdb.DataFile, chromemdb.MetaFile}, names)

			loaded, err := chromemdb.Load(ctx, dir, tt.opts)
			require.NoError(t, err)
			assert.Equal(t, 2, loaded.Count())

			meta := loaded.Metadata()
			assert.Equal(t, "embed-v1", meta.EmbeddingModel)
			assert.Equal(t, 3, meta.Dimension)
			assert.Equal(t, 2, meta.Count)
			assert.Equal(t, tt.opts.Compress, meta.Compressed)
			assert.Equal(t, tt.opts.EncryptionKey != "", meta.Encrypted)

			res, err := loaded.Query(ctx, []float32{0, 1, 0}, 1)
			require.NoError(t, err)
			require.Len(t, res, 1)
			assert.Equal(t, "b", res[0].ID)
			assert.Equal(t, "content b", res[0].Content)
			assert.Equal(t, "a.pdf", res[0].Metadata["source"])
		})
	}
}

func TestLoadEncryptedWithoutKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := chromemdb.New(dir, "m", chromemdb.Options{EncryptionKey: testKey})
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, []chromemdb.Document{doc("a", 1, 0)}))
	require.NoError(t, idx.Save())

	_, err = chromemdb.Load(ctx, dir, chromemdb.Options{})
	assert.ErrorIs(t, err, chromemdb.ErrConfigMismatch)
}

func TestLoadCorruptData(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := chromemdb.New(dir, "m", chromemdb.Options{})
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, []chromemdb.Document{doc("a", 1, 0)}))
	require.NoError(t, idx.Save())
	require.NoError(t, os.WriteFile(filepath.Join(dir, chromemdb.DataFile), []byte("garbage"), 0o644))

	_, err = chromemdb.Load(ctx, dir, chromemdb.Options{})
	require.Error(t, err)
	assert.NotErrorIs(t, err, chromemdb.ErrIndexNotFound)
}

func TestEmptyIndexSurvivesSave(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := chromemdb.New(dir, "m", chromemdb.Options{})
	require.NoError(t, err)
	require.NoError(t, idx.Save())

	loaded, err := chromemdb.Load(ctx, dir, chromemdb.Options{})
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Count())
	require.NoError(t, loaded.Add(ctx, []chromemdb.Document{doc("a", 1, 0)}))
	assert.Equal(t, 1, loaded.Count())
}

func TestQueryClampsK(t *testing.T) {
	ctx := context.Background()
	idx, err := chromemdb.New(t.TempDir(), "m", chromemdb.Options{})
	require.NoError(t, err)

	res, err := idx.Query(ctx, []float32{1, 0}, 4)
	require.NoError(t, err)
	assert.Empty(t, res)

	for i := 0; i < 3; i++ {
		require.NoError(t, idx.Add(ctx, []chromemdb.Document{doc(fmt.Sprint(i), 1, float32(i))}))
	}
	res, err = idx.Query(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, res, 3)
	assert.Equal(t, "0", res[0].ID)
	assert.GreaterOrEqual(t, res[0].Similarity, res[1].Similarity)
	assert.GreaterOrEqual(t, res[1].Similarity, res[2].Similarity)
}

func TestAddRejectsDimensionChange(t *testing.T) {
	ctx := context.Background()
	idx, err := chromemdb.New(t.TempDir(), "m", chromemdb.Options{})
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, []chromemdb.Document{doc("a", 1, 0, 0)}))

	err = idx.Add(ctx, []chromemdb.Document{doc("b", 1, 0)})
	assert.ErrorIs(t, err, chromemdb.ErrConfigMismatch)
	assert.Equal(t, 1, idx.Count())

	err = idx.Add(ctx, []chromemdb.Document{{ID: "c", Content: "x"}})
	assert.Error(t, err)
}

func TestCheckEmbedder(t *testing.T) {
	ctx := context.Background()
	idx, err := chromemdb.New(t.TempDir(), "embed-v1", chromemdb.Options{})
	require.NoError(t, err)
	require.NoError(t, idx.Add(ctx, []chromemdb.Document{doc("a", 1, 0, 0)}))

	assert.NoError(t, idx.CheckEmbedder("embed-v1", 3))
	assert.ErrorIs(t, idx.CheckEmbedder("embed-v2", 3), chromemdb.ErrConfigMismatch)
	assert.ErrorIs(t, idx.CheckEmbedder("embed-v1", 4), chromemdb.ErrConfigMismatch)
}

func TestNewRejectsBadKey(t *testing.T) {
	_, err := chromemdb.New(t.TempDir(), "m", chromemdb.Options{EncryptionKey: "short"})
	assert.Error(t, err)
}
