package chromemdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
)

const (
	DataFile = "index.gob"
	MetaFile = "index.json"

	// CollectionName is the single collection every index holds.
	CollectionName = "chunks"

	metaVersion = 1
)

var (
	ErrIndexNotFound  = errors.New("vector index not found")
	ErrConfigMismatch = errors.New("vector index was built with a different embedding configuration")
)

// Document represents our data structure with content and metadata
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// Result is one similarity search hit.
type Result struct {
	Document
	Similarity float32
}

// Metadata is persisted next to the exported collection in index.json.
type Metadata struct {
	Version        int       `json:"version"`
	Collection     string    `json:"collection"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimension      int       `json:"dimension"`
	Count          int       `json:"count"`
	Compressed     bool      `json:"compressed"`
	Encrypted      bool      `json:"encrypted"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Options controls how the index artifact is written and read. EncryptionKey
// must be empty or exactly 32 bytes.
type Options struct {
	EncryptionKey string
	Compress      bool
}

// Index is an in-memory chromem collection bound to a directory on disk.
// Nothing is written until Save is called.
type Index struct {
	dir        string
	opts       Options
	db         *chromem.DB
	collection *chromem.Collection
	meta       Metadata
}

// documents always carry their embedding, so the collection must never embed
// on its own.
func noEmbed(context.Context, string) ([]float32, error) {
	return nil, errors.New("index documents must be added with precomputed embeddings")
}

// Exists reports whether dir holds both index artifacts.
func Exists(dir string) bool {
	for _, name := range []string{DataFile, MetaFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || info.IsDir() {
			return false
		}
	}
	return true
}

// New returns an empty index for embeddingModel that will be saved to dir.
func New(dir, embeddingModel string, opts Options) (*Index, error) {
	if err := checkKey(opts.EncryptionKey); err != nil {
		return nil, err
	}
	db := chromem.NewDB()
	c, err := db.GetOrCreateCollection(CollectionName, nil, noEmbed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	now := time.Now().UTC()
	return &Index{
		dir:        dir,
		opts:       opts,
		db:         db,
		collection: c,
		meta: Metadata{
			Version:        metaVersion,
			Collection:     CollectionName,
			EmbeddingModel: embeddingModel,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}, nil
}

// Load reads a saved index. A directory missing either artifact yields
// ErrIndexNotFound.
func Load(ctx context.Context, dir string, opts Options) (*Index, error) {
	if err := checkKey(opts.EncryptionKey); err != nil {
		return nil, err
	}
	meta, err := ReadStats(dir)
	if err != nil {
		return nil, err
	}
	if meta.Encrypted && opts.EncryptionKey == "" {
		return nil, fmt.Errorf("%w: index at %s is encrypted and no key is configured", ErrConfigMismatch, dir)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(dir, DataFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, dir)
		}
		return nil, fmt.Errorf("failed to open index data: %w", err)
	}
	defer f.Close()

	key := ""
	if meta.Encrypted {
		key = opts.EncryptionKey
	}
	db := chromem.NewDB()
	if err := db.ImportFromReader(f, key, meta.Collection); err != nil {
		return nil, fmt.Errorf("failed to import index %s: %w", dir, err)
	}
	c := db.GetCollection(meta.Collection, noEmbed)
	if c == nil {
		return nil, fmt.Errorf("failed to import index %s: collection %q missing", dir, meta.Collection)
	}
	if c.Count() == 0 {
		// gob drops empty maps, so an empty export comes back without a
		// document map. Start from a fresh collection instead.
		if err := db.DeleteCollection(meta.Collection); err != nil {
			return nil, fmt.Errorf("failed to reset empty collection: %w", err)
		}
		if c, err = db.CreateCollection(meta.Collection, nil, noEmbed); err != nil {
			return nil, fmt.Errorf("failed to create collection: %w", err)
		}
	}
	if c.Count() != meta.Count {
		log.Warn().Str("dir", dir).Int("metadata", meta.Count).Int("collection", c.Count()).
			Msg("Index entry count differs from metadata")
	}

	return &Index{dir: dir, opts: opts, db: db, collection: c, meta: *meta}, nil
}

// Open loads the index in dir, or creates an empty one when dir holds none.
func Open(ctx context.Context, dir, embeddingModel string, opts Options) (*Index, bool, error) {
	if !Exists(dir) {
		idx, err := New(dir, embeddingModel, opts)
		return idx, true, err
	}
	idx, err := Load(ctx, dir, opts)
	return idx, false, err
}

// ReadStats returns the metadata of the index in dir without loading its entries.
func ReadStats(dir string) (*Metadata, error) {
	if !Exists(dir) {
		return nil, fmt.Errorf("%w: %s", ErrIndexNotFound, dir)
	}
	data, err := os.ReadFile(filepath.Join(dir, MetaFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read index metadata: %w", err)
	}
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse index metadata %s: %w", dir, err)
	}
	if meta.Collection == "" {
		meta.Collection = CollectionName
	}
	return &meta, nil
}

// Count is the number of stored chunks.
func (i *Index) Count() int {
	return i.collection.Count()
}

// Metadata returns the metadata as of the last Load or Save.
func (i *Index) Metadata() Metadata {
	return i.meta
}

// CheckEmbedder fails with ErrConfigMismatch when model or dim differ from
// what the index was built with. Unknown values on either side are accepted.
func (i *Index) CheckEmbedder(model string, dim int) error {
	if i.meta.EmbeddingModel != "" && model != "" && model != i.meta.EmbeddingModel {
		return fmt.Errorf("%w: index uses model %q, configured model is %q", ErrConfigMismatch, i.meta.EmbeddingModel, model)
	}
	if i.meta.Dimension > 0 && dim != i.meta.Dimension {
		return fmt.Errorf("%w: index vectors have %d dimensions, got %d", ErrConfigMismatch, i.meta.Dimension, dim)
	}
	return nil
}

// Add inserts documents with precomputed embeddings. Documents with an ID
// already present replace the stored entry.
func (i *Index) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	dim := i.meta.Dimension
	chromemDocs := make([]chromem.Document, len(docs))
	for n, doc := range docs {
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document %s has no embedding", doc.ID)
		}
		if dim == 0 {
			dim = len(doc.Embedding)
		}
		if len(doc.Embedding) != dim {
			return fmt.Errorf("%w: document %s has %d dimensions, index has %d", ErrConfigMismatch, doc.ID, len(doc.Embedding), dim)
		}
		chromemDocs[n] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: doc.Embedding,
		}
	}

	if err := i.collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	i.meta.Dimension = dim
	return nil
}

// Query returns up to k entries ordered by descending cosine similarity.
// k is clamped to the index size; an empty index yields no results.
func (i *Index) Query(ctx context.Context, embedding []float32, k int) ([]Result, error) {
	if len(embedding) == 0 {
		return nil, errors.New("query embedding is empty")
	}
	if k > i.Count() {
		k = i.Count()
	}
	if k <= 0 {
		return nil, nil
	}

	res, err := i.collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	out := make([]Result, len(res))
	for n, r := range res {
		out[n] = Result{
			Document: Document{
				ID:        r.ID,
				Content:   r.Content,
				Metadata:  r.Metadata,
				Embedding: r.Embedding,
			},
			Similarity: r.Similarity,
		}
	}
	return out, nil
}

// Save writes both artifacts to the index directory. Each file is written to
// a temp file and renamed into place; index.json goes last so a reader never
// sees metadata for data that is not there yet.
func (i *Index) Save() error {
	if err := os.MkdirAll(i.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create index dir: %w", err)
	}

	err := writeAtomic(i.dir, DataFile, func(f *os.File) error {
		return i.db.ExportToWriter(f, i.opts.Compress, i.opts.EncryptionKey, i.collection.Name)
	})
	if err != nil {
		return fmt.Errorf("failed to export index: %w", err)
	}

	meta := i.meta
	meta.Count = i.Count()
	meta.Compressed = i.opts.Compress
	meta.Encrypted = i.opts.EncryptionKey != ""
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index metadata: %w", err)
	}
	err = writeAtomic(i.dir, MetaFile, func(f *os.File) error {
		_, err := f.Write(data)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to write index metadata: %w", err)
	}

	i.meta = meta
	log.Debug().Str("dir", i.dir).Int("count", meta.Count).Bool("compressed", meta.Compressed).
		Bool("encrypted", meta.Encrypted).Msg("Saved vector index")
	return nil
}

func writeAtomic(dir, name string, write func(*os.File) error) error {
	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}

func checkKey(key string) error {
	if key != "" && len(key) != 32 {
		return errors.New("encryption key must be 32 bytes long")
	}
	return nil
}
