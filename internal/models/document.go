package models

import "time"

// PageRecord is the extraction output for a single page. PageNumber is 0-based.
type PageRecord struct {
	SourceDocument string   `json:"source_document"`
	PageNumber     int      `json:"page_number"`
	Text           string   `json:"text"`
	ImageFilenames []string `json:"image_filenames,omitempty"`
}

// Chunk represents a parsed chunk with metadata
type Chunk struct {
	ID             string `json:"id"`
	Content        string `json:"content"`
	SourceDocument string `json:"source_document"`
	PageNumber     int    `json:"page_number"`
	ChunkID        int    `json:"chunk_id"`
}

type SourceChunk struct {
	ID             string  `json:"id"`
	Content        string  `json:"content"`
	SourceDocument string  `json:"source_document"`
	PageNumber     int     `json:"page_number"`
	ChunkID        int     `json:"chunk_id"`
	Similarity     float32 `json:"similarity"`
}

// QueryResult is the answer to one question along with its provenance.
// SourceDocument and PageNumber come from the top ranked chunk; PageNumber
// is -1 when nothing was retrieved.
type QueryResult struct {
	Question        string        `json:"question"`
	Answer          string        `json:"answer"`
	SourceDocument  string        `json:"source_document"`
	PageNumber      int           `json:"page_number"`
	ImageReferences []string      `json:"image_references"`
	ImagePaths      []string      `json:"image_paths"`
	Sources         []SourceChunk `json:"sources"`
}

type ResponseLogRecord struct {
	Version   int         `json:"version"`
	ID        string      `json:"id"`
	CreatedAt time.Time   `json:"created_at"`
	Result    QueryResult `json:"result"`
}
