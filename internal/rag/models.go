package rag

import "time"

// Document is one extracted financial document, as delivered by the upstream
// extraction step. Tables arrive as a nested list-of-lists of cell strings
// and stay untouched until FlattenTables.
type Document struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	RawText  string `json:"text"`
	Tables   []any  `json:"tables"`
}

// Chunk is a bounded slice of a document's text, the unit of embedding and
// retrieval. Index is 0-based and ordering-significant.
type Chunk struct {
	DocumentID  string
	Index       int
	Text        string
	TotalChunks int
}

// Vector is an embedding plus the identity and metadata it is stored under.
type Vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata"`
}

// SearchResult is one ranked match from the vector index. Score is the
// similarity as reported by the index, higher meaning closer.
type SearchResult struct {
	ID       string         `json:"id"`
	Score    float64        `json:"score"`
	Metadata map[string]any `json:"metadata"`
}

// Metadata keys written at ingestion time and read back at query time.
const (
	MetaFilename    = "filename"
	MetaChunkIndex  = "chunk_index"
	MetaTotalChunks = "total_chunks"
	MetaContent     = "content"
	MetaTables      = "tables"
)

// QueryRequest is the caller-facing query shape.
type QueryRequest struct {
	Query   string            `json:"query" binding:"required"`
	TopK    int               `json:"top_k"`
	Filters map[string]string `json:"filters"`
}

// QueryResponse carries the generated answer and the retrieval results it
// was grounded on, in retrieval order.
type QueryResponse struct {
	Answer  string         `json:"answer"`
	Sources []SearchResult `json:"sources"`
}

// IngestResult summarizes one ingestion run. FailedChunks counts chunks
// skipped after embedding retries were exhausted; the run itself still
// succeeds with partial indexing.
type IngestResult struct {
	DocumentID   string `json:"document_id"`
	TotalChunks  int    `json:"total_chunks"`
	IndexedCount int    `json:"indexed_count"`
	FailedChunks int    `json:"failed_chunks"`
}

// Document catalog statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusIndexed    = "indexed"
	StatusFailed     = "failed"
)

// DocumentRecord tracks a document's ingestion lifecycle in the catalog
// database. Re-ingesting the same id overwrites the record, matching the
// overwrite semantics of the vector index.
type DocumentRecord struct {
	ID       string `json:"id" gorm:"primaryKey;size:255"`
	Filename string `json:"filename" gorm:"size:500;not null"`

	Status       string `json:"status" gorm:"size:50;not null;default:pending"`
	ChunkCount   int    `json:"chunkCount" gorm:"default:0"`
	FailedChunks int    `json:"failedChunks" gorm:"default:0"`
	CharCount    int    `json:"charCount" gorm:"default:0"`
	ErrorMessage string `json:"errorMessage" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}
