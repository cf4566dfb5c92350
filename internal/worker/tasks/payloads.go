package tasks

import "github.com/aswinpradeepc/llmsearch/internal/rag"

// Task types
const (
	TypeIngestDocument = "rag:ingest_document"
)

// IngestDocumentPayload carries the extracted document through the queue.
// The extraction step upstream delivers the full body, so the worker needs
// no shared storage to pick the job up.
type IngestDocumentPayload struct {
	Document rag.Document `json:"document"`
}
