package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/aswinpradeepc/llmsearch/internal/rag"
	"github.com/aswinpradeepc/llmsearch/internal/worker/tasks"
)

// IngestHandler runs queued document ingestions.
type IngestHandler struct {
	ingestor *rag.Ingestor
	logger   *zap.Logger
}

// NewIngestHandler creates the handler.
func NewIngestHandler(ingestor *rag.Ingestor, logger *zap.Logger) *IngestHandler {
	return &IngestHandler{ingestor: ingestor, logger: logger}
}

// HandleIngestDocument processes one rag:ingest_document task. A malformed
// payload is not retryable; pipeline errors are, since asynq re-delivers.
func (h *IngestHandler) HandleIngestDocument(ctx context.Context, task *asynq.Task) error {
	var payload tasks.IngestDocumentPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	result, err := h.ingestor.IngestDocument(ctx, &payload.Document)
	if err != nil {
		h.logger.Error("document ingestion failed",
			zap.String("document_id", payload.Document.ID),
			zap.Error(err),
		)
		return err
	}

	h.logger.Info("document ingestion finished",
		zap.String("document_id", result.DocumentID),
		zap.Int("indexed", result.IndexedCount),
		zap.Int("failed", result.FailedChunks),
	)

	return nil
}
