package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/aswinpradeepc/llmsearch/internal/logger"
	"github.com/aswinpradeepc/llmsearch/internal/metrics"
)

// IngestorOptions configures the ingestion pipeline.
type IngestorOptions struct {
	EmbedBatchSize  int           // chunks per embedding call batch
	UpsertBatchSize int           // vectors per upsert flush
	MaxContentChars int           // metadata content truncation
	MaxRetries      int           // attempts per embedding sub-batch
	RetryBackoff    time.Duration // first retry delay, doubled per attempt
}

// Ingestor turns one document into stored vectors: chunk, embed in batches,
// upsert. Ingestion is best effort: a sub-batch whose embedding keeps
// failing is skipped and counted, not fatal to the document.
type Ingestor struct {
	chunker  *Chunker
	embedder EmbeddingProvider
	index    VectorIndex
	db       *gorm.DB // optional document catalog
	opts     IngestorOptions
}

// NewIngestor creates the ingestion pipeline. db may be nil to run without
// a document catalog.
func NewIngestor(chunker *Chunker, embedder EmbeddingProvider, index VectorIndex, db *gorm.DB, opts IngestorOptions) *Ingestor {
	if opts.EmbedBatchSize <= 0 {
		opts.EmbedBatchSize = 100
	}
	if opts.UpsertBatchSize <= 0 {
		opts.UpsertBatchSize = 100
	}
	if opts.MaxContentChars <= 0 {
		opts.MaxContentChars = 8192
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 500 * time.Millisecond
	}

	return &Ingestor{
		chunker:  chunker,
		embedder: embedder,
		index:    index,
		db:       db,
		opts:     opts,
	}
}

// ChunkID builds the stable vector id for a document chunk. Re-ingesting a
// document with the same chunking parameters reproduces these ids, so the
// index overwrites instead of accumulating duplicates.
func ChunkID(documentID string, index int) string {
	return fmt.Sprintf("%s_chunk_%d", documentID, index)
}

// IngestDocument runs the full pipeline for one document.
func (ing *Ingestor) IngestDocument(ctx context.Context, doc *Document) (*IngestResult, error) {
	if doc == nil || doc.ID == "" {
		return nil, fmt.Errorf("%w: document id is required", ErrInvalidArgument)
	}

	log := logger.WithContext(ctx).With(
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.Filename),
	)
	start := time.Now()

	ing.setStatus(ctx, doc, StatusProcessing, nil, "")

	chunks, err := ing.chunker.ChunkDocument(doc)
	if err != nil {
		ing.setStatus(ctx, doc, StatusFailed, nil, err.Error())
		metrics.DocumentsIngestedTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("chunk document %q: %w", doc.ID, err)
	}

	result := &IngestResult{
		DocumentID:  doc.ID,
		TotalChunks: len(chunks),
	}

	if len(chunks) == 0 {
		log.Info("document has no text to index")
		ing.setStatus(ctx, doc, StatusIndexed, result, "")
		metrics.DocumentsIngestedTotal.WithLabelValues("indexed").Inc()
		return result, nil
	}

	tables := FlattenTables(doc.Tables)

	pending := make([]Vector, 0, ing.opts.UpsertBatchSize)
	flush := func() {
		if len(pending) == 0 {
			return
		}
		if err := ing.upsertWithRetry(ctx, pending); err != nil {
			log.Warn("upsert batch failed, chunks skipped",
				zap.Int("count", len(pending)),
				zap.Error(err),
			)
			result.FailedChunks += len(pending)
			metrics.ChunksFailedTotal.Add(float64(len(pending)))
		} else {
			result.IndexedCount += len(pending)
			metrics.ChunksIndexedTotal.Add(float64(len(pending)))
		}
		pending = pending[:0]
	}

	for batchStart := 0; batchStart < len(chunks); batchStart += ing.opts.EmbedBatchSize {
		batchEnd := batchStart + ing.opts.EmbedBatchSize
		if batchEnd > len(chunks) {
			batchEnd = len(chunks)
		}
		batch := chunks[batchStart:batchEnd]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		embeddings, err := ing.embedWithRetry(ctx, texts)
		if err != nil {
			log.Warn("embedding sub-batch failed after retries, chunks skipped",
				zap.Int("from", batchStart),
				zap.Int("to", batchEnd),
				zap.Error(err),
			)
			result.FailedChunks += len(batch)
			metrics.ChunksFailedTotal.Add(float64(len(batch)))
			continue
		}

		for i, chunk := range batch {
			pending = append(pending, Vector{
				ID:     ChunkID(doc.ID, chunk.Index),
				Values: embeddings[i],
				Metadata: map[string]any{
					MetaFilename:    doc.Filename,
					MetaChunkIndex:  chunk.Index,
					MetaTotalChunks: chunk.TotalChunks,
					MetaContent:     truncateRunes(chunk.Text, ing.opts.MaxContentChars),
					MetaTables:      tables,
				},
			})
			if len(pending) >= ing.opts.UpsertBatchSize {
				flush()
			}
		}
	}
	flush()

	status := StatusIndexed
	if result.IndexedCount == 0 {
		status = StatusFailed
	}
	ing.setStatus(ctx, doc, status, result, "")
	metrics.DocumentsIngestedTotal.WithLabelValues(status).Inc()
	metrics.IngestDuration.Observe(time.Since(start).Seconds())

	log.Info("document ingested",
		zap.Int("total_chunks", result.TotalChunks),
		zap.Int("indexed", result.IndexedCount),
		zap.Int("failed", result.FailedChunks),
	)

	return result, nil
}

// embedWithRetry calls the embedding provider with bounded exponential
// backoff. Only transient failures are retried; bad input fails straight
// through.
func (ing *Ingestor) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	backoff := ing.opts.RetryBackoff
	var lastErr error

	for attempt := 0; attempt < ing.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.EmbeddingRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		embeddings, err := ing.embedder.EmbedBatch(ctx, texts)
		if err == nil {
			return embeddings, nil
		}
		lastErr = err

		if !errors.Is(err, ErrProviderUnavailable) {
			return nil, err
		}
	}

	return nil, lastErr
}

func (ing *Ingestor) upsertWithRetry(ctx context.Context, vectors []Vector) error {
	backoff := ing.opts.RetryBackoff
	var lastErr error

	for attempt := 0; attempt < ing.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		err := ing.index.Upsert(ctx, vectors)
		if err == nil {
			return nil
		}
		lastErr = err

		if !errors.Is(err, ErrProviderUnavailable) {
			return err
		}
	}

	return lastErr
}

// setStatus records the document's lifecycle in the catalog. A nil db is a
// no-op; catalog failures are logged but never fail the pipeline.
func (ing *Ingestor) setStatus(ctx context.Context, doc *Document, status string, result *IngestResult, errMsg string) {
	if ing.db == nil {
		return
	}

	record := &DocumentRecord{
		ID:           doc.ID,
		Filename:     doc.Filename,
		Status:       status,
		CharCount:    len(doc.RawText),
		ErrorMessage: errMsg,
	}
	if result != nil {
		record.ChunkCount = result.TotalChunks
		record.FailedChunks = result.FailedChunks
	}

	err := ing.db.WithContext(ctx).
		Where(DocumentRecord{ID: doc.ID}).
		Assign(map[string]any{
			"filename":      record.Filename,
			"status":        record.Status,
			"chunk_count":   record.ChunkCount,
			"failed_chunks": record.FailedChunks,
			"char_count":    record.CharCount,
			"error_message": record.ErrorMessage,
		}).
		FirstOrCreate(&DocumentRecord{}).Error
	if err != nil {
		logger.WithContext(ctx).Warn("update document catalog failed",
			zap.String("document_id", doc.ID),
			zap.Error(err),
		)
	}
}

// truncateRunes keeps the first limit characters of s.
func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
