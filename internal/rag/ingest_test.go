package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// scriptedEmbedder fails batches whose first text matches failOn, or the
// first failFirst calls, always with the given error.
type scriptedEmbedder struct {
	fakeEmbedder
	failOn    string
	failFirst int
	failWith  error
}

func (s *scriptedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.failFirst > 0 && s.calls <= s.failFirst {
		return nil, s.failWith
	}
	if s.failOn != "" {
		for _, text := range texts {
			if strings.Contains(text, s.failOn) {
				return nil, s.failWith
			}
		}
	}
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = []float32{float32(len(text)), 1}
	}
	return vecs, nil
}

func setupCatalogDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:ingest_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&DocumentRecord{}))
	return db
}

func fastRetry() IngestorOptions {
	return IngestorOptions{MaxRetries: 3, RetryBackoff: time.Millisecond}
}

func TestIngestDocumentSplitsAndIndexes(t *testing.T) {
	index := &memoryIndex{}
	ing := NewIngestor(NewChunker(8192), &fakeEmbedder{}, index, nil, fastRetry())

	doc := &Document{
		ID:       "doc1",
		Filename: "doc1.pdf",
		RawText:  strings.Repeat("a", 9000),
	}

	result, err := ing.IngestDocument(context.Background(), doc)
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalChunks)
	require.Equal(t, 2, result.IndexedCount)
	require.Equal(t, 0, result.FailedChunks)

	stored := index.stored()
	require.Len(t, stored, 2)
	require.Equal(t, "doc1_chunk_0", stored[0].ID)
	require.Equal(t, "doc1_chunk_1", stored[1].ID)

	meta := stored[0].Metadata
	require.Equal(t, "doc1.pdf", meta[MetaFilename])
	require.Equal(t, 0, meta[MetaChunkIndex])
	require.Equal(t, 2, meta[MetaTotalChunks])
	require.Equal(t, strings.Repeat("a", 8192), meta[MetaContent])
	require.Equal(t, 1, stored[1].Metadata[MetaChunkIndex])
	require.Equal(t, strings.Repeat("a", 9000-8192), stored[1].Metadata[MetaContent])
}

func TestIngestDocumentTablesInMetadata(t *testing.T) {
	index := &memoryIndex{}
	ing := NewIngestor(NewChunker(100), &fakeEmbedder{}, index, nil, fastRetry())

	doc := &Document{
		ID:      "doc2",
		RawText: "short body",
		Tables:  []any{[]any{[]any{"Revenue", "100"}}},
	}

	_, err := ing.IngestDocument(context.Background(), doc)
	require.NoError(t, err)

	stored := index.stored()
	require.Len(t, stored, 1)
	require.Equal(t, "Revenue 100", stored[0].Metadata[MetaTables])
}

func TestIngestRequiresDocumentID(t *testing.T) {
	ing := NewIngestor(NewChunker(100), &fakeEmbedder{}, &memoryIndex{}, nil, fastRetry())

	_, err := ing.IngestDocument(context.Background(), &Document{})
	require.True(t, errors.Is(err, ErrInvalidArgument))

	_, err = ing.IngestDocument(context.Background(), nil)
	require.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestIngestEmptyDocument(t *testing.T) {
	index := &memoryIndex{}
	ing := NewIngestor(NewChunker(100), &fakeEmbedder{}, index, nil, fastRetry())

	result, err := ing.IngestDocument(context.Background(), &Document{ID: "empty"})
	require.NoError(t, err)
	require.Equal(t, 0, result.TotalChunks)
	require.Equal(t, 0, result.IndexedCount)
	require.Empty(t, index.upserts)
}

func TestIngestSkipsFailedSubBatch(t *testing.T) {
	index := &memoryIndex{}
	embedder := &scriptedEmbedder{
		failOn:   "fail",
		failWith: fmt.Errorf("%w: provider down", ErrProviderUnavailable),
	}
	opts := fastRetry()
	opts.EmbedBatchSize = 1

	ing := NewIngestor(NewChunker(4), embedder, index, nil, opts)

	result, err := ing.IngestDocument(context.Background(), &Document{
		ID:      "doc3",
		RawText: "failokay",
	})
	require.NoError(t, err)
	require.Equal(t, 2, result.TotalChunks)
	require.Equal(t, 1, result.IndexedCount)
	require.Equal(t, 1, result.FailedChunks)

	stored := index.stored()
	require.Len(t, stored, 1)
	require.Equal(t, "doc3_chunk_1", stored[0].ID)
}

func TestIngestRetriesTransientFailures(t *testing.T) {
	index := &memoryIndex{}
	embedder := &scriptedEmbedder{
		failFirst: 2,
		failWith:  fmt.Errorf("%w: rate limited", ErrProviderUnavailable),
	}

	ing := NewIngestor(NewChunker(100), embedder, index, nil, fastRetry())

	result, err := ing.IngestDocument(context.Background(), &Document{
		ID:      "doc4",
		RawText: "one chunk of text",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.IndexedCount)
	require.Equal(t, 3, embedder.calls)
}

func TestIngestDoesNotRetryInvalidInput(t *testing.T) {
	index := &memoryIndex{}
	embedder := &scriptedEmbedder{
		failFirst: 99,
		failWith:  fmt.Errorf("%w: bad input", ErrInvalidArgument),
	}

	ing := NewIngestor(NewChunker(100), embedder, index, nil, fastRetry())

	result, err := ing.IngestDocument(context.Background(), &Document{
		ID:      "doc5",
		RawText: "text",
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.FailedChunks)
	require.Equal(t, 0, result.IndexedCount)
	require.Equal(t, 1, embedder.calls)
}

func TestIngestRecordsCatalogStatus(t *testing.T) {
	db := setupCatalogDB(t)
	index := &memoryIndex{}
	ing := NewIngestor(NewChunker(8192), &fakeEmbedder{}, index, db, fastRetry())

	_, err := ing.IngestDocument(context.Background(), &Document{
		ID:       "catalog_doc",
		Filename: "catalog_doc.pdf",
		RawText:  strings.Repeat("a", 9000),
	})
	require.NoError(t, err)

	var record DocumentRecord
	require.NoError(t, db.Where("id = ?", "catalog_doc").First(&record).Error)
	require.Equal(t, StatusIndexed, record.Status)
	require.Equal(t, 2, record.ChunkCount)
	require.Equal(t, 0, record.FailedChunks)
	require.Equal(t, 9000, record.CharCount)
}

func TestIngestMarksFailedWhenNothingIndexed(t *testing.T) {
	db := setupCatalogDB(t)
	index := &memoryIndex{}
	embedder := &scriptedEmbedder{
		failFirst: 99,
		failWith:  fmt.Errorf("%w: provider down", ErrProviderUnavailable),
	}

	ing := NewIngestor(NewChunker(8192), embedder, index, db, fastRetry())

	result, err := ing.IngestDocument(context.Background(), &Document{
		ID:       "doomed_doc",
		Filename: "doomed.pdf",
		RawText:  "some text",
	})
	require.NoError(t, err)
	require.Equal(t, 0, result.IndexedCount)
	require.Equal(t, 1, result.FailedChunks)

	var record DocumentRecord
	require.NoError(t, db.Where("id = ?", "doomed_doc").First(&record).Error)
	require.Equal(t, StatusFailed, record.Status)
}

func TestChunkIDFormat(t *testing.T) {
	require.Equal(t, "report_2023_chunk_0", ChunkID("report_2023", 0))
	require.Equal(t, "report_2023_chunk_17", ChunkID("report_2023", 17))
}
