package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Query pipeline metrics
var (
	// QueriesTotal counts query requests by terminal status.
	QueriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmsearch_queries_total",
			Help: "Query pipeline requests",
		},
		[]string{"status"},
	)

	// QueryStageDuration tracks per-stage latency of the query pipeline.
	QueryStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmsearch_query_stage_duration_seconds",
			Help:    "Query pipeline stage latency",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	// QueryResults tracks how many results survive filtering per query.
	QueryResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llmsearch_query_results",
			Help:    "Results remaining after metadata filtering",
			Buckets: []float64{0, 1, 3, 5, 10, 20},
		},
	)

	// ContextLength tracks assembled context sizes in characters.
	ContextLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llmsearch_context_length_chars",
			Help:    "Assembled context length in characters",
			Buckets: []float64{500, 1000, 2500, 5000, 10000, 15000, 20000},
		},
	)
)

// Ingestion pipeline metrics
var (
	// DocumentsIngestedTotal counts ingestion runs by terminal status.
	DocumentsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmsearch_documents_ingested_total",
			Help: "Document ingestion runs",
		},
		[]string{"status"},
	)

	// ChunksIndexedTotal counts chunks written to the vector index.
	ChunksIndexedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmsearch_chunks_indexed_total",
			Help: "Chunks successfully embedded and upserted",
		},
	)

	// ChunksFailedTotal counts chunks skipped after exhausted retries.
	ChunksFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmsearch_chunks_failed_total",
			Help: "Chunks dropped after embedding retries were exhausted",
		},
	)

	// IngestDuration tracks end-to-end ingestion latency per document.
	IngestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "llmsearch_ingest_duration_seconds",
			Help:    "Document ingestion latency",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
	)

	// EmbeddingRetriesTotal counts embedding sub-batch retry attempts.
	EmbeddingRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "llmsearch_embedding_retries_total",
			Help: "Embedding sub-batch retries after transient provider failures",
		},
	)
)

// API metrics
var (
	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llmsearch_api_requests_total",
			Help: "HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration tracks HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmsearch_api_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)
