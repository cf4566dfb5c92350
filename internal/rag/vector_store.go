package rag

import "context"

// VectorIndex abstracts the similarity-search service. Implementations must
// make Upsert idempotent by vector id and return Query results in
// descending score order, ties broken by stable id order.
type VectorIndex interface {
	// EnsureIndex creates the backing index if absent and verifies an
	// existing one matches the requested dimension and metric. A mismatch
	// is ErrConfigurationConflict.
	EnsureIndex(ctx context.Context, name string, dimension int, metric string) error

	// Upsert writes vectors, overwriting any prior vector with the same id.
	// A vector whose dimensionality differs from the index is rejected with
	// ErrInvalidArgument before anything is written.
	Upsert(ctx context.Context, vectors []Vector) error

	// Query returns at most topK results closest to the given vector.
	// filter, when non-nil, is applied server-side where the backend
	// supports it. topK <= 0 is ErrInvalidArgument.
	Query(ctx context.Context, values []float32, topK int, filter map[string]string) ([]SearchResult, error)
}
