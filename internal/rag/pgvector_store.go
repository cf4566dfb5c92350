package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// PGVectorStore is a VectorIndex backed by PostgreSQL with the pgvector
// extension, for deployments that keep the index self-hosted instead of
// using the managed service. Only cosine similarity is supported.
type PGVectorStore struct {
	db        *gorm.DB
	table     string
	dimension int
}

// NewPGVectorStore creates a pgvector-backed vector index.
func NewPGVectorStore(db *gorm.DB, dimension int) (*PGVectorStore, error) {
	if dimension <= 0 {
		dimension = 1536
	}
	store := &PGVectorStore{
		db:        db,
		table:     "search_vectors",
		dimension: dimension,
	}
	return store, nil
}

// EnsureIndex enables the extension and creates the vector table, verifying
// a pre-existing table's dimensionality against the configuration.
func (s *PGVectorStore) EnsureIndex(ctx context.Context, name string, dimension int, metric string) error {
	if metric != "" && !strings.EqualFold(metric, "cosine") {
		return fmt.Errorf("%w: pgvector backend supports metric \"cosine\", got %q",
			ErrConfigurationConflict, metric)
	}
	if dimension > 0 {
		s.dimension = dimension
	}

	db := s.db.WithContext(ctx)

	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("enable pgvector extension: %w", err)
	}

	createSQL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id         TEXT PRIMARY KEY,
			embedding  vector(%d) NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`, s.table, s.dimension)
	if err := db.Exec(createSQL).Error; err != nil {
		return fmt.Errorf("create vector table: %w", err)
	}

	// atttypmod of a vector column is its dimensionality
	var existing int
	checkSQL := `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = ?::regclass AND attname = 'embedding'`
	if err := db.Raw(checkSQL, s.table).Scan(&existing).Error; err != nil {
		return fmt.Errorf("inspect vector table: %w", err)
	}
	if existing > 0 && existing != s.dimension {
		return fmt.Errorf("%w: table %q stores %d-dimensional vectors, config wants %d",
			ErrConfigurationConflict, s.table, existing, s.dimension)
	}

	return nil
}

// Upsert writes vectors in one transaction, overwriting matching ids.
func (s *PGVectorStore) Upsert(ctx context.Context, vectors []Vector) error {
	if len(vectors) == 0 {
		return nil
	}

	for _, vec := range vectors {
		if len(vec.Values) != s.dimension {
			return fmt.Errorf("%w: vector %q has dimension %d, index wants %d",
				ErrInvalidArgument, vec.ID, len(vec.Values), s.dimension)
		}
	}

	upsertSQL := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, metadata, updated_at)
		VALUES (?, ?, ?, NOW())
		ON CONFLICT (id) DO UPDATE
		SET embedding = EXCLUDED.embedding,
		    metadata = EXCLUDED.metadata,
		    updated_at = NOW()`, s.table)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, vec := range vectors {
			meta, err := json.Marshal(vec.Metadata)
			if err != nil {
				return fmt.Errorf("marshal metadata for %q: %w", vec.ID, err)
			}
			if err := tx.Exec(upsertSQL, vec.ID, pgvector.NewVector(vec.Values), string(meta)).Error; err != nil {
				return fmt.Errorf("upsert vector %q: %w", vec.ID, err)
			}
		}
		return nil
	})
}

// Query runs a cosine top-k search. Results come back in descending
// similarity order; equal distances fall back to id order so ranking is
// stable across runs.
func (s *PGVectorStore) Query(ctx context.Context, values []float32, topK int, filter map[string]string) ([]SearchResult, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("%w: query vector is empty", ErrInvalidArgument)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidArgument, topK)
	}

	var conditions []string
	var args []any
	args = append(args, pgvector.NewVector(values))

	for key, value := range filter {
		// permissive on absence: rows missing the key stay in.
		// jsonb_exists instead of the ? operator, which would collide
		// with the driver's placeholder syntax.
		conditions = append(conditions, "(NOT jsonb_exists(metadata, ?) OR metadata->>? = ?)")
		args = append(args, key, key, value)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	querySQL := fmt.Sprintf(`
		SELECT id, metadata, 1 - (embedding <=> ?) AS score
		FROM %s
		%s
		ORDER BY embedding <=> ?, id
		LIMIT ?`, s.table, where)

	// the query vector appears twice: once for the score, once for ordering
	args = append(args, pgvector.NewVector(values), topK)

	var rows []struct {
		ID       string  `gorm:"column:id"`
		Metadata string  `gorm:"column:metadata"`
		Score    float64 `gorm:"column:score"`
	}
	if err := s.db.WithContext(ctx).Raw(querySQL, args...).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", ErrProviderUnavailable, err)
	}

	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		var meta map[string]any
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
			meta = map[string]any{}
		}
		results = append(results, SearchResult{
			ID:       row.ID,
			Score:    row.Score,
			Metadata: meta,
		})
	}

	return results, nil
}
