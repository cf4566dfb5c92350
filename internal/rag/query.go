package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aswinpradeepc/llmsearch/internal/logger"
	"github.com/aswinpradeepc/llmsearch/internal/metrics"
)

// truncationMarker is appended when the assembled context is cut to budget.
const truncationMarker = "..."

// QueryServiceOptions configures the query pipeline.
type QueryServiceOptions struct {
	DefaultTopK   int // used when the request leaves TopK unset
	ContextBudget int // characters of assembled context
}

// QueryService answers natural-language queries over the indexed documents:
// embed the query, retrieve the closest chunks, filter by metadata, assemble
// a bounded context and generate an answer.
type QueryService struct {
	embedder  EmbeddingProvider
	index     VectorIndex
	generator AnswerGenerator
	opts      QueryServiceOptions
}

// NewQueryService creates the query pipeline.
func NewQueryService(embedder EmbeddingProvider, index VectorIndex, generator AnswerGenerator, opts QueryServiceOptions) *QueryService {
	if opts.DefaultTopK <= 0 {
		opts.DefaultTopK = 5
	}
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = 15000
	}
	return &QueryService{
		embedder:  embedder,
		index:     index,
		generator: generator,
		opts:      opts,
	}
}

// Query runs one request through the pipeline. Any stage failure aborts the
// request with a StageError naming the stage; a retrieval that survives
// filtering with nothing left still reaches generation, and the generator's
// "cannot answer" reply comes back as a normal answer.
func (s *QueryService) Query(ctx context.Context, req *QueryRequest) (*QueryResponse, error) {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		metrics.QueriesTotal.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("%w: query is required", ErrInvalidArgument)
	}

	topK := req.TopK
	if topK <= 0 {
		topK = s.opts.DefaultTopK
	}

	log := logger.WithContext(ctx)

	stageStart := time.Now()
	queryVector, err := s.embedder.Embed(ctx, req.Query)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("failed").Inc()
		return nil, stageErr(StageEmbedding, err)
	}
	metrics.QueryStageDuration.WithLabelValues(StageEmbedding).Observe(time.Since(stageStart).Seconds())

	stageStart = time.Now()
	results, err := s.index.Query(ctx, queryVector, topK, nil)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("failed").Inc()
		return nil, stageErr(StageRetrieval, err)
	}
	metrics.QueryStageDuration.WithLabelValues(StageRetrieval).Observe(time.Since(stageStart).Seconds())

	filtered := FilterResults(results, req.Filters)
	metrics.QueryResults.Observe(float64(len(filtered)))

	assembled := AssembleContext(filtered, s.opts.ContextBudget)
	metrics.ContextLength.Observe(float64(len(assembled)))

	if assembled == "" {
		log.Info("no context after filtering, generating anyway",
			zap.Int("retrieved", len(results)),
		)
	}

	stageStart = time.Now()
	answer, err := s.generator.Generate(ctx, req.Query, assembled)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("failed").Inc()
		return nil, stageErr(StageGeneration, err)
	}
	metrics.QueryStageDuration.WithLabelValues(StageGeneration).Observe(time.Since(stageStart).Seconds())

	metrics.QueriesTotal.WithLabelValues("success").Inc()

	return &QueryResponse{
		Answer:  answer,
		Sources: filtered,
	}, nil
}

// FilterResults applies key/value equality filters to retrieval results.
// A result is dropped only when it carries a conflicting value for a
// requested key; results missing the key entirely are kept. Order is
// preserved.
func FilterResults(results []SearchResult, filters map[string]string) []SearchResult {
	if len(filters) == 0 {
		return results
	}

	kept := make([]SearchResult, 0, len(results))
	for _, result := range results {
		if matchesFilters(result.Metadata, filters) {
			kept = append(kept, result)
		}
	}
	return kept
}

func matchesFilters(metadata map[string]any, filters map[string]string) bool {
	for key, want := range filters {
		got, present := metadata[key]
		if !present {
			continue
		}
		if fmt.Sprint(got) != want {
			return false
		}
	}
	return true
}

// AssembleContext concatenates the content of results, in retrieval order,
// separated by single spaces, skipping results with empty content. When the
// combined text exceeds budget characters it is cut at the budget and the
// truncation marker appended; results are never re-ordered or dropped whole
// before the cut.
func AssembleContext(results []SearchResult, budget int) string {
	var b strings.Builder
	for _, result := range results {
		content, _ := result.Metadata[MetaContent].(string)
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		b.WriteString(content)
	}

	assembled := b.String()
	if budget > 0 {
		runes := []rune(assembled)
		if len(runes) > budget {
			return string(runes[:budget]) + truncationMarker
		}
	}
	return assembled
}
