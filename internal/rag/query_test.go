package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aswinpradeepc/llmsearch/internal/logger"
)

func init() {
	_ = logger.Init("debug", "console", "stdout")
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vecs := make([][]float32, len(texts))
	for i, text := range texts {
		vecs[i] = []float32{float32(len(text)), 1}
	}
	return vecs, nil
}

func (f *fakeEmbedder) Dimensions() int      { return 2 }
func (f *fakeEmbedder) Model() string        { return "test-model" }
func (f *fakeEmbedder) ProviderName() string { return "test" }

type memoryIndex struct {
	upserts    [][]Vector
	queryReply []SearchResult
	queryErr   error
	upsertErr  error
}

func (m *memoryIndex) EnsureIndex(ctx context.Context, name string, dimension int, metric string) error {
	return nil
}

func (m *memoryIndex) Upsert(ctx context.Context, vectors []Vector) error {
	if m.upsertErr != nil {
		return m.upsertErr
	}
	batch := make([]Vector, len(vectors))
	copy(batch, vectors)
	m.upserts = append(m.upserts, batch)
	return nil
}

func (m *memoryIndex) Query(ctx context.Context, values []float32, topK int, filter map[string]string) ([]SearchResult, error) {
	if m.queryErr != nil {
		return nil, m.queryErr
	}
	results := make([]SearchResult, len(m.queryReply))
	copy(results, m.queryReply)
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (m *memoryIndex) stored() []Vector {
	var all []Vector
	for _, batch := range m.upserts {
		all = append(all, batch...)
	}
	return all
}

type fakeGenerator struct {
	answer     string
	err        error
	gotQuery   string
	gotContext string
}

func (f *fakeGenerator) Generate(ctx context.Context, query, contextText string) (string, error) {
	f.gotQuery = query
	f.gotContext = contextText
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func chunkResult(id string, score float64, content string) SearchResult {
	return SearchResult{
		ID:    id,
		Score: score,
		Metadata: map[string]any{
			MetaFilename: "report.pdf",
			MetaContent:  content,
		},
	}
}

func TestQueryRequiresQuery(t *testing.T) {
	svc := NewQueryService(&fakeEmbedder{}, &memoryIndex{}, &fakeGenerator{}, QueryServiceOptions{})

	for _, req := range []*QueryRequest{nil, {Query: ""}, {Query: "   "}} {
		_, err := svc.Query(context.Background(), req)
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrInvalidArgument))
	}
}

func TestQueryPipeline(t *testing.T) {
	index := &memoryIndex{queryReply: []SearchResult{
		chunkResult("doc1_chunk_0", 0.93, "revenue grew"),
		chunkResult("doc1_chunk_1", 0.88, "costs fell"),
		chunkResult("doc2_chunk_0", 0.80, "assets stable"),
	}}
	gen := &fakeGenerator{answer: "Revenue grew while costs fell."}
	svc := NewQueryService(&fakeEmbedder{}, index, gen, QueryServiceOptions{})

	resp, err := svc.Query(context.Background(), &QueryRequest{Query: "how did revenue develop?"})
	require.NoError(t, err)
	require.Equal(t, "Revenue grew while costs fell.", resp.Answer)
	require.Len(t, resp.Sources, 3)
	require.Equal(t, "doc1_chunk_0", resp.Sources[0].ID)
	require.Equal(t, "revenue grew costs fell assets stable", gen.gotContext)
	require.Equal(t, "how did revenue develop?", gen.gotQuery)
}

func TestQueryTopKOrdering(t *testing.T) {
	// five stored chunks, deliberately out of order, with a score tie
	index := &memoryIndex{queryReply: []SearchResult{
		chunkResult("doc3_chunk_0", 0.71, "third"),
		chunkResult("doc1_chunk_0", 0.95, "first"),
		chunkResult("doc2_chunk_1", 0.80, "tied b"),
		chunkResult("doc2_chunk_0", 0.80, "tied a"),
		chunkResult("doc4_chunk_0", 0.55, "last"),
	}}
	gen := &fakeGenerator{answer: "ok"}
	svc := NewQueryService(&fakeEmbedder{}, index, gen, QueryServiceOptions{DefaultTopK: 3})

	resp, err := svc.Query(context.Background(), &QueryRequest{Query: "q"})
	require.NoError(t, err)
	require.Len(t, resp.Sources, 3)

	// descending score, the tie broken by id, everything below the cut gone
	require.Equal(t, "doc1_chunk_0", resp.Sources[0].ID)
	require.Equal(t, "doc2_chunk_0", resp.Sources[1].ID)
	require.Equal(t, "doc2_chunk_1", resp.Sources[2].ID)
	for i := 1; i < len(resp.Sources); i++ {
		require.GreaterOrEqual(t, resp.Sources[i-1].Score, resp.Sources[i].Score)
	}
	require.Equal(t, "first tied a tied b", gen.gotContext)
}

func TestQueryFiltersSources(t *testing.T) {
	a := chunkResult("a_chunk_0", 0.9, "from a")
	b := chunkResult("b_chunk_0", 0.8, "from b")
	b.Metadata[MetaFilename] = "other.pdf"
	noFile := chunkResult("c_chunk_0", 0.7, "no filename")
	delete(noFile.Metadata, MetaFilename)

	index := &memoryIndex{queryReply: []SearchResult{a, b, noFile}}
	gen := &fakeGenerator{answer: "ok"}
	svc := NewQueryService(&fakeEmbedder{}, index, gen, QueryServiceOptions{})

	resp, err := svc.Query(context.Background(), &QueryRequest{
		Query:   "q",
		Filters: map[string]string{MetaFilename: "report.pdf"},
	})
	require.NoError(t, err)

	// conflicting value dropped, absent key kept, order preserved
	require.Len(t, resp.Sources, 2)
	require.Equal(t, "a_chunk_0", resp.Sources[0].ID)
	require.Equal(t, "c_chunk_0", resp.Sources[1].ID)
	require.Equal(t, "from a no filename", gen.gotContext)
}

func TestMatchesFiltersNonStringValues(t *testing.T) {
	metadata := map[string]any{MetaChunkIndex: 3, MetaTotalChunks: float64(7)}

	require.True(t, matchesFilters(metadata, map[string]string{MetaChunkIndex: "3"}))
	require.False(t, matchesFilters(metadata, map[string]string{MetaChunkIndex: "4"}))
	require.True(t, matchesFilters(metadata, map[string]string{MetaTotalChunks: "7"}))
}

func TestAssembleContextJoinsAndSkips(t *testing.T) {
	results := []SearchResult{
		chunkResult("a", 0.9, "first"),
		chunkResult("b", 0.8, ""),
		chunkResult("c", 0.7, "second"),
	}

	require.Equal(t, "first second", AssembleContext(results, 15000))
	require.Equal(t, "", AssembleContext(nil, 15000))
}

func TestAssembleContextTruncation(t *testing.T) {
	results := []SearchResult{
		chunkResult("a", 0.9, strings.Repeat("x", 60)),
		chunkResult("b", 0.8, strings.Repeat("y", 60)),
	}

	got := AssembleContext(results, 100)
	require.Equal(t, strings.Repeat("x", 60)+" "+strings.Repeat("y", 39)+truncationMarker, got)

	// exactly at budget keeps everything, no marker
	exact := AssembleContext([]SearchResult{chunkResult("a", 0.9, strings.Repeat("z", 100))}, 100)
	require.Equal(t, strings.Repeat("z", 100), exact)
}

func TestAssembleContextTruncationMultibyte(t *testing.T) {
	content := strings.Repeat("财", 50)
	got := AssembleContext([]SearchResult{chunkResult("a", 0.9, content)}, 10)
	require.Equal(t, strings.Repeat("财", 10)+truncationMarker, got)
}

func TestQueryStageErrors(t *testing.T) {
	cases := []struct {
		name      string
		embedder  *fakeEmbedder
		index     *memoryIndex
		generator *fakeGenerator
		stage     string
	}{
		{
			name:      "embedding",
			embedder:  &fakeEmbedder{err: fmt.Errorf("%w: rate limited", ErrProviderUnavailable)},
			index:     &memoryIndex{},
			generator: &fakeGenerator{},
			stage:     StageEmbedding,
		},
		{
			name:      "retrieval",
			embedder:  &fakeEmbedder{},
			index:     &memoryIndex{queryErr: fmt.Errorf("%w: index down", ErrProviderUnavailable)},
			generator: &fakeGenerator{},
			stage:     StageRetrieval,
		},
		{
			name:      "generation",
			embedder:  &fakeEmbedder{},
			index:     &memoryIndex{queryReply: []SearchResult{chunkResult("a", 0.9, "text")}},
			generator: &fakeGenerator{err: fmt.Errorf("%w: model overloaded", ErrProviderUnavailable)},
			stage:     StageGeneration,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := NewQueryService(tc.embedder, tc.index, tc.generator, QueryServiceOptions{})

			_, err := svc.Query(context.Background(), &QueryRequest{Query: "q"})
			require.Error(t, err)

			var stage *StageError
			require.True(t, errors.As(err, &stage))
			require.Equal(t, tc.stage, stage.Stage)
			require.True(t, errors.Is(err, ErrProviderUnavailable))
		})
	}
}

func TestQueryEmptyRetrievalStillGenerates(t *testing.T) {
	gen := &fakeGenerator{answer: "I cannot answer that based on the provided documents."}
	svc := NewQueryService(&fakeEmbedder{}, &memoryIndex{}, gen, QueryServiceOptions{})

	resp, err := svc.Query(context.Background(), &QueryRequest{Query: "anything indexed?"})
	require.NoError(t, err)
	require.Equal(t, "", gen.gotContext)
	require.Empty(t, resp.Sources)
	require.Equal(t, "I cannot answer that based on the provided documents.", resp.Answer)
}

func TestQueryFiltersExcludeEverything(t *testing.T) {
	index := &memoryIndex{queryReply: []SearchResult{
		chunkResult("a_chunk_0", 0.9, "content a"),
		chunkResult("b_chunk_0", 0.8, "content b"),
	}}
	gen := &fakeGenerator{answer: "nothing matches"}
	svc := NewQueryService(&fakeEmbedder{}, index, gen, QueryServiceOptions{})

	resp, err := svc.Query(context.Background(), &QueryRequest{
		Query:   "q",
		Filters: map[string]string{MetaFilename: "missing.pdf"},
	})
	require.NoError(t, err)
	require.Empty(t, resp.Sources)
	require.Equal(t, "", gen.gotContext)
}
