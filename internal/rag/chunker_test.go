package rag

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkTextReconstruction(t *testing.T) {
	text := strings.Repeat("a", 4000) + strings.Repeat("b", 4000) + strings.Repeat("c", 1000)

	chunks, err := ChunkText(text, 4000)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	require.Equal(t, 4000, len(chunks[0]))
	require.Equal(t, 4000, len(chunks[1]))
	require.Equal(t, 1000, len(chunks[2]))
	require.Equal(t, text, strings.Join(chunks, ""))
}

func TestChunkTextExactMultiple(t *testing.T) {
	text := strings.Repeat("x", 8192*2)

	chunks, err := ChunkText(text, 8192)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	for _, chunk := range chunks {
		require.Equal(t, 8192, len(chunk))
	}
}

func TestChunkTextEmpty(t *testing.T) {
	chunks, err := ChunkText("", 100)
	require.NoError(t, err)
	require.NotNil(t, chunks)
	require.Empty(t, chunks)
}

func TestChunkTextInvalidSize(t *testing.T) {
	for _, size := range []int{0, -1} {
		_, err := ChunkText("anything", size)
		require.Error(t, err)
		require.True(t, errors.Is(err, ErrInvalidArgument))
	}
}

func TestChunkTextMultibyte(t *testing.T) {
	text := strings.Repeat("资产负债表 ", 100)

	chunks, err := ChunkText(text, 7)
	require.NoError(t, err)
	require.Equal(t, text, strings.Join(chunks, ""))
	for _, chunk := range chunks {
		require.LessOrEqual(t, len([]rune(chunk)), 7)
	}
}

func TestChunkDocument(t *testing.T) {
	doc := &Document{
		ID:      "report_2023",
		RawText: strings.Repeat("q", 9000),
	}

	chunks, err := NewChunker(8192).ChunkDocument(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	for i, chunk := range chunks {
		require.Equal(t, "report_2023", chunk.DocumentID)
		require.Equal(t, i, chunk.Index)
		require.Equal(t, 2, chunk.TotalChunks)
	}
	require.Equal(t, 8192, len(chunks[0].Text))
	require.Equal(t, 9000-8192, len(chunks[1].Text))
}

func TestFlattenTables(t *testing.T) {
	tables := []any{
		[]any{
			[]any{"Revenue", "2023", "2022"},
			[]any{"Total", "100", nil},
		},
		[]any{
			[]any{"Assets"},
		},
	}

	require.Equal(t, "Revenue 2023 2022 Total 100 Assets", FlattenTables(tables))
}

func TestFlattenTablesEmpty(t *testing.T) {
	require.Equal(t, "", FlattenTables(nil))
	require.Equal(t, "", FlattenTables([]any{}))
	require.Equal(t, "", FlattenTables([]any{[]any{nil, ""}}))
}

func TestFlattenTablesStringRows(t *testing.T) {
	tables := []any{
		[]any{[]string{"a", "b"}, []string{"c"}},
	}
	require.Equal(t, "a b c", FlattenTables(tables))
}
