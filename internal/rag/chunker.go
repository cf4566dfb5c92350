package rag

import (
	"fmt"
	"strings"
)

// Chunker splits document text into fixed-size pieces for embedding.
type Chunker struct {
	ChunkSize int // characters per chunk
}

// NewChunker creates a chunker. size <= 0 falls back to the embedding model
// input limit so a chunk never needs truncation at the adapter.
func NewChunker(size int) *Chunker {
	if size <= 0 {
		size = 8192
	}
	return &Chunker{ChunkSize: size}
}

// ChunkText splits text into contiguous, non-overlapping slices of at most
// size characters, last slice shorter. Concatenating the result in order
// reconstructs the input exactly. Empty input yields an empty slice.
func ChunkText(text string, size int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidArgument, size)
	}
	if text == "" {
		return []string{}, nil
	}

	runes := []rune(text)
	total := len(runes)
	chunks := make([]string, 0, (total+size-1)/size)

	for start := 0; start < total; start += size {
		end := start + size
		if end > total {
			end = total
		}
		chunks = append(chunks, string(runes[start:end]))
	}

	return chunks, nil
}

// ChunkDocument chunks a document's raw text and annotates each piece with
// its position. Chunk order must be preserved end to end: the index becomes
// part of the stored vector id.
func (c *Chunker) ChunkDocument(doc *Document) ([]Chunk, error) {
	texts, err := ChunkText(doc.RawText, c.ChunkSize)
	if err != nil {
		return nil, err
	}

	chunks := make([]Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = Chunk{
			DocumentID:  doc.ID,
			Index:       i,
			Text:        text,
			TotalChunks: len(texts),
		}
	}
	return chunks, nil
}

// FlattenTables collapses the nested table structure from the extraction
// step into one string: depth-first, left to right, cells joined by single
// spaces. The result is stored in chunk metadata rather than appended to the
// chunking stream, keeping chunk indexes independent of table content.
func FlattenTables(tables []any) string {
	if len(tables) == 0 {
		return ""
	}

	var parts []string
	var walk func(node any)
	walk = func(node any) {
		switch v := node.(type) {
		case string:
			if v != "" {
				parts = append(parts, v)
			}
		case []any:
			for _, child := range v {
				walk(child)
			}
		case []string:
			for _, child := range v {
				if child != "" {
					parts = append(parts, child)
				}
			}
		case nil:
			// empty cell from the extractor
		default:
			parts = append(parts, fmt.Sprint(v))
		}
	}

	for _, table := range tables {
		walk(table)
	}

	return strings.Join(parts, " ")
}
