package rag

import "context"

// EmbeddingProvider abstracts the embedding model service. Implementations
// must return one vector per input, in input order.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Model() string
	ProviderName() string
}

// AnswerGenerator abstracts the chat/completion service that turns a query
// plus assembled context into a natural-language answer. The answer text is
// surfaced verbatim, including "cannot answer" phrasing.
type AnswerGenerator interface {
	Generate(ctx context.Context, query, context string) (string, error)
}
