package rag

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// providerBatchLimit is the maximum number of inputs the OpenAI embeddings
// endpoint accepts per request.
const providerBatchLimit = 2048

// OpenAIEmbeddingProvider embeds text through the OpenAI API.
type OpenAIEmbeddingProvider struct {
	client        *openai.Client
	model         string
	maxInputChars int
}

// NewOpenAIEmbeddingProvider creates an OpenAI embedding provider.
// maxInputChars is the per-text input limit; longer inputs are
// head-truncated before submission, never dropped. timeout bounds every
// API call; a stalled call fails as ErrProviderUnavailable.
func NewOpenAIEmbeddingProvider(apiKey, baseURL, model string, maxInputChars int, timeout time.Duration) *OpenAIEmbeddingProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}

	if model == "" {
		model = string(openai.AdaEmbeddingV2)
	}
	if maxInputChars <= 0 {
		maxInputChars = 8192
	}

	return &OpenAIEmbeddingProvider{
		client:        openai.NewClientWithConfig(cfg),
		model:         model,
		maxInputChars: maxInputChars,
	}
}

// Embed converts a single text into a vector.
func (p *OpenAIEmbeddingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch converts texts into vectors, output index i corresponding to
// input index i. Blank inputs fail fast with ErrInvalidArgument before any
// provider call; batches above the provider limit are split transparently.
func (p *OpenAIEmbeddingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: no texts to embed", ErrInvalidArgument)
	}

	prepared := make([]string, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("%w: text %d is empty", ErrInvalidArgument, i)
		}
		prepared[i] = p.prepareInput(text)
	}

	all := make([][]float32, 0, len(prepared))
	for start := 0; start < len(prepared); start += providerBatchLimit {
		end := start + providerBatchLimit
		if end > len(prepared) {
			end = len(prepared)
		}

		vecs, err := p.embedBatchInternal(ctx, prepared[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		all = append(all, vecs...)
	}

	return all, nil
}

func (p *OpenAIEmbeddingProvider) embedBatchInternal(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.model),
	})
	if err != nil {
		return nil, mapOpenAIError(err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d",
			ErrProviderUnavailable, len(texts), len(resp.Data))
	}

	// The API reports each embedding's input index; place by it so output
	// order matches input order even if the response is shuffled.
	vecs := make([][]float32, len(texts))
	for i, data := range resp.Data {
		idx := data.Index
		if idx < 0 || idx >= len(vecs) {
			idx = i
		}
		vecs[idx] = data.Embedding
	}

	return vecs, nil
}

// prepareInput applies the model input contract: newlines become spaces and
// the text is cut to the first maxInputChars characters.
func (p *OpenAIEmbeddingProvider) prepareInput(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	runes := []rune(text)
	if len(runes) > p.maxInputChars {
		return string(runes[:p.maxInputChars])
	}
	return text
}

// Dimensions returns the vector dimensionality of the configured model.
func (p *OpenAIEmbeddingProvider) Dimensions() int {
	switch p.model {
	case string(openai.LargeEmbedding3):
		return 3072
	default:
		// ada-002 and 3-small are both 1536
		return 1536
	}
}

// Model returns the embedding model name.
func (p *OpenAIEmbeddingProvider) Model() string {
	return p.model
}

// ProviderName identifies the provider in cache keys and vector metadata.
func (p *OpenAIEmbeddingProvider) ProviderName() string {
	return "openai"
}

// mapOpenAIError folds provider failures into the package taxonomy.
// Rate limits, server errors and transport timeouts are transient; request
// errors are the caller's fault and must not be retried.
func mapOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		if apiErr.HTTPStatusCode >= 400 && apiErr.HTTPStatusCode < 429 {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrProviderUnavailable, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timeout: %v", ErrProviderUnavailable, err)
	}

	return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
}
