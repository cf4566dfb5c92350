package rag

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

const answerSystemPrompt = `You are an assistant for a financial document retrieval system. ` +
	`Answer the user's query using only the provided context from company reports, ` +
	`mutual fund documents and market research files. If the context does not contain ` +
	`enough information, say that you cannot answer based on the available documents.`

// OpenAIAnswerGenerator produces answers through the OpenAI chat API.
type OpenAIAnswerGenerator struct {
	client *openai.Client
	model  string
}

// NewOpenAIAnswerGenerator creates an answer generator. timeout bounds
// every API call; a stalled call fails as ErrProviderUnavailable.
func NewOpenAIAnswerGenerator(apiKey, baseURL, model string, timeout time.Duration) *OpenAIAnswerGenerator {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	cfg.HTTPClient = &http.Client{Timeout: timeout}
	if model == "" {
		model = "gpt-4-turbo"
	}

	return &OpenAIAnswerGenerator{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

// Generate answers the query from the assembled context. The reply is
// returned verbatim, including any "cannot answer" phrasing from the model.
func (g *OpenAIAnswerGenerator) Generate(ctx context.Context, query, docContext string) (string, error) {
	userPrompt := fmt.Sprintf("Query: %s\n\nContext:\n%s", query, docContext)

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: answerSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return "", mapOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: completion returned no choices", ErrProviderUnavailable)
	}

	return resp.Choices[0].Message.Content, nil
}
