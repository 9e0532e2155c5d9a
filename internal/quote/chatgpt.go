package quote

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/models"
)

// DefaultOpenAIModel is the web-search capable chat model.
const DefaultOpenAIModel = "gpt-4o-mini-search-preview"

type chatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// ChatGPT asks an OpenAI search model for a quote.
type ChatGPT struct {
	apiKey string
	model  string
	client chatCompleter
}

// NewChatGPT creates the OpenAI-backed provider. An empty baseURL uses the
// public API.
func NewChatGPT(apiKey, model, baseURL string) *ChatGPT {
	if model == "" {
		model = DefaultOpenAIModel
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &ChatGPT{
		apiKey: apiKey,
		model:  model,
		client: openai.NewClientWithConfig(cfg),
	}
}

func (c *ChatGPT) Name() string { return "chatgpt_search_preview" }

func (c *ChatGPT) Ready() bool { return c.apiKey != "" }

func (c *ChatGPT) Fetch(ctx context.Context, ticker string) (*models.Quote, error) {
	if !c.Ready() {
		return nil, failure(c.Name(), ticker, apperrors.KindAuthMissing, "OPENAI_API_KEY not set", nil)
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: extractorInstruction},
			{Role: openai.ChatMessageRoleUser, Content: quotePrompt(ticker)},
		},
	})
	if err != nil {
		return nil, failure(c.Name(), ticker, openAIKind(err), "chat completion failed", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, failure(c.Name(), ticker, apperrors.KindParse, "empty completion", nil)
	}

	return decodeLLMQuote(c.Name(), ticker, resp.Choices[0].Message.Content)
}

func openAIKind(err error) apperrors.FailureKind {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}
	return statusKind(status)
}

// statusKind classifies an HTTP status from an upstream API.
func statusKind(status int) apperrors.FailureKind {
	switch {
	case status == http.StatusTooManyRequests:
		return apperrors.KindRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperrors.KindAuthMissing
	case status == http.StatusNotFound:
		return apperrors.KindNotFound
	case status >= 400 && status < 500:
		return apperrors.KindParse
	default:
		return apperrors.KindNetwork
	}
}
