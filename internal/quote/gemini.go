package quote

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	apperrors "stock-alert/internal/errors"
	"stock-alert/internal/models"
)

// DefaultGeminiModel is the grounded Gemini model.
const DefaultGeminiModel = "gemini-2.5-flash-lite"

type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini asks Gemini with Google Search grounding for a quote.
type Gemini struct {
	model     string
	generator contentGenerator
}

// NewGemini creates the Gemini-backed provider. Without a key the provider
// is returned unready.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if model == "" {
		model = DefaultGeminiModel
	}
	g := &Gemini{model: model}
	if apiKey == "" {
		return g, nil
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, "creating gemini client")
	}
	g.generator = client.Models
	return g, nil
}

func (g *Gemini) Name() string { return "gemini_search" }

func (g *Gemini) Ready() bool { return g.generator != nil }

func (g *Gemini) Fetch(ctx context.Context, ticker string) (*models.Quote, error) {
	if !g.Ready() {
		return nil, failure(g.Name(), ticker, apperrors.KindAuthMissing, "GEMINI_API_KEY not set", nil)
	}

	cfg := &genai.GenerateContentConfig{
		Tools:       []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		Temperature: genai.Ptr[float32](0),
		SystemInstruction: &genai.Content{
			Parts: []*genai.Part{{Text: extractorInstruction}},
		},
	}

	resp, err := g.generator.GenerateContent(ctx, g.model, genai.Text(quotePrompt(ticker)), cfg)
	if err != nil {
		return nil, failure(g.Name(), ticker, geminiKind(err), "generate content failed", err)
	}

	text := responseText(resp)
	if text == "" {
		return nil, failure(g.Name(), ticker, apperrors.KindParse, "empty response", nil)
	}
	return decodeLLMQuote(g.Name(), ticker, text)
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil && !p.Thought {
			b.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(b.String())
}

func geminiKind(err error) apperrors.FailureKind {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return statusKind(apiErr.Code)
	}
	return apperrors.KindNetwork
}
