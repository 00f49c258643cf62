package ocr

import (
	"context"
	"log/slog"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// GeminiProvider reads documents with a Gemini vision model. PDFs and
// images both go straight in as blobs; the model answers with the
// shared vision JSON contract.
type GeminiProvider struct {
	apiKey string
	model  string
	logger *slog.Logger
}

func NewGeminiProvider(cfg models.GeminiConfig, logger *slog.Logger) *GeminiProvider {
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	return &GeminiProvider{apiKey: cfg.APIKey, model: model, logger: logger}
}

func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) Extract(ctx context.Context, content []byte, contentType string) (*models.OCRPayload, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(g.apiKey))
	if err != nil {
		return nil, wrapError(CodeServiceError, err, "create gemini client")
	}
	defer client.Close()

	model := client.GenerativeModel(g.model)
	model.SetTemperature(0.1)
	// Large invoices produce long transcripts; leave the model headroom
	model.SetMaxOutputTokens(8192)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx,
		genai.Text(visionPrompt()),
		genai.Blob{MIMEType: contentType, Data: content},
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, wrapError(CodeTimeout, err, "gemini call timed out")
		}
		return nil, wrapError(CodeServiceError, err, "gemini generate content")
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, newError(CodeServiceError, "gemini returned no candidates")
	}

	var answer string
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			answer = string(text)
			break
		}
	}
	if answer == "" {
		return nil, newError(CodeServiceError, "gemini returned no text part")
	}

	if resp.Candidates[0].FinishReason == genai.FinishReasonMaxTokens {
		g.logger.Warn("ocr.gemini.truncated", "model", g.model, "response_chars", len(answer))
	}

	payload, err := parseVisionResponse(answer)
	if err != nil {
		return nil, err
	}
	payload.Provider = g.Name()
	return payload, nil
}
