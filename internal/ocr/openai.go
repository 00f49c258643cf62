package ocr

import (
	"context"
	"encoding/base64"
	"log/slog"

	openai "github.com/sashabaranov/go-openai"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// OpenAIProvider reads image documents through the chat completions
// vision path. The endpoint takes images only, so PDF input is rejected
// up front; route PDFs to docintel or gemini instead.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger *slog.Logger
}

func NewOpenAIProvider(cfg models.OpenAIConfig, logger *slog.Logger) *OpenAIProvider {
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger,
	}
}

func (o *OpenAIProvider) Name() string { return "openai" }

func (o *OpenAIProvider) Extract(ctx context.Context, content []byte, contentType string) (*models.OCRPayload, error) {
	if contentType == "application/pdf" {
		return nil, newError(CodeUnsupportedFormat, "openai provider accepts images only, not PDF")
	}

	dataURL := "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(content)

	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		MaxTokens:   4096,
		Temperature: 0.1,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: visionPrompt(),
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    dataURL,
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, wrapError(CodeTimeout, err, "openai call timed out")
		}
		return nil, wrapError(CodeServiceError, err, "openai chat completion")
	}

	if len(resp.Choices) == 0 {
		return nil, newError(CodeServiceError, "openai returned no choices")
	}

	payload, err := parseVisionResponse(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	payload.Provider = o.Name()
	return payload, nil
}
