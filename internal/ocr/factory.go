package ocr

import (
	"fmt"
	"log/slog"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// NewProvider creates the configured OCR provider.
func NewProvider(cfg models.OCRConfig, logger *slog.Logger) (Provider, error) {
	switch cfg.Provider {
	case "docintel":
		if cfg.DocIntel.Endpoint == "" || cfg.DocIntel.APIKey == "" {
			return nil, fmt.Errorf("docintel provider needs an endpoint and api key")
		}
		return NewDocIntelProvider(cfg.DocIntel, logger), nil

	case "gemini":
		if cfg.Gemini.APIKey == "" {
			return nil, fmt.Errorf("gemini provider needs an api key")
		}
		return NewGeminiProvider(cfg.Gemini, logger), nil

	case "openai":
		if cfg.OpenAI.APIKey == "" {
			return nil, fmt.Errorf("openai provider needs an api key")
		}
		return NewOpenAIProvider(cfg.OpenAI, logger), nil

	default:
		return nil, fmt.Errorf("unsupported OCR provider: %s", cfg.Provider)
	}
}
