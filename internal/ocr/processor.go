package ocr

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// supportedTypes are the content types providers accept.
var supportedTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"image/tiff":      true,
	"image/bmp":       true,
}

const (
	defaultMaxRetries    = 3
	defaultRetryDelay    = time.Second
	defaultTimeout       = 60 * time.Second
	defaultMaxFileSizeMB = 10
)

// Processor validates document input and drives a Provider with retry.
// Attempts back off exponentially; input errors fail fast.
type Processor struct {
	provider     Provider
	preprocessor *Preprocessor
	maxRetries   int
	retryDelay   time.Duration
	timeout      time.Duration
	maxFileSize  int64
	logger       *slog.Logger

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewProcessor wires a provider with the configured limits. Zero config
// values fall back to defaults.
func NewProcessor(provider Provider, cfg models.OCRConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}

	p := &Processor{
		provider:    provider,
		maxRetries:  cfg.MaxRetries,
		retryDelay:  defaultRetryDelay,
		timeout:     time.Duration(cfg.TimeoutSeconds) * time.Second,
		maxFileSize: int64(cfg.MaxFileSizeMB) << 20,
		logger:      logger,
		sleep:       sleepCtx,
	}
	if p.maxRetries <= 0 {
		p.maxRetries = defaultMaxRetries
	}
	if p.timeout <= 0 {
		p.timeout = defaultTimeout
	}
	if p.maxFileSize <= 0 {
		p.maxFileSize = defaultMaxFileSizeMB << 20
	}
	if cfg.Preprocess {
		p.preprocessor = NewPreprocessor(logger)
	}
	return p
}

// Process runs one document through the provider. Validation failures
// and other non-retryable errors return immediately; transient errors
// retry up to the attempt limit with 1s, 2s, 4s... backoff. The returned
// error is always a *Error.
func (p *Processor) Process(ctx context.Context, docID uuid.UUID, content []byte, contentType string) (*models.OCRPayload, error) {
	if len(content) == 0 {
		return nil, newError(CodeInvalidInput, "empty document content")
	}
	if int64(len(content)) > p.maxFileSize {
		return nil, newError(CodeFileTooLarge, "document is %d bytes, limit %d", len(content), p.maxFileSize)
	}
	contentType = normalizeContentType(contentType)
	if !supportedTypes[contentType] {
		return nil, newError(CodeUnsupportedFormat, "unsupported content type: %s", contentType)
	}

	if p.preprocessor != nil && strings.HasPrefix(contentType, "image/") {
		content = p.preprocessor.Enhance(content)
	}

	p.logger.Info("ocr.process.start",
		"document_id", docID,
		"provider", p.provider.Name(),
		"content_type", contentType,
		"size_bytes", len(content))

	var lastErr error
	for attempt := 1; attempt <= p.maxRetries; attempt++ {
		payload, err := p.extractOnce(ctx, content, contentType)
		if err == nil {
			if payload.Provider == "" {
				payload.Provider = p.provider.Name()
			}
			p.logger.Info("ocr.process.ok",
				"document_id", docID,
				"provider", payload.Provider,
				"attempt", attempt,
				"pages", len(payload.Pages),
				"pretrained_fields", len(payload.Pretrained),
				"confidence", payload.Confidence)
			return payload, nil
		}

		lastErr = err
		code := CodeOf(err)
		if !retryable(code) {
			p.logger.Error("ocr.process.failed",
				"document_id", docID,
				"error_code", code,
				"attempt", attempt,
				"error", err)
			return nil, asError(code, err)
		}

		p.logger.Warn("ocr.process.retrying",
			"document_id", docID,
			"error_code", code,
			"attempt", attempt,
			"error", err)

		if attempt < p.maxRetries {
			backoff := p.retryDelay * (1 << (attempt - 1))
			if err := p.sleep(ctx, backoff); err != nil {
				return nil, wrapError(CodeTimeout, err, "canceled while backing off")
			}
		}
	}

	code := CodeOf(lastErr)
	p.logger.Error("ocr.process.exhausted",
		"document_id", docID,
		"error_code", code,
		"attempts", p.maxRetries,
		"error", lastErr)
	return nil, asError(code, lastErr)
}

func (p *Processor) extractOnce(ctx context.Context, content []byte, contentType string) (*models.OCRPayload, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	return p.provider.Extract(attemptCtx, content, contentType)
}

// asError guarantees callers a typed error without double-wrapping.
func asError(code Code, err error) error {
	var oe *Error
	if errors.As(err, &oe) {
		return err
	}
	return wrapError(code, err, "provider extraction failed")
}

func normalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
