// Package ocr acquires raw extraction payloads from external providers.
// The processor validates input and retries transient failures; provider
// adapters translate one vendor API each into the common payload shape.
package ocr

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// Provider is one OCR/AI backend. Extract blocks until the provider has
// analyzed the document or ctx expires.
type Provider interface {
	Name() string
	Extract(ctx context.Context, content []byte, contentType string) (*models.OCRPayload, error)
}

// Code classifies an acquisition failure.
type Code string

const (
	CodeSuccess           Code = "SUCCESS"
	CodeInvalidInput      Code = "INVALID_INPUT"
	CodeNetworkError      Code = "NETWORK_ERROR"
	CodeServiceError      Code = "SERVICE_ERROR"
	CodeTimeout           Code = "TIMEOUT"
	CodeUnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	CodeFileTooLarge      Code = "FILE_TOO_LARGE"
	CodeUnknown           Code = "UNKNOWN_ERROR"
)

// Error is the typed failure crossing the ocr package boundary.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func wrapError(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Err: err}
}

// CodeOf extracts the failure code from any error returned by this
// package. Untyped errors are classified by their text.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var oe *Error
	if errors.As(err, &oe) {
		return oe.Code
	}
	return classify(err)
}

// retryable reports whether another attempt could plausibly succeed.
// Input problems never fix themselves.
func retryable(code Code) bool {
	switch code {
	case CodeInvalidInput, CodeUnsupportedFormat, CodeFileTooLarge:
		return false
	}
	return true
}

// classify buckets an untyped provider error by message. SDK errors that
// do not carry a typed code still need a retry decision.
func classify(err error) Code {
	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return CodeTimeout
	case strings.Contains(msg, "network") || strings.Contains(msg, "connection"):
		return CodeNetworkError
	case strings.Contains(msg, "invalid") || strings.Contains(msg, "bad request"):
		return CodeInvalidInput
	case strings.Contains(msg, "too large") || strings.Contains(msg, "size"):
		return CodeFileTooLarge
	case strings.Contains(msg, "unsupported") || strings.Contains(msg, "format"):
		return CodeUnsupportedFormat
	case strings.Contains(msg, "service") || strings.Contains(msg, "500") || strings.Contains(msg, "503"):
		return CodeServiceError
	}
	return CodeUnknown
}
