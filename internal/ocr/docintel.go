package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

const (
	docintelAPIVersion   = "2024-11-30"
	docintelPollInterval = 2 * time.Second
	docintelMaxPolls     = 60
)

// invoiceFieldNames are the prebuilt invoice model fields carried into
// the payload's pretrained map, keyed by the provider's own names.
var invoiceFieldNames = []string{
	"VendorName",
	"VendorAddress",
	"CustomerName",
	"CustomerAddress",
	"BillingAddress",
	"InvoiceId",
	"InvoiceDate",
	"DueDate",
	"PurchaseOrder",
	"SubTotal",
	"TotalTax",
	"InvoiceTotal",
	"AmountDue",
	"CurrencyCode",
}

// DocIntelProvider adapts the document intelligence REST API: submit an
// analyze request against the prebuilt invoice model, then poll the
// returned operation until it settles.
type DocIntelProvider struct {
	endpoint     string
	apiKey       string
	model        string
	client       *http.Client
	pollInterval time.Duration
	logger       *slog.Logger
}

func NewDocIntelProvider(cfg models.DocIntelConfig, logger *slog.Logger) *DocIntelProvider {
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = "prebuilt-invoice"
	}
	return &DocIntelProvider{
		endpoint:     strings.TrimRight(cfg.Endpoint, "/"),
		apiKey:       cfg.APIKey,
		model:        model,
		client:       &http.Client{},
		pollInterval: docintelPollInterval,
		logger:       logger,
	}
}

func (d *DocIntelProvider) Name() string { return "docintel" }

func (d *DocIntelProvider) Extract(ctx context.Context, content []byte, contentType string) (*models.OCRPayload, error) {
	location, err := d.submit(ctx, content)
	if err != nil {
		return nil, err
	}

	op, err := d.poll(ctx, location)
	if err != nil {
		return nil, err
	}

	payload := parseAnalyzeResult(op.AnalyzeResult)
	payload.Provider = d.Name()
	return payload, nil
}

// submit posts the analyze request and returns the operation URL.
func (d *DocIntelProvider) submit(ctx context.Context, content []byte) (string, error) {
	url := fmt.Sprintf("%s/documentintelligence/documentModels/%s:analyze?api-version=%s",
		d.endpoint, d.model, docintelAPIVersion)

	body, err := json.Marshal(map[string]string{
		"base64Source": base64.StdEncoding.EncodeToString(content),
	})
	if err != nil {
		return "", wrapError(CodeUnknown, err, "encode analyze request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", wrapError(CodeInvalidInput, err, "build analyze request")
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", wrapError(CodeTimeout, err, "analyze request timed out")
		}
		return "", wrapError(CodeNetworkError, err, "analyze request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return "", d.statusError(resp, "analyze submit")
	}

	location := resp.Header.Get("Operation-Location")
	if location == "" {
		return "", newError(CodeServiceError, "analyze response missing Operation-Location")
	}
	return location, nil
}

// poll fetches the operation until it reports succeeded or failed.
func (d *DocIntelProvider) poll(ctx context.Context, location string) (*analyzeOperation, error) {
	for i := 0; i < docintelMaxPolls; i++ {
		op, err := d.fetchOperation(ctx, location)
		if err != nil {
			return nil, err
		}

		switch op.Status {
		case "succeeded":
			if op.AnalyzeResult == nil {
				return nil, newError(CodeServiceError, "operation succeeded without a result")
			}
			return op, nil
		case "failed":
			msg := "analysis failed"
			if op.Error != nil {
				msg = fmt.Sprintf("analysis failed: %s: %s", op.Error.Code, op.Error.Message)
			}
			return nil, newError(CodeServiceError, "%s", msg)
		}

		if err := sleepCtx(ctx, d.pollInterval); err != nil {
			return nil, wrapError(CodeTimeout, err, "timed out polling analyze operation")
		}
	}
	return nil, newError(CodeTimeout, "analyze operation did not settle after %d polls", docintelMaxPolls)
}

func (d *DocIntelProvider) fetchOperation(ctx context.Context, location string) (*analyzeOperation, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, wrapError(CodeUnknown, err, "build poll request")
	}
	req.Header.Set("Ocp-Apim-Subscription-Key", d.apiKey)

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, wrapError(CodeTimeout, err, "poll request timed out")
		}
		return nil, wrapError(CodeNetworkError, err, "poll request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, d.statusError(resp, "analyze poll")
	}

	var op analyzeOperation
	if err := json.NewDecoder(resp.Body).Decode(&op); err != nil {
		return nil, wrapError(CodeServiceError, err, "decode analyze operation")
	}
	return &op, nil
}

func (d *DocIntelProvider) statusError(resp *http.Response, stage string) *Error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	code := CodeServiceError
	switch resp.StatusCode {
	case http.StatusBadRequest:
		code = CodeInvalidInput
	case http.StatusRequestEntityTooLarge:
		code = CodeFileTooLarge
	case http.StatusUnsupportedMediaType:
		code = CodeUnsupportedFormat
	}
	return newError(code, "%s returned %d: %s", stage, resp.StatusCode, strings.TrimSpace(string(detail)))
}

// Wire shapes for the analyze operation document.
type analyzeOperation struct {
	Status        string         `json:"status"`
	Error         *diError       `json:"error,omitempty"`
	AnalyzeResult *analyzeResult `json:"analyzeResult,omitempty"`
}

type diError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type analyzeResult struct {
	Content   string       `json:"content"`
	Pages     []diPage     `json:"pages"`
	Documents []diDocument `json:"documents"`
}

type diPage struct {
	PageNumber int      `json:"pageNumber"`
	Lines      []diLine `json:"lines"`
}

type diLine struct {
	Content string    `json:"content"`
	Polygon []float64 `json:"polygon"`
}

type diDocument struct {
	DocType    string             `json:"docType"`
	Fields     map[string]diField `json:"fields"`
	Confidence float64            `json:"confidence"`
}

type diField struct {
	Type          string     `json:"type"`
	Content       string     `json:"content"`
	ValueString   string     `json:"valueString,omitempty"`
	ValueDate     string     `json:"valueDate,omitempty"`
	ValueNumber   *float64   `json:"valueNumber,omitempty"`
	ValueCurrency *diMoney   `json:"valueCurrency,omitempty"`
	ValueArray    []diField  `json:"valueArray,omitempty"`
	ValueObject   diFieldMap `json:"valueObject,omitempty"`
	Confidence    float64    `json:"confidence"`
}

type diFieldMap map[string]diField

type diMoney struct {
	Amount       float64 `json:"amount"`
	CurrencyCode string  `json:"currencyCode"`
}

// parseAnalyzeResult maps the provider result onto the common payload:
// full text, per-page lines with polygons, the invoice field map and the
// line item table. Overall confidence is the mean of every extracted
// field's confidence.
func parseAnalyzeResult(result *analyzeResult) *models.OCRPayload {
	payload := &models.OCRPayload{Text: result.Content}

	for _, page := range result.Pages {
		p := models.OCRPage{Number: page.PageNumber}
		for _, line := range page.Lines {
			p.Lines = append(p.Lines, models.OCRLine{Content: line.Content, Polygon: line.Polygon})
		}
		payload.Pages = append(payload.Pages, p)
	}

	var confSum float64
	var confCount int
	for _, doc := range result.Documents {
		for _, field := range doc.Fields {
			if field.Confidence > 0 {
				confSum += field.Confidence
				confCount++
			}
		}

		for _, name := range invoiceFieldNames {
			field, ok := doc.Fields[name]
			if !ok {
				continue
			}
			value := fieldValue(field)
			if value == "" {
				continue
			}
			if payload.Pretrained == nil {
				payload.Pretrained = make(map[string]models.PretrainedField)
			}
			payload.Pretrained[name] = models.PretrainedField{
				Value:      value,
				Confidence: field.Confidence,
			}
		}

		if items, ok := doc.Fields["Items"]; ok {
			payload.LineItems = append(payload.LineItems, parseLineItems(items)...)
		}
	}
	if confCount > 0 {
		payload.Confidence = math.Round(confSum/float64(confCount)*10000) / 10000
	}

	return payload
}

// fieldValue renders a typed field as a string, preferring the parsed
// value over the raw content.
func fieldValue(field diField) string {
	switch {
	case field.ValueString != "":
		return field.ValueString
	case field.ValueDate != "":
		return field.ValueDate
	case field.ValueCurrency != nil:
		return decimal.NewFromFloat(field.ValueCurrency.Amount).StringFixed(2)
	case field.ValueNumber != nil:
		return decimal.NewFromFloat(*field.ValueNumber).String()
	}
	return strings.TrimSpace(field.Content)
}

func parseLineItems(items diField) []models.LineItem {
	var out []models.LineItem
	for _, entry := range items.ValueArray {
		obj := entry.ValueObject
		if len(obj) == 0 {
			continue
		}
		item := models.LineItem{
			Description: fieldValue(obj["Description"]),
			ProductCode: fieldValue(obj["ProductCode"]),
		}
		if q := obj["Quantity"]; q.ValueNumber != nil {
			item.Quantity = decimal.NewFromFloat(*q.ValueNumber)
		}
		if up := obj["UnitPrice"]; up.ValueCurrency != nil {
			item.UnitPrice = decimal.NewFromFloat(up.ValueCurrency.Amount)
		}
		if amt := obj["Amount"]; amt.ValueCurrency != nil {
			item.Amount = decimal.NewFromFloat(amt.ValueCurrency.Amount)
		}
		out = append(out, item)
	}
	return out
}
