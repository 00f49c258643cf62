package ocr

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

func docintelTestConfig(endpoint string) models.DocIntelConfig {
	return models.DocIntelConfig{Endpoint: endpoint, APIKey: "test-key"}
}

const analyzeResultDoc = `{
  "status": "succeeded",
  "analyzeResult": {
    "content": "ACME FORWARDING\nInvoice #: INV-2024-001\nTotal: $1,234.56",
    "pages": [
      {
        "pageNumber": 1,
        "lines": [
          {"content": "ACME FORWARDING", "polygon": [0.1, 0.1, 4.0, 0.1, 4.0, 0.4, 0.1, 0.4]},
          {"content": "Invoice #: INV-2024-001", "polygon": [0.1, 0.6, 4.2, 0.6, 4.2, 0.9, 0.1, 0.9]},
          {"content": "Total: $1,234.56", "polygon": [0.1, 1.1, 3.1, 1.1, 3.1, 1.4, 0.1, 1.4]}
        ]
      }
    ],
    "documents": [
      {
        "docType": "invoice",
        "confidence": 0.97,
        "fields": {
          "InvoiceId": {"type": "string", "valueString": "INV-2024-001", "content": "INV-2024-001", "confidence": 0.95},
          "InvoiceDate": {"type": "date", "valueDate": "2024-03-15", "content": "15/03/2024", "confidence": 0.92},
          "InvoiceTotal": {"type": "currency", "valueCurrency": {"amount": 1234.56, "currencyCode": "USD"}, "content": "$1,234.56", "confidence": 0.9},
          "VendorName": {"type": "string", "valueString": "ACME FORWARDING", "content": "ACME FORWARDING", "confidence": 0.99},
          "CurrencyCode": {"type": "string", "valueString": "USD", "content": "USD", "confidence": 0.88},
          "Items": {
            "type": "array",
            "valueArray": [
              {
                "type": "object",
                "valueObject": {
                  "Description": {"type": "string", "valueString": "Ocean freight 40HC", "confidence": 0.9},
                  "Quantity": {"type": "number", "valueNumber": 2, "confidence": 0.9},
                  "UnitPrice": {"type": "currency", "valueCurrency": {"amount": 500.0, "currencyCode": "USD"}, "confidence": 0.9},
                  "Amount": {"type": "currency", "valueCurrency": {"amount": 1000.0, "currencyCode": "USD"}, "confidence": 0.9},
                  "ProductCode": {"type": "string", "valueString": "OF-40HC", "confidence": 0.85}
                }
              }
            ],
            "confidence": 0
          }
        }
      }
    ]
  }
}`

func TestParseAnalyzeResult(t *testing.T) {
	t.Parallel()

	var op analyzeOperation
	if err := json.Unmarshal([]byte(analyzeResultDoc), &op); err != nil {
		t.Fatalf("bad fixture: %v", err)
	}

	payload := parseAnalyzeResult(op.AnalyzeResult)

	if !strings.HasPrefix(payload.Text, "ACME FORWARDING") {
		t.Errorf("text = %q", payload.Text)
	}
	if len(payload.Pages) != 1 || payload.Pages[0].Number != 1 {
		t.Fatalf("pages = %+v", payload.Pages)
	}
	if len(payload.Pages[0].Lines) != 3 {
		t.Errorf("page lines = %d, want 3", len(payload.Pages[0].Lines))
	}
	if len(payload.Pages[0].Lines[0].Polygon) != 8 {
		t.Errorf("line polygon = %v", payload.Pages[0].Lines[0].Polygon)
	}

	checks := map[string]string{
		"InvoiceId":    "INV-2024-001",
		"InvoiceDate":  "2024-03-15",
		"InvoiceTotal": "1234.56",
		"VendorName":   "ACME FORWARDING",
		"CurrencyCode": "USD",
	}
	for name, want := range checks {
		pf, ok := payload.Pretrained[name]
		if !ok {
			t.Errorf("pretrained field %s missing", name)
			continue
		}
		if pf.Value != want {
			t.Errorf("pretrained %s = %q, want %q", name, pf.Value, want)
		}
	}
	if pf := payload.Pretrained["InvoiceId"]; pf.Confidence != 0.95 {
		t.Errorf("InvoiceId confidence = %v, want 0.95", pf.Confidence)
	}

	// Mean of 0.95, 0.92, 0.9, 0.99, 0.88 (the zero-confidence Items
	// entry is excluded), rounded to 4 places.
	if payload.Confidence != 0.928 {
		t.Errorf("overall confidence = %v, want 0.928", payload.Confidence)
	}

	if len(payload.LineItems) != 1 {
		t.Fatalf("line items = %d, want 1", len(payload.LineItems))
	}
	item := payload.LineItems[0]
	if item.Description != "Ocean freight 40HC" || item.ProductCode != "OF-40HC" {
		t.Errorf("item = %+v", item)
	}
	if !item.Quantity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("quantity = %s, want 2", item.Quantity)
	}
	if !item.UnitPrice.Equal(decimal.NewFromInt(500)) {
		t.Errorf("unit price = %s, want 500", item.UnitPrice)
	}
	if !item.Amount.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("amount = %s, want 1000", item.Amount)
	}
}

func TestParseAnalyzeResultEmptyDocument(t *testing.T) {
	t.Parallel()

	payload := parseAnalyzeResult(&analyzeResult{Content: "blank page"})
	if payload.Text != "blank page" {
		t.Errorf("text = %q", payload.Text)
	}
	if payload.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", payload.Confidence)
	}
	if len(payload.Pretrained) != 0 {
		t.Errorf("pretrained = %v, want empty", payload.Pretrained)
	}
}

func TestDocIntelExtractAnalyzesAndPolls(t *testing.T) {
	t.Parallel()

	var polls atomic.Int32
	mux := http.NewServeMux()

	var server *httptest.Server
	mux.HandleFunc("POST /documentintelligence/documentModels/prebuilt-invoice:analyze", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Ocp-Apim-Subscription-Key") != "test-key" {
			http.Error(w, "bad key", http.StatusUnauthorized)
			return
		}
		var body struct {
			Base64Source string `json:"base64Source"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Base64Source == "" {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		w.Header().Set("Operation-Location", server.URL+"/operations/op-1")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /operations/op-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) == 1 {
			io.WriteString(w, `{"status": "running"}`)
			return
		}
		io.WriteString(w, analyzeResultDoc)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	provider := NewDocIntelProvider(docintelTestConfig(server.URL), nil)
	provider.pollInterval = time.Millisecond

	payload, err := provider.Extract(context.Background(), []byte("%PDF-1.4"), "application/pdf")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if payload.Provider != "docintel" {
		t.Errorf("provider = %q", payload.Provider)
	}
	if payload.Pretrained["InvoiceId"].Value != "INV-2024-001" {
		t.Errorf("InvoiceId = %+v", payload.Pretrained["InvoiceId"])
	}
	if polls.Load() != 2 {
		t.Errorf("polled %d times, want 2 (running then succeeded)", polls.Load())
	}
}

func TestDocIntelExtractReportsAnalysisFailure(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	var server *httptest.Server
	mux.HandleFunc("POST /documentintelligence/documentModels/prebuilt-invoice:analyze", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Operation-Location", server.URL+"/operations/op-2")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /operations/op-2", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"status": "failed", "error": {"code": "InvalidContent", "message": "corrupt file"}}`)
	})
	server = httptest.NewServer(mux)
	defer server.Close()

	provider := NewDocIntelProvider(docintelTestConfig(server.URL), nil)
	provider.pollInterval = time.Millisecond

	_, err := provider.Extract(context.Background(), []byte("junk"), "application/pdf")
	if CodeOf(err) != CodeServiceError {
		t.Fatalf("code = %s, want SERVICE_ERROR", CodeOf(err))
	}
	if !strings.Contains(err.Error(), "InvalidContent") {
		t.Errorf("error should carry the provider code: %v", err)
	}
}

func TestDocIntelSubmitMapsHTTPStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status int
		want   Code
	}{
		{http.StatusBadRequest, CodeInvalidInput},
		{http.StatusRequestEntityTooLarge, CodeFileTooLarge},
		{http.StatusUnsupportedMediaType, CodeUnsupportedFormat},
		{http.StatusInternalServerError, CodeServiceError},
		{http.StatusTooManyRequests, CodeServiceError},
	}

	for _, tt := range tests {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "nope", tt.status)
		}))

		provider := NewDocIntelProvider(docintelTestConfig(server.URL), nil)
		_, err := provider.Extract(context.Background(), []byte("x"), "application/pdf")
		if CodeOf(err) != tt.want {
			t.Errorf("status %d: code = %s, want %s", tt.status, CodeOf(err), tt.want)
		}
		server.Close()
	}
}
