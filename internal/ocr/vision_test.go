package ocr

import (
	"strings"
	"testing"
)

func TestParseVisionResponse(t *testing.T) {
	t.Parallel()

	raw := "```json\n" + `{
  "text": "GLOBAL CARGO LTD\nInvoice No: GC-8812\nAmount Due: 450.00",
  "confidence": 0.91,
  "fields": {
    "InvoiceId": {"value": "GC-8812", "confidence": 0.94},
    "AmountDue": {"value": "450.00", "confidence": 0.9},
    "VendorName": {"value": "  GLOBAL CARGO LTD ", "confidence": 0.96},
    "DueDate": {"value": "", "confidence": 0.2}
  }
}` + "\n```"

	payload, err := parseVisionResponse(raw)
	if err != nil {
		t.Fatalf("parseVisionResponse failed: %v", err)
	}

	if payload.Confidence != 0.91 {
		t.Errorf("confidence = %v, want 0.91", payload.Confidence)
	}
	if !strings.HasPrefix(payload.Text, "GLOBAL CARGO LTD") {
		t.Errorf("text = %q", payload.Text)
	}

	// The transcript becomes one synthetic page, one line per text line.
	if len(payload.Pages) != 1 || payload.Pages[0].Number != 1 {
		t.Fatalf("pages = %+v", payload.Pages)
	}
	if got := len(payload.Pages[0].Lines); got != 3 {
		t.Errorf("lines = %d, want 3", got)
	}
	if payload.Pages[0].Lines[1].Content != "Invoice No: GC-8812" {
		t.Errorf("line 2 = %q", payload.Pages[0].Lines[1].Content)
	}

	if pf := payload.Pretrained["InvoiceId"]; pf.Value != "GC-8812" || pf.Confidence != 0.94 {
		t.Errorf("InvoiceId = %+v", pf)
	}
	if pf := payload.Pretrained["VendorName"]; pf.Value != "GLOBAL CARGO LTD" {
		t.Errorf("VendorName not trimmed: %q", pf.Value)
	}
	if _, ok := payload.Pretrained["DueDate"]; ok {
		t.Error("empty DueDate value should be dropped")
	}
}

func TestParseVisionResponseClampsConfidence(t *testing.T) {
	t.Parallel()

	// Models sometimes answer on a 0-100 scale despite the prompt.
	raw := `{
  "text": "Invoice 42",
  "confidence": 95,
  "fields": {
    "InvoiceId": {"value": "42", "confidence": 94},
    "VendorName": {"value": "ACME", "confidence": -0.3}
  }
}`

	payload, err := parseVisionResponse(raw)
	if err != nil {
		t.Fatalf("parseVisionResponse failed: %v", err)
	}

	if payload.Confidence != 1 {
		t.Errorf("confidence = %v, want clamped to 1", payload.Confidence)
	}
	if pf := payload.Pretrained["InvoiceId"]; pf.Confidence != 1 {
		t.Errorf("InvoiceId confidence = %v, want clamped to 1", pf.Confidence)
	}
	if pf := payload.Pretrained["VendorName"]; pf.Confidence != 0 {
		t.Errorf("VendorName confidence = %v, want clamped to 0", pf.Confidence)
	}
}

func TestParseVisionResponseRejectsBadJSON(t *testing.T) {
	t.Parallel()

	_, err := parseVisionResponse("I could not read the document, sorry!")
	if err == nil {
		t.Fatal("expected an error")
	}
	if CodeOf(err) != CodeServiceError {
		t.Errorf("code = %s, want SERVICE_ERROR", CodeOf(err))
	}
}

func TestVisionPromptNamesEveryInvoiceField(t *testing.T) {
	t.Parallel()

	prompt := visionPrompt()
	for _, name := range invoiceFieldNames {
		if !strings.Contains(prompt, `"`+name+`"`) {
			t.Errorf("prompt does not mention field %s", name)
		}
	}
	if !strings.Contains(prompt, "no markdown fences") {
		t.Error("prompt should forbid markdown fences")
	}
}
