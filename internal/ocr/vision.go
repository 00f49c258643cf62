package ocr

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// visionPrompt asks a multimodal model to behave like a document
// intelligence endpoint: full text plus the standard invoice fields,
// strict JSON, no commentary. Field keys reuse the prebuilt invoice
// vocabulary so every provider feeds the same pretrained lookup.
func visionPrompt() string {
	var b strings.Builder
	b.WriteString(`You are an OCR engine for freight and logistics invoices.

Read the attached document carefully, character by character. Return ONLY valid JSON, no markdown fences, no comments, in exactly this shape:

{
  "text": "the complete document text, line by line, preserving line breaks",
  "confidence": 0.0,
  "fields": {`)
	for i, name := range invoiceFieldNames {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n    \"")
		b.WriteString(name)
		b.WriteString(`": {"value": "", "confidence": 0.0}`)
	}
	b.WriteString(`
  }
}

Rules:
1. "text" must contain every line you can read, top to bottom.
2. "confidence" values are between 0.0 and 1.0 and reflect how certain you are of each reading.
3. Dates in "value" use YYYY-MM-DD. Amounts use plain digits with a dot decimal separator and no currency symbol.
4. Omit a field from "fields" entirely if it does not appear on the document. Never invent values.
5. CurrencyCode is the 3-letter ISO code.`)
	return b.String()
}

type visionResult struct {
	Text       string                 `json:"text"`
	Confidence float64                `json:"confidence"`
	Fields     map[string]visionField `json:"fields"`
}

type visionField struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// parseVisionResponse turns a model reply into the common payload.
// Markdown fences are stripped first; models add them even when told
// not to. The text is split into a single synthetic page so position
// rules and identification work the same as with layout providers.
func parseVisionResponse(raw string) (*models.OCRPayload, error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.ReplaceAll(cleaned, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)

	var result visionResult
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, wrapError(CodeServiceError, err, "model returned unparseable JSON")
	}

	payload := &models.OCRPayload{
		Text:       result.Text,
		Confidence: clamp01(result.Confidence),
	}

	if result.Text != "" {
		page := models.OCRPage{Number: 1}
		for _, line := range strings.Split(result.Text, "\n") {
			page.Lines = append(page.Lines, models.OCRLine{Content: line})
		}
		payload.Pages = []models.OCRPage{page}
	}

	for name, field := range result.Fields {
		if strings.TrimSpace(field.Value) == "" {
			continue
		}
		if payload.Pretrained == nil {
			payload.Pretrained = make(map[string]models.PretrainedField)
		}
		payload.Pretrained[name] = models.PretrainedField{
			Value:      strings.TrimSpace(field.Value),
			Confidence: clamp01(field.Confidence),
		}
	}

	return payload, nil
}

// clamp01 pins a model-reported confidence to the documented 0-1 range.
// Models occasionally answer on a 0-100 scale despite the prompt.
func clamp01(v float64) float64 {
	return math.Min(math.Max(v, 0), 1)
}
