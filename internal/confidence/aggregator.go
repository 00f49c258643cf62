// Package confidence blends per-field signal sources into the scores
// reviewers see, and derives the document-level overall confidence.
package confidence

import (
	"fmt"
	"math"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// defaultHistory stands in when no accuracy record exists yet for a
// forwarder+field pair.
const defaultHistory = 75.0

// Breakdown shows the factor inputs (0-100) behind one field's blended
// score.
type Breakdown struct {
	OCR        float64 `json:"ocr"`
	Rule       float64 `json:"rule"`
	Validation float64 `json:"validation"`
	History    float64 `json:"history"`
	Score      int     `json:"score"`
}

// Result is one scoring pass over a document's mappings.
type Result struct {
	Overall    float64              `json:"overall"`
	Breakdowns map[string]Breakdown `json:"breakdowns"`
}

// Aggregator computes weighted confidence blends. Weights come from
// configuration, not constants, so deployments can retune the balance.
type Aggregator struct {
	cfg models.ConfidenceConfig
}

func New(cfg models.ConfidenceConfig) (*Aggregator, error) {
	for name, w := range map[string]float64{
		"ocr_weight":        cfg.OCRWeight,
		"rule_weight":       cfg.RuleWeight,
		"validation_weight": cfg.ValidationWeight,
		"history_weight":    cfg.HistoryWeight,
	} {
		if w < 0 {
			return nil, fmt.Errorf("confidence %s is negative: %v", name, w)
		}
	}
	sum := cfg.OCRWeight + cfg.RuleWeight + cfg.ValidationWeight + cfg.HistoryWeight
	if math.Abs(sum-1.0) > 1e-6 {
		return nil, fmt.Errorf("confidence weights sum to %v, want 1.0", sum)
	}
	return &Aggregator{cfg: cfg}, nil
}

// ScoreField blends one non-empty mapping. ocrConfidence is the engine's
// 0-100 extraction confidence; the mapping's method confidence stands in
// for rule-match strength; validation contributes 100 on pass, 0 on fail;
// history is this forwarder's running accuracy for the field, defaulting
// when absent. Factor inputs outside 0-100 are rejected, not clamped.
func (a *Aggregator) ScoreField(mapping models.FieldMapping, ocrConfidence float64, history map[string]float64) (Breakdown, error) {
	if err := checkRange("ocr confidence", ocrConfidence); err != nil {
		return Breakdown{}, err
	}
	rule := float64(mapping.Confidence)
	if err := checkRange("rule strength", rule); err != nil {
		return Breakdown{}, fmt.Errorf("field %s: %w", mapping.FieldName, err)
	}

	validation := 0.0
	if mapping.IsValid {
		validation = 100.0
	}

	hist := defaultHistory
	if h, ok := history[mapping.FieldName]; ok {
		if err := checkRange("historical accuracy", h); err != nil {
			return Breakdown{}, fmt.Errorf("field %s: %w", mapping.FieldName, err)
		}
		hist = h
	}

	blend := ocrConfidence*a.cfg.OCRWeight +
		rule*a.cfg.RuleWeight +
		validation*a.cfg.ValidationWeight +
		hist*a.cfg.HistoryWeight

	return Breakdown{
		OCR:        ocrConfidence,
		Rule:       rule,
		Validation: validation,
		History:    hist,
		Score:      int(math.Round(blend)),
	}, nil
}

// Apply rewrites every non-empty mapping's confidence with its blended
// score and returns the per-field breakdowns plus the document overall.
// Empty mappings are left untouched at zero and excluded from the
// overall mean; a mapped-nothing document scores 0 overall.
func (a *Aggregator) Apply(mappings []models.FieldMapping, ocrConfidence float64, history map[string]float64) (Result, error) {
	res := Result{Breakdowns: make(map[string]Breakdown)}

	sum, scored := 0, 0
	for i := range mappings {
		if mappings[i].IsEmpty {
			continue
		}
		bd, err := a.ScoreField(mappings[i], ocrConfidence, history)
		if err != nil {
			return Result{}, err
		}
		mappings[i].Confidence = bd.Score
		res.Breakdowns[mappings[i].FieldName] = bd
		sum += bd.Score
		scored++
	}
	if scored > 0 {
		res.Overall = float64(sum) / float64(scored)
	}
	return res, nil
}

// Overall recomputes the document mean from already-scored mappings,
// excluding empty fields.
func Overall(mappings []models.FieldMapping) float64 {
	sum, scored := 0, 0
	for _, fm := range mappings {
		if fm.IsEmpty {
			continue
		}
		sum += fm.Confidence
		scored++
	}
	if scored == 0 {
		return 0
	}
	return float64(sum) / float64(scored)
}

func checkRange(name string, v float64) error {
	if v < 0 || v > 100 {
		return fmt.Errorf("%s out of range: %v", name, v)
	}
	return nil
}
