// Package routing turns scored extractions into processing-path
// decisions and review priorities.
package routing

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/freightflow/invoice-mapping-service/internal/fields"
	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// Engine decides how a document proceeds after extraction. Decisions are
// pure functions of the mappings, the overall confidence and the
// caller-supplied document age, so recomputing with identical inputs
// yields an identical decision.
type Engine struct {
	cfg models.RoutingConfig
	now func() time.Time // overridable in tests
}

func New(cfg models.RoutingConfig) *Engine {
	return &Engine{cfg: cfg, now: time.Now}
}

// Decide routes one document. The critical-field override runs before
// the score bands: a handful of weak critical fields forces manual
// handling no matter how good the average looks. age is the wall-clock
// time since the document was received.
func (e *Engine) Decide(docID uuid.UUID, mappings []models.FieldMapping, overall float64, age time.Duration) (models.RoutingDecision, error) {
	if overall < 0 || overall > 100 {
		return models.RoutingDecision{}, fmt.Errorf("overall confidence out of range: %v", overall)
	}

	var low, criticalLow []string
	for _, fm := range mappings {
		if fm.Confidence < 0 || fm.Confidence > 100 {
			return models.RoutingDecision{}, fmt.Errorf("field %s confidence out of range: %d", fm.FieldName, fm.Confidence)
		}
		below := float64(fm.Confidence) < e.cfg.QuickReviewThreshold
		if !fm.IsEmpty && below {
			low = append(low, fm.FieldName)
		}
		// A missing critical field counts against the override too.
		if fields.IsCritical(fm.FieldName) && (fm.IsEmpty || below) {
			criticalLow = append(criticalLow, fm.FieldName)
		}
	}

	path, reason := e.classify(overall, low, criticalLow)

	return models.RoutingDecision{
		DocumentID:        docID,
		Path:              path,
		Reason:            reason,
		OverallConfidence: overall,
		LowFields:         low,
		CriticalLowFields: criticalLow,
		Priority:          e.Priority(path, age, len(criticalLow)),
		DecidedAt:         e.now().UTC(),
		DecidedBy:         "system",
	}, nil
}

func (e *Engine) classify(overall float64, low, criticalLow []string) (models.ProcessingPath, string) {
	switch {
	case len(criticalLow) >= e.cfg.CriticalFieldLimit:
		return models.PathManualRequired, fmt.Sprintf(
			"%d critical fields below %.0f%% confidence: %s",
			len(criticalLow), e.cfg.QuickReviewThreshold, strings.Join(criticalLow, ", "))
	case overall >= e.cfg.AutoApproveThreshold:
		return models.PathAutoApprove, fmt.Sprintf(
			"Overall confidence %.2f%% meets the auto-approval threshold %.0f%%",
			overall, e.cfg.AutoApproveThreshold)
	case overall >= e.cfg.QuickReviewThreshold:
		return models.PathQuickReview, fmt.Sprintf(
			"Overall confidence %.2f%% requires quick review (%d low-confidence fields)",
			overall, len(low))
	default:
		return models.PathFullReview, fmt.Sprintf(
			"Overall confidence %.2f%% is below the review threshold %.0f%%",
			overall, e.cfg.QuickReviewThreshold)
	}
}

// Priority is the 0-100 review urgency: a base per path, a capped bonus
// per full day of age, and a fixed bump per weak critical field. The
// queue sweeper recomputes it as pending items age.
func (e *Engine) Priority(path models.ProcessingPath, age time.Duration, criticalCount int) int {
	var base int
	switch path {
	case models.PathManualRequired:
		base = e.cfg.ManualPriority
	case models.PathFullReview:
		base = e.cfg.FullPriority
	case models.PathQuickReview:
		base = e.cfg.QuickPriority
	default:
		return 0 // auto-approved documents never queue
	}

	ageBonus := int(age/(24*time.Hour)) * e.cfg.AgeBonusPerDay
	if ageBonus < 0 {
		ageBonus = 0
	}
	if ageBonus > e.cfg.AgeBonusCap {
		ageBonus = e.cfg.AgeBonusCap
	}

	p := base + ageBonus + criticalCount*e.cfg.CriticalBonus
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}
