package mapper

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"

	"github.com/google/uuid"

	"github.com/freightflow/invoice-mapping-service/internal/fields"
	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// Mapper applies a forwarder's mapping rules to OCR output, producing
// exactly one FieldMapping per standardized catalog field.
type Mapper struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Mapper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Mapper{logger: logger}
}

// MapFields walks the field catalog in order. For each field the provider
// passthrough is tried first, then the field's rules from highest priority
// down until one matches, then the highest-priority default value. Fields
// nothing covers come back flagged empty, so the result always holds one
// mapping per catalog field.
func (m *Mapper) MapFields(payload *models.OCRPayload, rules []models.MappingRule) ([]models.FieldMapping, models.ExtractionSummary, error) {
	if payload == nil || (payload.Text == "" && len(payload.Pages) == 0 && len(payload.Pretrained) == 0) {
		return nil, models.ExtractionSummary{}, fmt.Errorf("empty OCR payload")
	}

	grouped := groupRules(rules)

	mappings := make([]models.FieldMapping, 0, fields.Count())
	for _, field := range fields.Names() {
		mappings = append(mappings, m.mapField(field, payload, grouped[field]))
	}
	return mappings, Summarize(mappings), nil
}

func (m *Mapper) mapField(field string, payload *models.OCRPayload, rules []models.MappingRule) models.FieldMapping {
	// Provider passthrough outranks every rule.
	if name, ok := fields.PretrainedName(field); ok {
		if cand, found, _ := matchPretrained(name, payload.Pretrained); found {
			return m.finishMapping(field, cand, nil, "")
		}
	}

	for _, rule := range rules {
		cand, found, err := matchPattern(rule.Pattern, payload)
		if err != nil {
			m.logger.Warn("mapper.rule.skipped",
				"rule_id", rule.ID,
				"field", field,
				"error", err)
			continue
		}
		if !found {
			continue
		}
		id := rule.ID
		return m.finishMapping(field, cand, &id, rule.ValidationPattern)
	}

	// Highest-priority default wins when no pattern matched.
	for _, rule := range rules {
		if rule.DefaultValue == "" {
			continue
		}
		id := rule.ID
		cand := candidate{
			value:      rule.DefaultValue,
			raw:        rule.DefaultValue,
			confidence: defaultConfidence,
			method:     models.MethodDefault,
		}
		return m.finishMapping(field, cand, &id, rule.ValidationPattern)
	}

	return models.FieldMapping{
		FieldName:   field,
		IsValid:     true,
		IsEmpty:     true,
		EmptyReason: "no matching rule found",
	}
}

// finishMapping normalizes the candidate value and runs the rule's
// validation pattern against the normalized form. A validation failure
// keeps the value, flagged invalid; an uncompilable validation pattern
// never rejects.
func (m *Mapper) finishMapping(field string, cand candidate, ruleID *uuid.UUID, validation string) models.FieldMapping {
	fm := models.FieldMapping{
		FieldName:  field,
		Value:      normalizeValue(field, cand.value),
		RawValue:   cand.raw,
		SourceText: cand.sourceText,
		SourcePage: cand.page,
		Region:     cand.region,
		Confidence: cand.confidence,
		Method:     cand.method,
		RuleID:     ruleID,
		IsValid:    true,
	}

	if validation == "" {
		return fm
	}
	re, err := regexp.Compile(validation)
	if err != nil {
		m.logger.Warn("mapper.validation.bad_pattern",
			"field", field,
			"pattern", validation,
			"error", err)
		return fm
	}
	if !re.MatchString(fm.Value) {
		fm.IsValid = false
		fm.ValidationError = fmt.Sprintf("Value does not match pattern: %s", validation)
	}
	return fm
}

// groupRules indexes active rules by field name, each group ordered by
// priority descending with rule ID as a deterministic tiebreak.
func groupRules(rules []models.MappingRule) map[string][]models.MappingRule {
	grouped := make(map[string][]models.MappingRule)
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		grouped[r.FieldName] = append(grouped[r.FieldName], r)
	}
	for _, group := range grouped {
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].Priority != group[j].Priority {
				return group[i].Priority > group[j].Priority
			}
			return group[i].ID.String() < group[j].ID.String()
		})
	}
	return grouped
}

// Summarize derives the roll-up counts and average confidence from a
// mapping set. Callers re-derive it whenever confidences change.
func Summarize(mappings []models.FieldMapping) models.ExtractionSummary {
	s := models.ExtractionSummary{TotalFields: len(mappings)}
	sum := 0
	for _, fm := range mappings {
		if fm.IsEmpty {
			s.UnmappedFields++
			continue
		}
		s.MappedFields++
		sum += fm.Confidence
		if fm.IsValid {
			s.ValidFields++
		} else {
			s.InvalidFields++
		}
	}
	if s.MappedFields > 0 {
		s.AverageConfidence = math.Round(float64(sum)/float64(s.MappedFields)*100) / 100
	}
	return s
}
