// Package identify matches invoice text against forwarder recognition
// patterns to work out which company's layout the document follows.
package identify

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// Signal scores. Keywords accumulate up to a cap so a keyword-stuffed
// template cannot outvote an actual company name.
const (
	nameScore       = 40.0
	keywordScore    = 15.0
	keywordScoreCap = 30.0
	formatScore     = 20.0
	logoScore       = 10.0
)

// Matcher scores OCR text against every active forwarder's patterns and
// keeps the best candidate.
type Matcher struct {
	forwarders []models.Forwarder // priority descending
	cfg        models.IdentifyConfig
	logger     *slog.Logger
}

func NewMatcher(forwarders []models.Forwarder, cfg models.IdentifyConfig, logger *slog.Logger) *Matcher {
	if logger == nil {
		logger = slog.Default()
	}

	sorted := make([]models.Forwarder, len(forwarders))
	copy(sorted, forwarders)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	return &Matcher{forwarders: sorted, cfg: cfg, logger: logger}
}

// Identify scores the text against each candidate, higher priority
// first. Only a strictly better score displaces the current best, so
// ties stay with the higher-priority forwarder. Scores under the review
// threshold come back as UNIDENTIFIED with no candidate attached.
func (m *Matcher) Identify(text string) models.IdentificationResult {
	if strings.TrimSpace(text) == "" {
		return unidentified()
	}

	normalized := normalizeText(text)

	var best models.IdentificationResult
	for _, fw := range m.forwarders {
		if fw.Code == "UNKNOWN" || !fw.IsActive {
			continue
		}
		result := m.score(fw, normalized, text)
		if result.Confidence > best.Confidence {
			best = result
		}
	}

	if best.Confidence < m.cfg.ReviewThreshold {
		return unidentified()
	}
	if best.Confidence >= m.cfg.AutoThreshold {
		best.Status = models.IdentifyIdentified
	} else {
		best.Status = models.IdentifyNeedsReview
	}

	m.logger.Info("identify.completed",
		"forwarder_code", best.ForwarderCode,
		"confidence", best.Confidence,
		"match_method", best.MatchMethod)
	return best
}

// score runs the four signal checks for one forwarder. Name variants,
// keywords and logo text are substring checks on the normalized text;
// format expressions run case-insensitively against the original text
// so tracking-number shapes keep their casing.
func (m *Matcher) score(fw models.Forwarder, normalized, original string) models.IdentificationResult {
	total := 0.0
	method := "none"
	var matched []string

	nameSeen := false
	for _, name := range fw.Patterns.Names {
		if !strings.Contains(normalized, strings.ToLower(name)) {
			continue
		}
		if !nameSeen {
			total += nameScore
			method = "name"
			nameSeen = true
		}
		matched = append(matched, "name:"+name)
	}

	kwTotal := 0.0
	for _, kw := range fw.Patterns.Keywords {
		if !strings.Contains(normalized, strings.ToLower(kw)) {
			continue
		}
		if add := min(keywordScore, keywordScoreCap-kwTotal); add > 0 {
			kwTotal += add
			total += add
			if method == "none" {
				method = "keyword"
			}
		}
		matched = append(matched, "keyword:"+kw)
	}

	for _, format := range fw.Patterns.Formats {
		re, err := regexp.Compile("(?i)" + format)
		if err != nil {
			m.logger.Warn("identify.bad_format_pattern",
				"forwarder_code", fw.Code,
				"pattern", format,
				"error", err)
			continue
		}
		if re.MatchString(original) {
			total += formatScore
			if method == "none" {
				method = "format"
			}
			matched = append(matched, "format:"+format)
			break
		}
	}

	for _, logo := range fw.Patterns.LogoText {
		if strings.Contains(normalized, strings.ToLower(logo)) {
			total += logoScore
			if method == "none" {
				method = "logo_text"
			}
			matched = append(matched, "logo:"+logo)
			break
		}
	}

	id := fw.ID
	return models.IdentificationResult{
		ForwarderID:     &id,
		ForwarderCode:   fw.Code,
		ForwarderName:   fw.Name,
		Confidence:      min(total, 100.0),
		MatchMethod:     method,
		MatchedPatterns: matched,
	}
}

var spaceRe = regexp.MustCompile(`\s+`)

func normalizeText(text string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(strings.ToLower(text), " "))
}

func unidentified() models.IdentificationResult {
	return models.IdentificationResult{
		Status:      models.IdentifyUnidentified,
		MatchMethod: "none",
	}
}
