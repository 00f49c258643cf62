package mapper

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// Method-intrinsic rule confidences (0-100). Pretrained passthroughs carry
// the provider's own confidence instead.
const (
	regexConfidence    = 85
	positionConfidence = 75
	keywordConfidence  = 70
	defaultConfidence  = 50
)

// candidate is one matcher's successful extraction before normalization
// and validation.
type candidate struct {
	value      string    // after preprocessor
	raw        string    // as matched
	sourceText string    // surrounding snippet for provenance
	page       int       // 1-based, 0 when unknown
	region     []float64 // line polygon when position-addressed
	confidence int
	method     string
}

// matchPattern dispatches to the matcher for the pattern's concrete type.
// A returned error means the rule definition itself is broken; the caller
// skips that rule. (nil, false, nil) is an ordinary no-match.
func matchPattern(p models.Pattern, payload *models.OCRPayload) (candidate, bool, error) {
	switch pt := p.(type) {
	case nil:
		// A rule with no pattern contributes only its default value.
		return candidate{}, false, nil
	case models.RegexPattern:
		return matchRegex(pt, payload.Text)
	case models.KeywordPattern:
		return matchKeyword(pt, payload.Text)
	case models.PositionPattern:
		return matchPosition(pt, payload.Pages)
	case models.PretrainedPattern:
		return matchPretrained(pt.Name, payload.Pretrained)
	default:
		return candidate{}, false, fmt.Errorf("unhandled pattern type %T", p)
	}
}

func matchRegex(p models.RegexPattern, text string) (candidate, bool, error) {
	re, err := compileRulePattern(p.Pattern, p.Flags)
	if err != nil {
		return candidate{}, false, fmt.Errorf("invalid regex %q: %w", p.Pattern, err)
	}

	match := re.FindStringSubmatch(text)
	if match == nil {
		return candidate{}, false, nil
	}

	// Capture group if requested and present, else the whole match.
	raw := match[0]
	if p.Group > 0 && p.Group < len(match) {
		raw = match[p.Group]
	}
	if raw == "" {
		return candidate{}, false, nil
	}

	return candidate{
		value:      applyPreprocessor(raw, p.Preprocessor),
		raw:        raw,
		sourceText: match[0],
		confidence: regexConfidence,
		method:     models.MethodRegex,
	}, true, nil
}

// compileRulePattern translates the rule's flag letters into inline regex
// flags. Unknown letters are ignored.
func compileRulePattern(pattern, flags string) (*regexp.Regexp, error) {
	var inline strings.Builder
	for _, f := range []string{"i", "m", "s"} {
		if strings.Contains(flags, f) {
			inline.WriteString(f)
		}
	}
	if inline.Len() > 0 {
		pattern = "(?" + inline.String() + ")" + pattern
	}
	return regexp.Compile(pattern)
}

// matchKeyword finds the label anywhere in the text, case-insensitively,
// and returns the remainder of that line with leading separators stripped.
func matchKeyword(p models.KeywordPattern, text string) (candidate, bool, error) {
	if p.Keyword == "" {
		return candidate{}, false, nil
	}

	idx := strings.Index(strings.ToLower(text), strings.ToLower(p.Keyword))
	if idx < 0 {
		return candidate{}, false, nil
	}

	rest := text[idx+len(p.Keyword):]
	if nl := strings.IndexAny(rest, "\r\n"); nl >= 0 {
		rest = rest[:nl]
	}

	raw := strings.TrimLeft(rest, ":;= \t")
	raw = strings.TrimRight(raw, ",;: \t")
	if raw == "" {
		return candidate{}, false, nil
	}

	return candidate{
		value:      applyPreprocessor(raw, p.Preprocessor),
		raw:        raw,
		sourceText: text[idx:idx+len(p.Keyword)] + rest,
		confidence: keywordConfidence,
		method:     models.MethodKeyword,
	}, true, nil
}

// matchPosition resolves a "page:row[:col]" selector against the page
// layout. Page and row are 1-based; col addresses a whitespace-separated
// token on the line. Any out-of-range index is a no-match, not an error.
func matchPosition(p models.PositionPattern, pages []models.OCRPage) (candidate, bool, error) {
	page, row, col, err := parseSelector(p.Selector)
	if err != nil {
		return candidate{}, false, err
	}

	for _, pg := range pages {
		if pg.Number != page {
			continue
		}
		if row > len(pg.Lines) {
			return candidate{}, false, nil
		}
		line := pg.Lines[row-1]

		value := strings.TrimSpace(line.Content)
		if col > 0 {
			tokens := strings.Fields(line.Content)
			if col > len(tokens) {
				return candidate{}, false, nil
			}
			value = tokens[col-1]
		}
		if value == "" {
			return candidate{}, false, nil
		}

		return candidate{
			value:      value,
			raw:        value,
			sourceText: line.Content,
			page:       page,
			region:     line.Polygon,
			confidence: positionConfidence,
			method:     models.MethodPosition,
		}, true, nil
	}
	return candidate{}, false, nil
}

func parseSelector(sel string) (page, row, col int, err error) {
	parts := strings.Split(sel, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, 0, 0, fmt.Errorf("invalid position selector %q", sel)
	}

	page, err = strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || page < 1 {
		return 0, 0, 0, fmt.Errorf("invalid page in selector %q", sel)
	}
	row, err = strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || row < 1 {
		return 0, 0, 0, fmt.Errorf("invalid row in selector %q", sel)
	}
	if len(parts) == 3 {
		col, err = strconv.Atoi(strings.TrimSpace(parts[2]))
		if err != nil || col < 1 {
			return 0, 0, 0, fmt.Errorf("invalid column in selector %q", sel)
		}
	}
	return page, row, col, nil
}

// matchPretrained passes through a provider pre-extracted field, scaling
// its 0-1 confidence to 0-100. Lookup is exact first, then
// case-insensitive, matching provider key casing drift.
func matchPretrained(name string, pretrained map[string]models.PretrainedField) (candidate, bool, error) {
	if name == "" || len(pretrained) == 0 {
		return candidate{}, false, nil
	}

	pf, ok := pretrained[name]
	if !ok {
		for k, v := range pretrained {
			if strings.EqualFold(k, name) {
				pf, ok = v, true
				break
			}
		}
	}
	if !ok || pf.Value == "" {
		return candidate{}, false, nil
	}

	return candidate{
		value:      pf.Value,
		raw:        pf.Value,
		sourceText: pf.Value,
		confidence: int(math.Round(pf.Confidence * 100)),
		method:     models.MethodPretrained,
	}, true, nil
}

func applyPreprocessor(value, name string) string {
	switch name {
	case models.PreprocessTrim:
		return strings.TrimSpace(value)
	case models.PreprocessUppercase:
		return strings.ToUpper(value)
	case models.PreprocessLowercase:
		return strings.ToLower(value)
	default:
		return value
	}
}
