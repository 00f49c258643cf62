package mapper

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freightflow/invoice-mapping-service/internal/fields"
)

// Date shapes tried in order. Shapes are searched inside the raw value so
// a date embedded in surrounding text still normalizes. Two-digit pairs
// are read month-first for the slash and dash forms and day-first for the
// dotted (European) form.
var dateShapes = []struct {
	re     *regexp.Regexp
	layout string
}{
	{regexp.MustCompile(`\d{4}-\d{2}-\d{2}`), "2006-01-02"},
	{regexp.MustCompile(`\d{2}/\d{2}/\d{4}`), "01/02/2006"},
	{regexp.MustCompile(`\d{2}-\d{2}-\d{4}`), "01-02-2006"},
	{regexp.MustCompile(`\d{2}\.\d{2}\.\d{4}`), "02.01.2006"},
}

// textualDateRe handles "18 Dec 2024" and "18 December 2024" forms.
var textualDateRe = regexp.MustCompile(`(?i)(\d{1,2})\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\s+(\d{4})`)

var monthNumbers = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var (
	nonAmountRe   = regexp.MustCompile(`[^\d.,\-]`)
	weightUnitRe  = regexp.MustCompile(`(?i)(kg|kgs|lb|lbs|g|gram|grams)\.?`)
	weightValueRe = regexp.MustCompile(`[\d.,]+`)
	multiSpaceRe  = regexp.MustCompile(`\s+`)
)

// normalizeValue standardizes a raw extraction by the field's value
// class. Dates become YYYY-MM-DD, amounts and weights two-decimal
// numbers. A value the class normalizer cannot parse passes through
// unchanged; plain text fields get whitespace collapsed.
func normalizeValue(field, value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return value
	}

	switch fields.ClassOf(field) {
	case fields.ClassDate:
		if v, ok := normalizeDate(value); ok {
			return v
		}
		return value
	case fields.ClassAmount:
		if v, ok := normalizeAmount(value); ok {
			return v
		}
		return value
	case fields.ClassWeight:
		if v, ok := normalizeWeight(value); ok {
			return v
		}
		return value
	default:
		return multiSpaceRe.ReplaceAllString(value, " ")
	}
}

func normalizeDate(value string) (string, bool) {
	for _, shape := range dateShapes {
		m := shape.re.FindString(value)
		if m == "" {
			continue
		}
		t, err := time.Parse(shape.layout, m)
		if err != nil {
			continue
		}
		return t.Format("2006-01-02"), true
	}

	if m := textualDateRe.FindStringSubmatch(value); m != nil {
		day, _ := strconv.Atoi(m[1])
		month := monthNumbers[strings.ToLower(m[2])]
		year, _ := strconv.Atoi(m[3])
		candidate := fmt.Sprintf("%04d-%02d-%02d", year, month, day)
		if _, err := time.Parse("2006-01-02", candidate); err == nil {
			return candidate, true
		}
	}
	return "", false
}

// normalizeAmount strips everything but digits, separators and sign, then
// disambiguates the comma. With both separators present commas are
// thousands marks; a lone comma followed by one or two digits is a
// decimal point, anything else a thousands mark.
func normalizeAmount(value string) (string, bool) {
	cleaned := nonAmountRe.ReplaceAllString(value, "")
	if cleaned == "" {
		return "", false
	}

	hasComma := strings.Contains(cleaned, ",")
	hasDot := strings.Contains(cleaned, ".")
	switch {
	case hasComma && hasDot:
		cleaned = strings.ReplaceAll(cleaned, ",", "")
	case hasComma:
		parts := strings.Split(cleaned, ",")
		if len(parts) == 2 && len(parts[1]) >= 1 && len(parts[1]) <= 2 {
			cleaned = parts[0] + "." + parts[1]
		} else {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
	}

	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return "", false
	}
	return d.StringFixed(2), true
}

func normalizeWeight(value string) (string, bool) {
	stripped := weightUnitRe.ReplaceAllString(value, "")
	num := weightValueRe.FindString(stripped)
	if num == "" {
		return "", false
	}
	return normalizeAmount(num)
}
