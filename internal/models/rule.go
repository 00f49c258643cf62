package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Extraction method tags. They double as the discriminator values in the
// pattern JSON envelope and as FieldMapping.Method values.
const (
	MethodPretrained = "pretrained"
	MethodRegex      = "regex"
	MethodKeyword    = "keyword"
	MethodPosition   = "position"
	MethodDefault    = "default"
)

// Preprocessor names accepted by regex and keyword patterns. Unknown names
// are treated as a no-op.
const (
	PreprocessTrim      = "trim"
	PreprocessUppercase = "uppercase"
	PreprocessLowercase = "lowercase"
)

// Pattern is the closed set of extraction strategies a rule can carry.
// The unexported marker keeps the set closed to this package so matchers
// can switch over the concrete types exhaustively.
type Pattern interface {
	Method() string
	isPattern()
}

// RegexPattern extracts via regular expression match or capture group
type RegexPattern struct {
	Pattern      string `json:"pattern"`
	Flags        string `json:"flags,omitempty"` // "i" case-insensitive, "m" multiline
	Group        int    `json:"group,omitempty"` // 0 = whole match
	Preprocessor string `json:"preprocessor,omitempty"`
}

// KeywordPattern extracts the rest of the line after a label
type KeywordPattern struct {
	Keyword      string `json:"keyword"`
	Preprocessor string `json:"preprocessor,omitempty"`
}

// PositionPattern extracts a line (or token) addressed by "page:row[:col]"
type PositionPattern struct {
	Selector string `json:"selector"`
}

// PretrainedPattern passes through a provider pre-extracted field
type PretrainedPattern struct {
	Name string `json:"name"`
}

func (RegexPattern) Method() string      { return MethodRegex }
func (KeywordPattern) Method() string    { return MethodKeyword }
func (PositionPattern) Method() string   { return MethodPosition }
func (PretrainedPattern) Method() string { return "pretrained_field" }

func (RegexPattern) isPattern()      {}
func (KeywordPattern) isPattern()    {}
func (PositionPattern) isPattern()   {}
func (PretrainedPattern) isPattern() {}

// patternEnvelope carries the discriminator plus the union of all pattern
// fields for (un)marshaling rule pattern JSON.
type patternEnvelope struct {
	Method       string `json:"method"`
	Pattern      string `json:"pattern,omitempty"`
	Flags        string `json:"flags,omitempty"`
	Group        int    `json:"group,omitempty"`
	Preprocessor string `json:"preprocessor,omitempty"`
	Keyword      string `json:"keyword,omitempty"`
	Selector     string `json:"selector,omitempty"`
	Name         string `json:"name,omitempty"`
}

// ParsePattern decodes a pattern JSON envelope into its concrete type
func ParsePattern(data []byte) (Pattern, error) {
	var env patternEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse pattern: %w", err)
	}

	switch env.Method {
	case MethodRegex, "":
		if env.Pattern == "" {
			return nil, fmt.Errorf("regex pattern missing 'pattern'")
		}
		return RegexPattern{
			Pattern:      env.Pattern,
			Flags:        env.Flags,
			Group:        env.Group,
			Preprocessor: env.Preprocessor,
		}, nil
	case MethodKeyword:
		if env.Keyword == "" {
			return nil, fmt.Errorf("keyword pattern missing 'keyword'")
		}
		return KeywordPattern{Keyword: env.Keyword, Preprocessor: env.Preprocessor}, nil
	case MethodPosition:
		if env.Selector == "" {
			return nil, fmt.Errorf("position pattern missing 'selector'")
		}
		return PositionPattern{Selector: env.Selector}, nil
	case "pretrained_field":
		if env.Name == "" {
			return nil, fmt.Errorf("pretrained pattern missing 'name'")
		}
		return PretrainedPattern{Name: env.Name}, nil
	default:
		return nil, fmt.Errorf("unknown pattern method: %q", env.Method)
	}
}

// MarshalPattern encodes a pattern into its JSON envelope
func MarshalPattern(p Pattern) ([]byte, error) {
	env := patternEnvelope{Method: p.Method()}
	switch pt := p.(type) {
	case RegexPattern:
		env.Pattern = pt.Pattern
		env.Flags = pt.Flags
		env.Group = pt.Group
		env.Preprocessor = pt.Preprocessor
	case KeywordPattern:
		env.Keyword = pt.Keyword
		env.Preprocessor = pt.Preprocessor
	case PositionPattern:
		env.Selector = pt.Selector
	case PretrainedPattern:
		env.Name = pt.Name
	default:
		return nil, fmt.Errorf("unknown pattern type %T", p)
	}
	return json.Marshal(env)
}

// MappingRule is one extraction instruction for one standardized field.
// A nil ForwarderID means the rule is universal. Rules are operator-managed
// and soft-disabled via IsActive rather than deleted.
type MappingRule struct {
	ID                uuid.UUID  `json:"id"`
	ForwarderID       *uuid.UUID `json:"forwarderId,omitempty"`
	FieldName         string     `json:"fieldName"`
	Pattern           Pattern    `json:"pattern"`
	Priority          int        `json:"priority"`
	ValidationPattern string     `json:"validationPattern,omitempty"`
	DefaultValue      string     `json:"defaultValue,omitempty"`
	IsActive          bool       `json:"isActive"`
	CreatedAt         time.Time  `json:"createdAt"`
	UpdatedAt         *time.Time `json:"updatedAt,omitempty"`
}

// mappingRuleJSON mirrors MappingRule with the pattern held raw so the
// envelope can be decoded after the outer object.
type mappingRuleJSON struct {
	ID                uuid.UUID       `json:"id"`
	ForwarderID       *uuid.UUID      `json:"forwarderId,omitempty"`
	FieldName         string          `json:"fieldName"`
	Pattern           json.RawMessage `json:"pattern"`
	Priority          int             `json:"priority"`
	ValidationPattern string          `json:"validationPattern,omitempty"`
	DefaultValue      string          `json:"defaultValue,omitempty"`
	IsActive          bool            `json:"isActive"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         *time.Time      `json:"updatedAt,omitempty"`
}

// UnmarshalJSON decodes the rule and resolves its pattern envelope
func (r *MappingRule) UnmarshalJSON(data []byte) error {
	var raw mappingRuleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	var pattern Pattern
	if len(raw.Pattern) > 0 {
		p, err := ParsePattern(raw.Pattern)
		if err != nil {
			return err
		}
		pattern = p
	}

	*r = MappingRule{
		ID:                raw.ID,
		ForwarderID:       raw.ForwarderID,
		FieldName:         raw.FieldName,
		Pattern:           pattern,
		Priority:          raw.Priority,
		ValidationPattern: raw.ValidationPattern,
		DefaultValue:      raw.DefaultValue,
		IsActive:          raw.IsActive,
		CreatedAt:         raw.CreatedAt,
		UpdatedAt:         raw.UpdatedAt,
	}
	return nil
}

// MarshalJSON encodes the rule with its pattern envelope inline
func (r MappingRule) MarshalJSON() ([]byte, error) {
	raw := mappingRuleJSON{
		ID:                r.ID,
		ForwarderID:       r.ForwarderID,
		FieldName:         r.FieldName,
		Priority:          r.Priority,
		ValidationPattern: r.ValidationPattern,
		DefaultValue:      r.DefaultValue,
		IsActive:          r.IsActive,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
	if r.Pattern != nil {
		data, err := MarshalPattern(r.Pattern)
		if err != nil {
			return nil, err
		}
		raw.Pattern = data
	}
	return json.Marshal(raw)
}

// Forwarder is a logistics company whose invoices follow a distinct layout
type Forwarder struct {
	ID       uuid.UUID              `json:"id"`
	Name     string                 `json:"name"`
	Code     string                 `json:"code"`
	Patterns IdentificationPatterns `json:"identificationPatterns"`
	Priority int                    `json:"priority"`
	IsActive bool                   `json:"isActive"`
}

// IdentificationPatterns describe how a forwarder is recognized in OCR text
type IdentificationPatterns struct {
	Names    []string `json:"names,omitempty"`    // company name variants
	Keywords []string `json:"keywords,omitempty"` // distinctive phrases
	Formats  []string `json:"formats,omitempty"`  // tracking/reference regexes
	LogoText []string `json:"logoText,omitempty"` // text near the logo
}
