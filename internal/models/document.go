package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProcessingPath is the routing outcome for a document
type ProcessingPath string

const (
	PathAutoApprove    ProcessingPath = "AUTO_APPROVE"
	PathQuickReview    ProcessingPath = "QUICK_REVIEW"
	PathFullReview     ProcessingPath = "FULL_REVIEW"
	PathManualRequired ProcessingPath = "MANUAL_REQUIRED"
)

// QueueStatus tracks a document's journey through the review backlog
type QueueStatus string

const (
	QueuePending    QueueStatus = "PENDING"
	QueueInProgress QueueStatus = "IN_PROGRESS"
	QueueCompleted  QueueStatus = "COMPLETED"
	QueueSkipped    QueueStatus = "SKIPPED"
	QueueCancelled  QueueStatus = "CANCELLED"
)

// Forwarder identification statuses
const (
	IdentifyIdentified   = "IDENTIFIED"
	IdentifyNeedsReview  = "NEEDS_REVIEW"
	IdentifyUnidentified = "UNIDENTIFIED"
)

// Document statuses
const (
	DocReceived  = "received"
	DocProcessed = "processed"
	DocCompleted = "completed"
	DocFailed    = "failed"
)

// Document is one uploaded invoice file
type Document struct {
	ID          uuid.UUID `json:"id"`
	FileName    string    `json:"fileName"`
	ObjectPath  string    `json:"objectPath,omitempty"` // location in object storage
	ContentType string    `json:"contentType"`
	SizeBytes   int64     `json:"sizeBytes"`
	Status      string    `json:"status"`
	ReceivedAt  time.Time `json:"receivedAt"`
}

// OCRPayload is the raw extraction output handed to the mapper. Provider
// confidences are 0-1 as reported; the engine scales them to 0-100.
type OCRPayload struct {
	Provider   string                     `json:"provider"`
	Text       string                     `json:"text"`
	Pages      []OCRPage                  `json:"pages,omitempty"`
	Pretrained map[string]PretrainedField `json:"pretrainedFields,omitempty"`
	LineItems  []LineItem                 `json:"lineItems,omitempty"`
	Confidence float64                    `json:"confidence"`
}

// OCRPage is one page of structured layout
type OCRPage struct {
	Number int       `json:"number"` // 1-based
	Lines  []OCRLine `json:"lines"`
}

// OCRLine is one recognized line of text
type OCRLine struct {
	Content string    `json:"content"`
	Polygon []float64 `json:"polygon,omitempty"` // x,y pairs
}

// PretrainedField is a provider pre-extracted field value
type PretrainedField struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"` // 0-1
}

// LineItem is one invoice line as pre-extracted by the provider
type LineItem struct {
	Description string          `json:"description,omitempty"`
	ProductCode string          `json:"productCode,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unitPrice"`
	Amount      decimal.Decimal `json:"amount"`
}

// FieldMapping is the mapper's output for one standardized field.
// IsEmpty=true implies Value is empty; IsValid=false implies IsEmpty=false
// (an invalid value is still a value, just flagged).
type FieldMapping struct {
	FieldName       string     `json:"fieldName"`
	Value           string     `json:"value,omitempty"`
	RawValue        string     `json:"rawValue,omitempty"`
	SourceText      string     `json:"sourceText,omitempty"`
	SourcePage      int        `json:"sourcePage,omitempty"`
	Region          []float64  `json:"region,omitempty"`
	Confidence      int        `json:"confidence"` // 0-100
	Method          string     `json:"method,omitempty"`
	RuleID          *uuid.UUID `json:"ruleId,omitempty"`
	IsValid         bool       `json:"isValid"`
	ValidationError string     `json:"validationError,omitempty"`
	IsEmpty         bool       `json:"isEmpty"`
	EmptyReason     string     `json:"emptyReason,omitempty"`
}

// ExtractionSummary aggregates one run's mappings. Derived purely from the
// FieldMapping set, never independently mutated.
type ExtractionSummary struct {
	TotalFields       int     `json:"totalFields"`
	MappedFields      int     `json:"mappedFields"`
	UnmappedFields    int     `json:"unmappedFields"`
	ValidFields       int     `json:"validFields"`
	InvalidFields     int     `json:"invalidFields"`
	AverageConfidence float64 `json:"averageConfidence"`
}

// ConsistencyIssue is one cross-field contradiction found in a run's
// mapped values. Expected and Actual are set for arithmetic checks.
type ConsistencyIssue struct {
	Field    string  `json:"field"`
	Code     string  `json:"code"`
	Expected float64 `json:"expected,omitempty"`
	Actual   float64 `json:"actual,omitempty"`
	Message  string  `json:"message"`
}

// ComputedAmounts are the reference values the consistency checks were
// measured against.
type ComputedAmounts struct {
	ExpectedTotal  float64 `json:"expectedTotal,omitempty"`
	ChargesSum     float64 `json:"chargesSum,omitempty"`
	ImpliedTaxRate float64 `json:"impliedTaxRate,omitempty"`
}

// ConsistencyReport summarizes the cross-field checks for one run.
// Errors are hard contradictions, warnings things a reviewer should
// glance at. The report is advisory: it never changes the routing
// decision, only travels with the result.
type ConsistencyReport struct {
	Valid       bool               `json:"valid"`
	NeedsReview bool               `json:"needsReview"`
	Errors      []ConsistencyIssue `json:"errors"`
	Warnings    []ConsistencyIssue `json:"warnings"`
	Computed    ComputedAmounts    `json:"computed"`
}

// Extraction is one persisted mapping run for a document
type Extraction struct {
	ID            uuid.UUID         `json:"id"`
	DocumentID    uuid.UUID         `json:"documentId"`
	ForwarderID   *uuid.UUID        `json:"forwarderId,omitempty"`
	Provider      string            `json:"provider"`
	OCRConfidence float64           `json:"ocrConfidence"` // 0-1 as reported
	Mappings      []FieldMapping    `json:"mappings"`
	Summary       ExtractionSummary `json:"summary"`
	CreatedAt     time.Time         `json:"createdAt"`
}

// RoutingDecision is the routing engine's verdict for one document.
// Recomputing from identical inputs yields a byte-identical decision.
type RoutingDecision struct {
	DocumentID        uuid.UUID      `json:"documentId"`
	Path              ProcessingPath `json:"path"`
	Reason            string         `json:"reason"`
	OverallConfidence float64        `json:"overallConfidence"`
	LowFields         []string       `json:"lowFields,omitempty"`
	CriticalLowFields []string       `json:"criticalLowFields,omitempty"`
	Priority          int            `json:"priority"` // 0-100
	DecidedAt         time.Time      `json:"decidedAt"`
	DecidedBy         string         `json:"decidedBy"` // always "system"
}

// QueueItem is one document's position in the review backlog
type QueueItem struct {
	ID             uuid.UUID      `json:"id"`
	DocumentID     uuid.UUID      `json:"documentId"`
	Path           ProcessingPath `json:"path"`
	Priority       int            `json:"priority"`
	CriticalCount  int            `json:"criticalCount,omitempty"` // weak critical fields at decision time
	Status         QueueStatus    `json:"status"`
	Assignee       string         `json:"assignee,omitempty"`
	Reason         string         `json:"reason,omitempty"`
	EnteredAt      time.Time      `json:"enteredAt"`
	StartedAt      *time.Time     `json:"startedAt,omitempty"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	FieldsReviewed int            `json:"fieldsReviewed"`
	FieldsModified int            `json:"fieldsModified"`
}

// IdentificationResult is the forwarder matcher's verdict for one document
type IdentificationResult struct {
	ForwarderID     *uuid.UUID `json:"forwarderId,omitempty"`
	ForwarderCode   string     `json:"forwarderCode,omitempty"`
	ForwarderName   string     `json:"forwarderName,omitempty"`
	Confidence      float64    `json:"confidence"` // 0-100
	Status          string     `json:"status"`
	MatchMethod     string     `json:"matchMethod"`
	MatchedPatterns []string   `json:"matchedPatterns,omitempty"`
}

// ProcessResult is the full pipeline output for one document
type ProcessResult struct {
	Document       *Document             `json:"document"`
	Identification *IdentificationResult `json:"identification,omitempty"`
	Extraction     *Extraction           `json:"extraction"`
	Decision       *RoutingDecision      `json:"decision"`
	QueueItem      *QueueItem            `json:"queueItem,omitempty"`
	Consistency    *ConsistencyReport    `json:"consistency,omitempty"`

	// Processing metadata
	OCRDuration   float64 `json:"ocrDuration,omitempty"` // seconds
	TotalDuration float64 `json:"totalDuration"`
}
