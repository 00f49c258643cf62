// Package pipeline runs one document through the full extraction flow:
// archive, OCR, forwarder identification, rule mapping, confidence
// scoring, routing and queueing, persisted as one extraction run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/freightflow/invoice-mapping-service/internal/confidence"
	"github.com/freightflow/invoice-mapping-service/internal/db"
	"github.com/freightflow/invoice-mapping-service/internal/identify"
	"github.com/freightflow/invoice-mapping-service/internal/mapper"
	"github.com/freightflow/invoice-mapping-service/internal/models"
	"github.com/freightflow/invoice-mapping-service/internal/ocr"
	"github.com/freightflow/invoice-mapping-service/internal/queue"
	"github.com/freightflow/invoice-mapping-service/internal/routing"
	"github.com/freightflow/invoice-mapping-service/internal/validate"
)

// DocumentStore is the document persistence the pipeline needs.
type DocumentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	Get(ctx context.Context, id uuid.UUID) (*models.Document, error)
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
}

// ForwarderSource lists the forwarders available for identification.
type ForwarderSource interface {
	List(ctx context.Context, onlyActive bool) ([]models.Forwarder, error)
}

// RuleSource yields the active rules visible to one forwarder. A nil
// forwarder id means only universal rules apply.
type RuleSource interface {
	ListForForwarder(ctx context.Context, forwarderID *uuid.UUID) ([]models.MappingRule, error)
}

// ExtractionStore persists runs and serves them back for re-routing.
type ExtractionStore interface {
	Save(ctx context.Context, rec *db.ExtractionRecord) error
	Get(ctx context.Context, id uuid.UUID) (*db.ExtractionRecord, error)
	UpdateDecision(ctx context.Context, id uuid.UUID, decision models.RoutingDecision) error
}

// Archive stores original documents for later reprocessing.
type Archive interface {
	Upload(ctx context.Context, doc *models.Document, content []byte) (string, error)
	Fetch(ctx context.Context, objectPath string) ([]byte, error)
}

// Deps are the pipeline's collaborators. Queue is required; OCR is
// needed only to process or reprocess raw documents, so tools that
// work on stored payloads can leave it nil. Nil stores degrade
// gracefully (no persistence, built-in forwarders, no archive), which
// keeps the service useful without a database.
type Deps struct {
	OCR         *ocr.Processor
	Documents   DocumentStore
	Forwarders  ForwarderSource
	Rules       RuleSource
	Extractions ExtractionStore
	Queue       *queue.Manager
	Archive     Archive
}

// Processor orchestrates document runs. One run is synchronous; separate
// documents can run concurrently since all shared inputs are read-only.
type Processor struct {
	ocr         *ocr.Processor
	mapper      *mapper.Mapper
	aggregator  *confidence.Aggregator
	router      *routing.Engine
	checker     *validate.Checker
	identifyCfg models.IdentifyConfig

	documents   DocumentStore
	forwarders  ForwarderSource
	rules       RuleSource
	extractions ExtractionStore
	queue       *queue.Manager
	archive     Archive

	logger *slog.Logger
	now    func() time.Time
}

func New(cfg *models.Config, deps Deps, logger *slog.Logger) (*Processor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Queue == nil {
		return nil, fmt.Errorf("a queue manager is required")
	}
	agg, err := confidence.New(cfg.Confidence)
	if err != nil {
		return nil, fmt.Errorf("bad confidence config: %w", err)
	}

	return &Processor{
		ocr:         deps.OCR,
		mapper:      mapper.New(logger),
		aggregator:  agg,
		router:      routing.New(cfg.Routing),
		checker:     validate.New(),
		identifyCfg: cfg.Identify,
		documents:   deps.Documents,
		forwarders:  deps.Forwarders,
		rules:       deps.Rules,
		extractions: deps.Extractions,
		queue:       deps.Queue,
		archive:     deps.Archive,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// Process runs a freshly received document end to end. The document row
// and archived copy are written before OCR starts, so a failed run can
// always be reprocessed later.
func (p *Processor) Process(ctx context.Context, doc *models.Document, content []byte) (*models.ProcessResult, error) {
	if doc == nil {
		return nil, fmt.Errorf("a document is required")
	}
	if p.ocr == nil {
		return nil, fmt.Errorf("no OCR processor configured")
	}
	start := p.now()

	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.ReceivedAt.IsZero() {
		doc.ReceivedAt = start.UTC()
	}
	if doc.Status == "" {
		doc.Status = models.DocReceived
	}
	if doc.SizeBytes == 0 {
		doc.SizeBytes = int64(len(content))
	}

	if p.archive != nil && doc.ObjectPath == "" {
		path, err := p.archive.Upload(ctx, doc, content)
		if err != nil {
			// Processing continues on the in-hand bytes; only the
			// ability to reprocess this document later is lost.
			p.logger.Warn("pipeline.archive.failed", "document_id", doc.ID, "error", err)
		} else {
			doc.ObjectPath = path
		}
	}
	if p.documents != nil {
		if err := p.documents.Create(ctx, doc); err != nil {
			return nil, fmt.Errorf("failed to store document: %w", err)
		}
	}

	return p.run(ctx, doc, content, start)
}

// Reprocess fetches a document's archived copy and runs it again,
// producing a fresh extraction run alongside the old ones.
func (p *Processor) Reprocess(ctx context.Context, docID uuid.UUID) (*models.ProcessResult, error) {
	if p.ocr == nil {
		return nil, fmt.Errorf("no OCR processor configured")
	}
	if p.documents == nil {
		return nil, fmt.Errorf("reprocessing requires a database")
	}
	if p.archive == nil {
		return nil, fmt.Errorf("reprocessing requires the document archive")
	}

	doc, err := p.documents.Get(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.ObjectPath == "" {
		return nil, fmt.Errorf("document %s has no archived copy", docID)
	}
	content, err := p.archive.Fetch(ctx, doc.ObjectPath)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch archived document: %w", err)
	}

	return p.run(ctx, doc, content, p.now())
}

func (p *Processor) run(ctx context.Context, doc *models.Document, content []byte, start time.Time) (*models.ProcessResult, error) {
	p.logger.Info("pipeline.run.start",
		"document_id", doc.ID,
		"file", doc.FileName,
		"size", len(content))

	ocrStart := p.now()
	payload, err := p.ocr.Process(ctx, doc.ID, content, doc.ContentType)
	if err != nil {
		p.fail(ctx, doc)
		return nil, fmt.Errorf("ocr failed: %w", err)
	}
	ocrDuration := p.now().Sub(ocrStart)
	p.logger.Info("pipeline.ocr.ok",
		"document_id", doc.ID,
		"provider", payload.Provider,
		"confidence", payload.Confidence,
		"duration_ms", ocrDuration.Milliseconds())

	ident, err := p.identifyForwarder(ctx, payload.Text)
	if err != nil {
		p.fail(ctx, doc)
		return nil, err
	}
	p.logger.Info("pipeline.identify.done",
		"document_id", doc.ID,
		"status", ident.Status,
		"forwarder", ident.ForwarderCode,
		"confidence", ident.Confidence)

	rules, err := p.loadRules(ctx, ident.ForwarderID)
	if err != nil {
		p.fail(ctx, doc)
		return nil, err
	}

	mappings, _, err := p.mapper.MapFields(payload, rules)
	if err != nil {
		p.fail(ctx, doc)
		return nil, fmt.Errorf("mapping failed: %w", err)
	}

	scored, err := p.aggregator.Apply(mappings, payload.Confidence*100, nil)
	if err != nil {
		p.fail(ctx, doc)
		return nil, fmt.Errorf("scoring failed: %w", err)
	}
	summary := mapper.Summarize(mappings)
	p.logger.Info("pipeline.map.ok",
		"document_id", doc.ID,
		"mapped", summary.MappedFields,
		"unmapped", summary.UnmappedFields,
		"overall", scored.Overall)

	consistency := p.checker.Check(mappings)
	if !consistency.Valid {
		p.logger.Warn("pipeline.consistency.failed",
			"document_id", doc.ID,
			"errors", len(consistency.Errors),
			"warnings", len(consistency.Warnings))
	}

	decision, err := p.router.Decide(doc.ID, mappings, scored.Overall, p.now().Sub(doc.ReceivedAt))
	if err != nil {
		p.fail(ctx, doc)
		return nil, fmt.Errorf("routing failed: %w", err)
	}
	p.logger.Info("pipeline.route.decided",
		"document_id", doc.ID,
		"path", decision.Path,
		"overall", decision.OverallConfidence,
		"priority", decision.Priority)

	rec := &db.ExtractionRecord{
		Extraction: models.Extraction{
			ID:            uuid.New(),
			DocumentID:    doc.ID,
			ForwarderID:   ident.ForwarderID,
			Provider:      payload.Provider,
			OCRConfidence: payload.Confidence,
			Mappings:      mappings,
			Summary:       summary,
			CreatedAt:     p.now().UTC(),
		},
		Payload:        payload,
		Identification: &ident,
		Decision:       decision,
	}
	if p.extractions != nil {
		if err := p.extractions.Save(ctx, rec); err != nil {
			p.fail(ctx, doc)
			return nil, fmt.Errorf("failed to persist extraction: %w", err)
		}
	}

	item, err := p.queue.ApplyDecision(ctx, &decision)
	if err != nil {
		if !errors.Is(err, queue.ErrInProgress) {
			p.fail(ctx, doc)
			return nil, fmt.Errorf("failed to reconcile queue: %w", err)
		}
		// The reviewer keeps their in-flight item; the new decision is
		// already persisted and will win on the next transition.
		p.logger.Warn("pipeline.queue.in_progress", "document_id", doc.ID)
	}

	status := models.DocProcessed
	if decision.Path == models.PathAutoApprove {
		status = models.DocCompleted
	}
	p.setStatus(ctx, doc, status)

	total := p.now().Sub(start)
	p.logger.Info("pipeline.run.ok",
		"document_id", doc.ID,
		"path", decision.Path,
		"total_ms", total.Milliseconds())

	return &models.ProcessResult{
		Document:       doc,
		Identification: &ident,
		Extraction:     &rec.Extraction,
		Decision:       &decision,
		QueueItem:      item,
		Consistency:    consistency,
		OCRDuration:    ocrDuration.Seconds(),
		TotalDuration:  total.Seconds(),
	}, nil
}

// Reroute rebuilds a stored run's scoring and routing against the
// current configuration without re-running OCR. Runs that stored their
// OCR payload are re-mapped against the current rule catalog first and
// saved as a fresh run; older runs without one keep their mappings and
// only the decision is rewritten.
func (p *Processor) Reroute(ctx context.Context, extractionID uuid.UUID) (*models.ProcessResult, error) {
	if p.extractions == nil {
		return nil, fmt.Errorf("re-routing requires a database")
	}
	rec, err := p.extractions.Get(ctx, extractionID)
	if err != nil {
		return nil, err
	}

	start := p.now()
	var doc *models.Document
	if p.documents != nil {
		doc, err = p.documents.Get(ctx, rec.Extraction.DocumentID)
		if err != nil && !errors.Is(err, db.ErrNotFound) {
			return nil, err
		}
	}
	receivedAt := rec.Extraction.CreatedAt
	if doc != nil && !doc.ReceivedAt.IsZero() {
		receivedAt = doc.ReceivedAt
	}

	mappings := rec.Extraction.Mappings
	overall := confidence.Overall(mappings)
	remapped := false
	if rec.Payload != nil {
		rules, err := p.loadRules(ctx, rec.Extraction.ForwarderID)
		if err != nil {
			return nil, err
		}
		mappings, _, err = p.mapper.MapFields(rec.Payload, rules)
		if err != nil {
			return nil, fmt.Errorf("mapping failed: %w", err)
		}
		scored, err := p.aggregator.Apply(mappings, rec.Extraction.OCRConfidence*100, nil)
		if err != nil {
			return nil, fmt.Errorf("scoring failed: %w", err)
		}
		overall = scored.Overall
		remapped = true
	}

	decision, err := p.router.Decide(rec.Extraction.DocumentID, mappings, overall, start.Sub(receivedAt))
	if err != nil {
		return nil, fmt.Errorf("routing failed: %w", err)
	}

	if remapped {
		rec = &db.ExtractionRecord{
			Extraction: models.Extraction{
				ID:            uuid.New(),
				DocumentID:    rec.Extraction.DocumentID,
				ForwarderID:   rec.Extraction.ForwarderID,
				Provider:      rec.Extraction.Provider,
				OCRConfidence: rec.Extraction.OCRConfidence,
				Mappings:      mappings,
				Summary:       mapper.Summarize(mappings),
				CreatedAt:     p.now().UTC(),
			},
			Payload:        rec.Payload,
			Identification: rec.Identification,
			Decision:       decision,
		}
		if err := p.extractions.Save(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to persist extraction: %w", err)
		}
	} else {
		if err := p.extractions.UpdateDecision(ctx, rec.Extraction.ID, decision); err != nil {
			return nil, fmt.Errorf("failed to update decision: %w", err)
		}
		rec.Decision = decision
	}

	item, err := p.queue.ApplyDecision(ctx, &decision)
	if err != nil {
		if !errors.Is(err, queue.ErrInProgress) {
			return nil, fmt.Errorf("failed to reconcile queue: %w", err)
		}
		p.logger.Warn("pipeline.queue.in_progress", "document_id", rec.Extraction.DocumentID)
	}

	p.logger.Info("pipeline.reroute.ok",
		"document_id", rec.Extraction.DocumentID,
		"extraction_id", rec.Extraction.ID,
		"remapped", remapped,
		"path", decision.Path,
		"overall", decision.OverallConfidence)

	return &models.ProcessResult{
		Document:       doc,
		Identification: rec.Identification,
		Extraction:     &rec.Extraction,
		Decision:       &decision,
		QueueItem:      item,
		Consistency:    p.checker.Check(mappings),
		TotalDuration:  p.now().Sub(start).Seconds(),
	}, nil
}

func (p *Processor) identifyForwarder(ctx context.Context, text string) (models.IdentificationResult, error) {
	fws := identify.DefaultForwarders()
	if p.forwarders != nil {
		listed, err := p.forwarders.List(ctx, true)
		if err != nil {
			return models.IdentificationResult{}, fmt.Errorf("failed to list forwarders: %w", err)
		}
		fws = listed
	}
	matcher := identify.NewMatcher(fws, p.identifyCfg, p.logger)
	return matcher.Identify(text), nil
}

func (p *Processor) loadRules(ctx context.Context, forwarderID *uuid.UUID) ([]models.MappingRule, error) {
	if p.rules == nil {
		return nil, nil
	}
	rules, err := p.rules.ListForForwarder(ctx, forwarderID)
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping rules: %w", err)
	}
	return rules, nil
}

func (p *Processor) fail(ctx context.Context, doc *models.Document) {
	p.setStatus(ctx, doc, models.DocFailed)
}

func (p *Processor) setStatus(ctx context.Context, doc *models.Document, status string) {
	doc.Status = status
	if p.documents == nil {
		return
	}
	if err := p.documents.SetStatus(ctx, doc.ID, status); err != nil {
		p.logger.Warn("pipeline.status.update_failed",
			"document_id", doc.ID,
			"status", status,
			"error", err)
	}
}
