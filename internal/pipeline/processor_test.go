package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/freightflow/invoice-mapping-service/internal/db"
	"github.com/freightflow/invoice-mapping-service/internal/models"
	"github.com/freightflow/invoice-mapping-service/internal/ocr"
	"github.com/freightflow/invoice-mapping-service/internal/queue"
)

type stubProvider struct {
	mu      sync.Mutex
	payload models.OCRPayload
	err     error
	calls   int
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Extract(_ context.Context, _ []byte, _ string) (*models.OCRPayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	cp := s.payload
	return &cp, nil
}

func (s *stubProvider) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type memDocs struct {
	mu   sync.Mutex
	docs map[uuid.UUID]models.Document
}

func newMemDocs() *memDocs {
	return &memDocs{docs: make(map[uuid.UUID]models.Document)}
}

func (m *memDocs) Create(_ context.Context, doc *models.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[doc.ID] = *doc
	return nil
}

func (m *memDocs) Get(_ context.Context, id uuid.UUID) (*models.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := doc
	return &cp, nil
}

func (m *memDocs) SetStatus(_ context.Context, id uuid.UUID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return db.ErrNotFound
	}
	doc.Status = status
	m.docs[id] = doc
	return nil
}

type memExtractions struct {
	mu      sync.Mutex
	records map[uuid.UUID]*db.ExtractionRecord
	saves   int
	updates int
}

func newMemExtractions() *memExtractions {
	return &memExtractions{records: make(map[uuid.UUID]*db.ExtractionRecord)}
}

func (m *memExtractions) Save(_ context.Context, rec *db.ExtractionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.Extraction.ID == uuid.Nil {
		rec.Extraction.ID = uuid.New()
	}
	cp := *rec
	m.records[rec.Extraction.ID] = &cp
	m.saves++
	return nil
}

func (m *memExtractions) Get(_ context.Context, id uuid.UUID) (*db.ExtractionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (m *memExtractions) UpdateDecision(_ context.Context, id uuid.UUID, decision models.RoutingDecision) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return db.ErrNotFound
	}
	rec.Decision = decision
	m.updates++
	return nil
}

func (m *memExtractions) counts() (saves, updates int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves, m.updates
}

// staticRules hands back whatever is set, ignoring the forwarder filter.
type staticRules struct {
	mu    sync.Mutex
	rules []models.MappingRule
}

func (s *staticRules) ListForForwarder(context.Context, *uuid.UUID) ([]models.MappingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.MappingRule(nil), s.rules...), nil
}

func (s *staticRules) set(rules ...models.MappingRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
}

type memArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
	fail    bool
}

func newMemArchive() *memArchive {
	return &memArchive{objects: make(map[string][]byte)}
}

func (a *memArchive) Upload(_ context.Context, doc *models.Document, content []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return "", fmt.Errorf("bucket offline")
	}
	path := "2024/05/" + doc.ID.String() + ".pdf"
	a.objects[path] = content
	return path, nil
}

func (a *memArchive) Fetch(_ context.Context, objectPath string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	content, ok := a.objects[objectPath]
	if !ok {
		return nil, fmt.Errorf("no such object %s", objectPath)
	}
	return content, nil
}

const dhlInvoiceText = "DHL Express\nAir Waybill No: 1234567890\nService: express worldwide\nShipper: Acme Freight GmbH"

func dhlPayload(conf float64) models.OCRPayload {
	return models.OCRPayload{
		Text:       dhlInvoiceText,
		Confidence: conf,
		Pretrained: map[string]models.PretrainedField{
			"InvoiceId":    {Value: "INV-2024-0042", Confidence: 0.95},
			"InvoiceDate":  {Value: "2024-03-15", Confidence: 0.95},
			"InvoiceTotal": {Value: "1234.56", Confidence: 0.95},
			"CurrencyCode": {Value: "USD", Confidence: 0.95},
		},
	}
}

func shipperRule() models.MappingRule {
	return models.MappingRule{
		ID:        uuid.New(),
		FieldName: "shipperName",
		Pattern:   models.KeywordPattern{Keyword: "Shipper"},
		Priority:  10,
		IsActive:  true,
	}
}

type testEnv struct {
	processor   *Processor
	provider    *stubProvider
	docs        *memDocs
	rules       *staticRules
	extractions *memExtractions
	queueStore  *queue.MemStore
	archive     *memArchive
}

func newTestEnv(t *testing.T, payload models.OCRPayload, rules ...models.MappingRule) *testEnv {
	t.Helper()

	env := &testEnv{
		provider:    &stubProvider{payload: payload},
		docs:        newMemDocs(),
		rules:       &staticRules{},
		extractions: newMemExtractions(),
		queueStore:  queue.NewMemStore(),
		archive:     newMemArchive(),
	}
	env.rules.set(rules...)

	ocrProc := ocr.NewProcessor(env.provider, models.OCRConfig{
		MaxRetries:     1,
		TimeoutSeconds: 5,
		MaxFileSizeMB:  1,
	}, nil)

	proc, err := New(models.DefaultConfig(), Deps{
		OCR:         ocrProc,
		Documents:   env.docs,
		Rules:       env.rules,
		Extractions: env.extractions,
		Queue:       queue.NewManager(env.queueStore, nil),
		Archive:     env.archive,
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	env.processor = proc
	return env
}

func mappingsByField(mappings []models.FieldMapping) map[string]models.FieldMapping {
	out := make(map[string]models.FieldMapping, len(mappings))
	for _, fm := range mappings {
		out[fm.FieldName] = fm
	}
	return out
}

func TestProcessEndToEnd(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, dhlPayload(0.9), shipperRule())

	doc := &models.Document{FileName: "invoice.pdf", ContentType: "application/pdf"}
	res, err := env.processor.Process(context.Background(), doc, []byte("%PDF-1.4 test"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if res.Identification == nil || res.Identification.ForwarderCode != "DHL" {
		t.Fatalf("identification = %+v, want DHL", res.Identification)
	}
	if res.Decision.Path != models.PathQuickReview {
		t.Errorf("path = %s (overall %.2f), want %s",
			res.Decision.Path, res.Decision.OverallConfidence, models.PathQuickReview)
	}
	if res.Decision.OverallConfidence < 80 || res.Decision.OverallConfidence >= 95 {
		t.Errorf("overall = %.2f, want within the quick-review band", res.Decision.OverallConfidence)
	}

	byField := mappingsByField(res.Extraction.Mappings)
	if got := byField["invoiceNumber"]; got.Value != "INV-2024-0042" || got.Method != models.MethodPretrained {
		t.Errorf("invoiceNumber = %+v, want pretrained INV-2024-0042", got)
	}
	if got := byField["shipperName"]; got.Value != "Acme Freight GmbH" || got.RuleID == nil {
		t.Errorf("shipperName = %+v, want rule-sourced Acme Freight GmbH", got)
	}

	if res.Consistency == nil || !res.Consistency.Valid {
		t.Errorf("consistency = %+v, want a clean report", res.Consistency)
	}

	if res.QueueItem == nil {
		t.Fatal("expected a queue item for a quick-review document")
	}
	if res.QueueItem.Status != models.QueuePending {
		t.Errorf("queue status = %s, want %s", res.QueueItem.Status, models.QueuePending)
	}
	if res.QueueItem.Priority != res.Decision.Priority {
		t.Errorf("queue priority = %d, decision priority = %d", res.QueueItem.Priority, res.Decision.Priority)
	}

	stored, err := env.docs.Get(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("document not stored: %v", err)
	}
	if stored.Status != models.DocProcessed {
		t.Errorf("document status = %s, want %s", stored.Status, models.DocProcessed)
	}
	if stored.ObjectPath == "" {
		t.Error("document was not archived")
	}

	saves, _ := env.extractions.counts()
	if saves != 1 {
		t.Fatalf("extraction saves = %d, want 1", saves)
	}
	rec, err := env.extractions.Get(context.Background(), res.Extraction.ID)
	if err != nil {
		t.Fatalf("saved extraction not found: %v", err)
	}
	if rec.Payload == nil {
		t.Error("saved extraction is missing its OCR payload")
	}
	if res.TotalDuration < res.OCRDuration {
		t.Errorf("total %.3fs shorter than OCR %.3fs", res.TotalDuration, res.OCRDuration)
	}
}

func TestProcessAutoApproveSkipsQueue(t *testing.T) {
	t.Parallel()
	payload := dhlPayload(1.0)
	for name, pf := range payload.Pretrained {
		pf.Confidence = 1.0
		payload.Pretrained[name] = pf
	}
	env := newTestEnv(t, payload)

	doc := &models.Document{FileName: "clean.pdf", ContentType: "application/pdf"}
	res, err := env.processor.Process(context.Background(), doc, []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if res.Decision.Path != models.PathAutoApprove {
		t.Fatalf("path = %s (overall %.2f), want %s",
			res.Decision.Path, res.Decision.OverallConfidence, models.PathAutoApprove)
	}
	if res.QueueItem != nil {
		t.Errorf("queue item = %+v, want none for auto-approval", res.QueueItem)
	}
	items, err := env.queueStore.List(context.Background(), queue.Filter{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("queue holds %d items, want 0", len(items))
	}

	stored, _ := env.docs.Get(context.Background(), doc.ID)
	if stored.Status != models.DocCompleted {
		t.Errorf("document status = %s, want %s", stored.Status, models.DocCompleted)
	}
}

func TestProcessOCRFailureMarksDocumentFailed(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, models.OCRPayload{})
	env.provider.err = errors.New("bad request: invalid input")

	doc := &models.Document{FileName: "broken.pdf", ContentType: "application/pdf"}
	_, err := env.processor.Process(context.Background(), doc, []byte("%PDF-1.4"))
	if err == nil {
		t.Fatal("expected an error when OCR fails")
	}

	stored, getErr := env.docs.Get(context.Background(), doc.ID)
	if getErr != nil {
		t.Fatalf("document not stored: %v", getErr)
	}
	if stored.Status != models.DocFailed {
		t.Errorf("document status = %s, want %s", stored.Status, models.DocFailed)
	}
	saves, _ := env.extractions.counts()
	if saves != 0 {
		t.Errorf("extraction saves = %d, want 0 after a failed run", saves)
	}
}

func TestProcessCarriesOnWhenArchiveFails(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, dhlPayload(0.9))
	env.archive.fail = true

	doc := &models.Document{FileName: "invoice.pdf", ContentType: "application/pdf"}
	res, err := env.processor.Process(context.Background(), doc, []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if doc.ObjectPath != "" {
		t.Errorf("object path = %q, want empty after an archive failure", doc.ObjectPath)
	}
	saves, _ := env.extractions.counts()
	if saves != 1 {
		t.Errorf("extraction saves = %d, want 1", saves)
	}
	if res.Decision == nil {
		t.Fatal("expected a routing decision")
	}
}

func TestProcessWithoutPersistence(t *testing.T) {
	t.Parallel()
	provider := &stubProvider{payload: dhlPayload(0.9)}
	ocrProc := ocr.NewProcessor(provider, models.OCRConfig{MaxRetries: 1, TimeoutSeconds: 5, MaxFileSizeMB: 1}, nil)

	proc, err := New(models.DefaultConfig(), Deps{
		OCR:   ocrProc,
		Queue: queue.NewManager(queue.NewMemStore(), nil),
	}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	doc := &models.Document{FileName: "invoice.pdf", ContentType: "application/pdf"}
	res, err := proc.Process(context.Background(), doc, []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Extraction.ID == uuid.Nil {
		t.Error("extraction has no id")
	}
	if res.QueueItem == nil {
		t.Error("expected a queue item even without a database")
	}
	if res.Document.Status != models.DocProcessed {
		t.Errorf("document status = %s, want %s", res.Document.Status, models.DocProcessed)
	}
}

func TestReprocessRunsFromArchive(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, dhlPayload(0.9), shipperRule())

	doc := &models.Document{FileName: "invoice.pdf", ContentType: "application/pdf"}
	first, err := env.processor.Process(context.Background(), doc, []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	second, err := env.processor.Reprocess(context.Background(), doc.ID)
	if err != nil {
		t.Fatalf("Reprocess: %v", err)
	}
	if env.provider.callCount() != 2 {
		t.Errorf("provider calls = %d, want 2", env.provider.callCount())
	}
	if second.Extraction.ID == first.Extraction.ID {
		t.Error("reprocessing reused the first extraction id")
	}
	saves, _ := env.extractions.counts()
	if saves != 2 {
		t.Errorf("extraction saves = %d, want 2", saves)
	}
}

func TestReprocessWithoutArchivedCopy(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, dhlPayload(0.9))

	doc := &models.Document{ID: uuid.New(), FileName: "lost.pdf", ContentType: "application/pdf"}
	if err := env.docs.Create(context.Background(), doc); err != nil {
		t.Fatalf("Create: %v", err)
	}

	_, err := env.processor.Reprocess(context.Background(), doc.ID)
	if err == nil {
		t.Fatal("expected an error for a document with no archived copy")
	}
}

func TestRerouteRemapsStoredPayload(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, dhlPayload(0.9))

	doc := &models.Document{FileName: "invoice.pdf", ContentType: "application/pdf"}
	first, err := env.processor.Process(context.Background(), doc, []byte("%PDF-1.4"))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if fm := mappingsByField(first.Extraction.Mappings)["shipperName"]; !fm.IsEmpty {
		t.Fatalf("shipperName = %+v, want empty before the rule exists", fm)
	}

	// An operator adds the missing rule; re-routing picks it up without
	// another OCR call.
	env.rules.set(shipperRule())

	res, err := env.processor.Reroute(context.Background(), first.Extraction.ID)
	if err != nil {
		t.Fatalf("Reroute: %v", err)
	}
	if env.provider.callCount() != 1 {
		t.Errorf("provider calls = %d, want 1 (no OCR on reroute)", env.provider.callCount())
	}
	if res.Extraction.ID == first.Extraction.ID {
		t.Error("re-mapped run reused the original extraction id")
	}
	if fm := mappingsByField(res.Extraction.Mappings)["shipperName"]; fm.Value != "Acme Freight GmbH" {
		t.Errorf("shipperName = %+v, want Acme Freight GmbH from the new rule", fm)
	}
	saves, updates := env.extractions.counts()
	if saves != 2 || updates != 0 {
		t.Errorf("saves = %d, updates = %d, want a fresh run saved", saves, updates)
	}
	if res.QueueItem == nil {
		t.Error("expected the queue entry to be reconciled")
	}
}

func TestRerouteWithoutPayloadRewritesDecision(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, dhlPayload(0.9))

	rec := &db.ExtractionRecord{
		Extraction: models.Extraction{
			ID:            uuid.New(),
			DocumentID:    uuid.New(),
			Provider:      "stub",
			OCRConfidence: 0.9,
			Mappings: []models.FieldMapping{
				{FieldName: "invoiceNumber", Value: "INV-1", Confidence: 60, IsValid: true},
				{FieldName: "totalAmount", Value: "10.00", Confidence: 58, IsValid: true},
			},
			CreatedAt: time.Now().UTC().Add(-time.Hour),
		},
		Decision: models.RoutingDecision{Path: models.PathFullReview},
	}
	if err := env.extractions.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}

	res, err := env.processor.Reroute(context.Background(), rec.Extraction.ID)
	if err != nil {
		t.Fatalf("Reroute: %v", err)
	}
	if res.Decision.OverallConfidence != 59 {
		t.Errorf("overall = %.2f, want 59 from the stored field scores", res.Decision.OverallConfidence)
	}
	if res.Decision.Path != models.PathFullReview {
		t.Errorf("path = %s, want %s", res.Decision.Path, models.PathFullReview)
	}
	saves, updates := env.extractions.counts()
	if saves != 1 || updates != 1 {
		t.Errorf("saves = %d, updates = %d, want the stored decision rewritten in place", saves, updates)
	}
	if res.QueueItem == nil || res.QueueItem.Path != models.PathFullReview {
		t.Errorf("queue item = %+v, want a pending full-review entry", res.QueueItem)
	}
}

func TestRerouteUnknownExtraction(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, dhlPayload(0.9))

	_, err := env.processor.Reroute(context.Background(), uuid.New())
	if !errors.Is(err, db.ErrNotFound) {
		t.Fatalf("err = %v, want db.ErrNotFound", err)
	}
}
