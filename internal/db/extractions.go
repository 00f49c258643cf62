package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// ExtractionRecord is one persisted pipeline run: the extraction itself,
// the identification verdict and routing decision made from it, and the
// OCR payload the mappings came from. Keeping the payload lets a later
// run re-map against improved rules without paying for OCR again.
type ExtractionRecord struct {
	Extraction     models.Extraction            `json:"extraction"`
	Payload        *models.OCRPayload           `json:"payload,omitempty"`
	Identification *models.IdentificationResult `json:"identification,omitempty"`
	Decision       models.RoutingDecision       `json:"decision"`
}

// ExtractionStore persists extraction runs. Mappings, summary,
// identification and decision are jsonb; overall confidence and path
// are real columns so the remap cutoff query and stats stay indexable.
type ExtractionStore struct {
	pool *pgxpool.Pool
}

func NewExtractionStore(pool *pgxpool.Pool) *ExtractionStore {
	return &ExtractionStore{pool: pool}
}

const extractionColumns = `id, document_id, forwarder_id, provider, ocr_confidence,
	payload, mappings, summary, identification, decision, created_at`

// Save inserts one run, assigning the extraction id when unset.
func (s *ExtractionStore) Save(ctx context.Context, rec *ExtractionRecord) error {
	if rec.Extraction.ID == uuid.Nil {
		rec.Extraction.ID = uuid.New()
	}

	mappings, err := json.Marshal(rec.Extraction.Mappings)
	if err != nil {
		return fmt.Errorf("encode mappings: %w", err)
	}
	summary, err := json.Marshal(rec.Extraction.Summary)
	if err != nil {
		return fmt.Errorf("encode summary: %w", err)
	}
	var payload []byte
	if rec.Payload != nil {
		payload, err = json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("encode payload: %w", err)
		}
	}
	var identification []byte
	if rec.Identification != nil {
		identification, err = json.Marshal(rec.Identification)
		if err != nil {
			return fmt.Errorf("encode identification: %w", err)
		}
	}
	decision, err := json.Marshal(rec.Decision)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}

	err = s.pool.QueryRow(ctx, `
		INSERT INTO extractions (
			id, document_id, forwarder_id, provider, ocr_confidence,
			payload, mappings, summary, identification, decision,
			overall_confidence, path
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at`,
		rec.Extraction.ID, rec.Extraction.DocumentID, rec.Extraction.ForwarderID,
		rec.Extraction.Provider, rec.Extraction.OCRConfidence,
		payload, mappings, summary, identification, decision,
		rec.Decision.OverallConfidence, string(rec.Decision.Path),
	).Scan(&rec.Extraction.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert extraction: %w", err)
	}
	return nil
}

// Get returns one run by extraction id.
func (s *ExtractionStore) Get(ctx context.Context, id uuid.UUID) (*ExtractionRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+extractionColumns+` FROM extractions WHERE id = $1`, id)

	rec, err := scanExtraction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get extraction: %w", err)
	}
	return rec, nil
}

// GetByDocument returns a document's most recent run.
func (s *ExtractionStore) GetByDocument(ctx context.Context, documentID uuid.UUID) (*ExtractionRecord, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+extractionColumns+` FROM extractions
		WHERE document_id = $1
		ORDER BY created_at DESC
		LIMIT 1`, documentID)

	rec, err := scanExtraction(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get extraction by document: %w", err)
	}
	return rec, nil
}

// ListLowConfidence returns each document's latest run below the cutoff,
// oldest first, for batch re-mapping.
func (s *ExtractionStore) ListLowConfidence(ctx context.Context, cutoff float64, limit int) ([]ExtractionRecord, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT ON (document_id) `+extractionColumns+`
		FROM extractions
		WHERE overall_confidence < $1
		ORDER BY document_id, created_at DESC
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list low-confidence extractions: %w", err)
	}
	defer rows.Close()

	var records []ExtractionRecord
	for rows.Next() {
		rec, err := scanExtraction(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// UpdateDecision replaces a run's routing decision after a re-route.
func (s *ExtractionStore) UpdateDecision(ctx context.Context, id uuid.UUID, decision models.RoutingDecision) error {
	encoded, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("encode decision: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE extractions SET decision = $2, overall_confidence = $3, path = $4 WHERE id = $1`,
		id, encoded, decision.OverallConfidence, string(decision.Path))
	if err != nil {
		return fmt.Errorf("update decision: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanExtraction(row pgx.Row) (*ExtractionRecord, error) {
	var rec ExtractionRecord
	var payload, mappings, summary, identification, decision []byte
	err := row.Scan(
		&rec.Extraction.ID, &rec.Extraction.DocumentID, &rec.Extraction.ForwarderID,
		&rec.Extraction.Provider, &rec.Extraction.OCRConfidence,
		&payload, &mappings, &summary, &identification, &decision,
		&rec.Extraction.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(mappings, &rec.Extraction.Mappings); err != nil {
		return nil, fmt.Errorf("extraction %s has bad mappings: %w", rec.Extraction.ID, err)
	}
	if err := json.Unmarshal(summary, &rec.Extraction.Summary); err != nil {
		return nil, fmt.Errorf("extraction %s has a bad summary: %w", rec.Extraction.ID, err)
	}
	if len(payload) > 0 {
		rec.Payload = &models.OCRPayload{}
		if err := json.Unmarshal(payload, rec.Payload); err != nil {
			return nil, fmt.Errorf("extraction %s has a bad payload: %w", rec.Extraction.ID, err)
		}
	}
	if len(identification) > 0 {
		rec.Identification = &models.IdentificationResult{}
		if err := json.Unmarshal(identification, rec.Identification); err != nil {
			return nil, fmt.Errorf("extraction %s has a bad identification: %w", rec.Extraction.ID, err)
		}
	}
	if err := json.Unmarshal(decision, &rec.Decision); err != nil {
		return nil, fmt.Errorf("extraction %s has a bad decision: %w", rec.Extraction.ID, err)
	}
	return &rec, nil
}
