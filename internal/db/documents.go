package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// DocumentStore persists uploaded invoice files' metadata. The bytes
// themselves live in object storage under Document.ObjectPath.
type DocumentStore struct {
	pool *pgxpool.Pool
}

func NewDocumentStore(pool *pgxpool.Pool) *DocumentStore {
	return &DocumentStore{pool: pool}
}

// Create inserts a document, assigning id and received time when unset.
func (s *DocumentStore) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if doc.ReceivedAt.IsZero() {
		doc.ReceivedAt = time.Now().UTC()
	}
	if doc.Status == "" {
		doc.Status = models.DocReceived
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO documents (id, file_name, object_path, content_type, size_bytes, status, received_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		doc.ID, doc.FileName, doc.ObjectPath, doc.ContentType, doc.SizeBytes, doc.Status, doc.ReceivedAt)
	if err != nil {
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

// Get returns one document by id.
func (s *DocumentStore) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	var doc models.Document
	err := s.pool.QueryRow(ctx, `
		SELECT id, file_name, COALESCE(object_path, ''), content_type, size_bytes, status, received_at
		FROM documents WHERE id = $1`, id,
	).Scan(&doc.ID, &doc.FileName, &doc.ObjectPath, &doc.ContentType, &doc.SizeBytes, &doc.Status, &doc.ReceivedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return &doc, nil
}

// SetStatus moves a document through received/processed/completed/failed.
func (s *DocumentStore) SetStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE documents SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
