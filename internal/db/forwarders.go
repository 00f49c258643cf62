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

// ForwarderStore persists forwarder recognition patterns.
type ForwarderStore struct {
	pool *pgxpool.Pool
}

func NewForwarderStore(pool *pgxpool.Pool) *ForwarderStore {
	return &ForwarderStore{pool: pool}
}

const forwarderColumns = `id, name, code, patterns, priority, is_active`

// List returns forwarders ordered by priority, optionally active only.
func (s *ForwarderStore) List(ctx context.Context, onlyActive bool) ([]models.Forwarder, error) {
	query := `SELECT ` + forwarderColumns + ` FROM forwarders`
	if onlyActive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY priority DESC, code`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list forwarders: %w", err)
	}
	defer rows.Close()

	var forwarders []models.Forwarder
	for rows.Next() {
		fw, err := scanForwarder(rows)
		if err != nil {
			return nil, err
		}
		forwarders = append(forwarders, *fw)
	}
	return forwarders, rows.Err()
}

// Get returns one forwarder by id.
func (s *ForwarderStore) Get(ctx context.Context, id uuid.UUID) (*models.Forwarder, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+forwarderColumns+` FROM forwarders WHERE id = $1`, id)

	fw, err := scanForwarder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get forwarder: %w", err)
	}
	return fw, nil
}

// Seed inserts the built-in carrier set, leaving existing rows alone.
// Safe to run on every startup.
func (s *ForwarderStore) Seed(ctx context.Context, forwarders []models.Forwarder) error {
	for _, fw := range forwarders {
		patterns, err := json.Marshal(fw.Patterns)
		if err != nil {
			return fmt.Errorf("encode patterns for %s: %w", fw.Code, err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO forwarders (id, name, code, patterns, priority, is_active)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING`,
			fw.ID, fw.Name, fw.Code, patterns, fw.Priority, fw.IsActive)
		if err != nil {
			return fmt.Errorf("seed forwarder %s: %w", fw.Code, err)
		}
	}
	return nil
}

func scanForwarder(row pgx.Row) (*models.Forwarder, error) {
	var fw models.Forwarder
	var patterns []byte
	err := row.Scan(&fw.ID, &fw.Name, &fw.Code, &patterns, &fw.Priority, &fw.IsActive)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(patterns, &fw.Patterns); err != nil {
		return nil, fmt.Errorf("forwarder %s has bad patterns: %w", fw.Code, err)
	}
	return &fw, nil
}
