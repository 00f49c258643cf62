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

// RuleStore persists mapping rules. Patterns travel as their JSON
// envelope in a jsonb column and are re-validated on every read.
type RuleStore struct {
	pool *pgxpool.Pool
}

func NewRuleStore(pool *pgxpool.Pool) *RuleStore {
	return &RuleStore{pool: pool}
}

const ruleColumns = `id, forwarder_id, field_name, pattern, priority,
	COALESCE(validation_pattern, ''), COALESCE(default_value, ''),
	is_active, created_at, updated_at`

// List returns rules ordered by priority, optionally active ones only.
func (s *RuleStore) List(ctx context.Context, onlyActive bool) ([]models.MappingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM mapping_rules`
	if onlyActive {
		query += ` WHERE is_active`
	}
	query += ` ORDER BY priority DESC, id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

// ListForForwarder returns the active rule set for one document run:
// universal rules plus the identified forwarder's own.
func (s *RuleStore) ListForForwarder(ctx context.Context, forwarderID *uuid.UUID) ([]models.MappingRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM mapping_rules
		WHERE is_active AND (forwarder_id IS NULL OR forwarder_id = $1)
		ORDER BY priority DESC, id`

	rows, err := s.pool.Query(ctx, query, forwarderID)
	if err != nil {
		return nil, fmt.Errorf("list rules for forwarder: %w", err)
	}
	defer rows.Close()

	return scanRules(rows)
}

// Get returns one rule by id.
func (s *RuleStore) Get(ctx context.Context, id uuid.UUID) (*models.MappingRule, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ruleColumns+` FROM mapping_rules WHERE id = $1`, id)

	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

// Create inserts a rule, assigning an id when the caller left it zero.
func (s *RuleStore) Create(ctx context.Context, rule *models.MappingRule) error {
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}

	// Default-only rules have no pattern; the column stays NULL.
	var pattern []byte
	if rule.Pattern != nil {
		var err error
		pattern, err = models.MarshalPattern(rule.Pattern)
		if err != nil {
			return fmt.Errorf("encode rule pattern: %w", err)
		}
	}

	err := s.pool.QueryRow(ctx, `
		INSERT INTO mapping_rules (
			id, forwarder_id, field_name, pattern, priority,
			validation_pattern, default_value, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		rule.ID, rule.ForwarderID, rule.FieldName, pattern, rule.Priority,
		rule.ValidationPattern, rule.DefaultValue, rule.IsActive,
	).Scan(&rule.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// Deactivate soft-disables a rule; rules are never hard-deleted so past
// extractions keep a resolvable rule id.
func (s *RuleStore) Deactivate(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE mapping_rules SET is_active = FALSE, updated_at = $2 WHERE id = $1`,
		id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("deactivate rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanRules(rows pgx.Rows) ([]models.MappingRule, error) {
	var rules []models.MappingRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, *rule)
	}
	return rules, rows.Err()
}

func scanRule(row pgx.Row) (*models.MappingRule, error) {
	var rule models.MappingRule
	var pattern []byte
	err := row.Scan(
		&rule.ID, &rule.ForwarderID, &rule.FieldName, &pattern, &rule.Priority,
		&rule.ValidationPattern, &rule.DefaultValue,
		&rule.IsActive, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(pattern) > 0 {
		rule.Pattern, err = models.ParsePattern(pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %s has a bad pattern: %w", rule.ID, err)
		}
	}
	return &rule, nil
}
