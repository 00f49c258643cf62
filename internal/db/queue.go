package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/freightflow/invoice-mapping-service/internal/models"
	"github.com/freightflow/invoice-mapping-service/internal/queue"
)

// QueueStore is the Postgres queue.Store. Assign and Finish are single
// conditional UPDATEs, so the status check and the write are atomic and
// two reviewers can never claim the same item.
type QueueStore struct {
	pool *pgxpool.Pool
}

var _ queue.Store = (*QueueStore)(nil)

func NewQueueStore(pool *pgxpool.Pool) *QueueStore {
	return &QueueStore{pool: pool}
}

const queueColumns = `id, document_id, path, priority, critical_count, status,
	COALESCE(assignee, ''), COALESCE(reason, ''),
	entered_at, started_at, completed_at, fields_reviewed, fields_modified`

func (s *QueueStore) Upsert(ctx context.Context, item *models.QueueItem) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queue_items (
			id, document_id, path, priority, critical_count, status,
			assignee, reason, entered_at, started_at, completed_at,
			fields_reviewed, fields_modified
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			path = EXCLUDED.path,
			priority = EXCLUDED.priority,
			critical_count = EXCLUDED.critical_count,
			status = EXCLUDED.status,
			assignee = EXCLUDED.assignee,
			reason = EXCLUDED.reason,
			entered_at = EXCLUDED.entered_at,
			started_at = EXCLUDED.started_at,
			completed_at = EXCLUDED.completed_at,
			fields_reviewed = EXCLUDED.fields_reviewed,
			fields_modified = EXCLUDED.fields_modified`,
		item.ID, item.DocumentID, string(item.Path), item.Priority, item.CriticalCount,
		string(item.Status), item.Assignee, item.Reason, item.EnteredAt,
		item.StartedAt, item.CompletedAt, item.FieldsReviewed, item.FieldsModified,
	)
	if err != nil {
		return fmt.Errorf("upsert queue item: %w", err)
	}
	return nil
}

func (s *QueueStore) Get(ctx context.Context, id uuid.UUID) (*models.QueueItem, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM queue_items WHERE id = $1`, id)

	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue item: %w", err)
	}
	return item, nil
}

func (s *QueueStore) GetByDocument(ctx context.Context, docID uuid.UUID) (*models.QueueItem, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+queueColumns+` FROM queue_items
		WHERE document_id = $1
		ORDER BY entered_at DESC
		LIMIT 1`, docID)

	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, queue.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get queue item by document: %w", err)
	}
	return item, nil
}

func (s *QueueStore) Assign(ctx context.Context, id uuid.UUID, assignee string, at time.Time) (*models.QueueItem, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE queue_items
		SET status = $2, assignee = $3, started_at = $4
		WHERE id = $1 AND status = $5
		RETURNING `+queueColumns,
		id, string(models.QueueInProgress), assignee, at, string(models.QueuePending))

	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race or the item never existed; look again to say which.
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, queue.ErrNotFound) {
			return nil, queue.ErrNotFound
		}
		return nil, queue.ErrNotPending
	}
	if err != nil {
		return nil, fmt.Errorf("assign queue item: %w", err)
	}
	return item, nil
}

func (s *QueueStore) Finish(ctx context.Context, id uuid.UUID, to models.QueueStatus, at time.Time, reviewed, modified int) (*models.QueueItem, error) {
	allowed := queue.AllowedFrom(to)
	from := make([]string, len(allowed))
	for i, st := range allowed {
		from[i] = string(st)
	}

	var row pgx.Row
	if to == models.QueueCompleted {
		row = s.pool.QueryRow(ctx, `
			UPDATE queue_items
			SET status = $2, completed_at = $3, fields_reviewed = $4, fields_modified = $5
			WHERE id = $1 AND status = ANY($6)
			RETURNING `+queueColumns,
			id, string(to), at, reviewed, modified, from)
	} else {
		row = s.pool.QueryRow(ctx, `
			UPDATE queue_items
			SET status = $2, completed_at = $3
			WHERE id = $1 AND status = ANY($4)
			RETURNING `+queueColumns,
			id, string(to), at, from)
	}

	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := s.Get(ctx, id); errors.Is(getErr, queue.ErrNotFound) {
			return nil, queue.ErrNotFound
		}
		if to == models.QueueCompleted {
			return nil, queue.ErrNotInProgress
		}
		return nil, queue.ErrFinished
	}
	if err != nil {
		return nil, fmt.Errorf("finish queue item: %w", err)
	}
	return item, nil
}

func (s *QueueStore) SetPriority(ctx context.Context, id uuid.UUID, priority int) error {
	// Only pending items are reprioritized; anything else is left alone.
	_, err := s.pool.Exec(ctx, `
		UPDATE queue_items SET priority = $2 WHERE id = $1 AND status = $3`,
		id, priority, string(models.QueuePending))
	if err != nil {
		return fmt.Errorf("set queue priority: %w", err)
	}
	return nil
}

func (s *QueueStore) List(ctx context.Context, f queue.Filter) ([]models.QueueItem, error) {
	query := `SELECT ` + queueColumns + ` FROM queue_items`

	var conds []string
	var args []any
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Path != "" {
		args = append(args, string(f.Path))
		conds = append(conds, fmt.Sprintf("path = $%d", len(args)))
	}
	if f.Assignee != "" {
		args = append(args, f.Assignee)
		conds = append(conds, fmt.Sprintf("assignee = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY priority DESC, entered_at ASC, id ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue items: %w", err)
	}
	defer rows.Close()

	var items []models.QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scan queue item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanQueueItem(row pgx.Row) (*models.QueueItem, error) {
	var item models.QueueItem
	var path, status string
	err := row.Scan(
		&item.ID, &item.DocumentID, &path, &item.Priority, &item.CriticalCount,
		&status, &item.Assignee, &item.Reason,
		&item.EnteredAt, &item.StartedAt, &item.CompletedAt,
		&item.FieldsReviewed, &item.FieldsModified,
	)
	if err != nil {
		return nil, err
	}
	item.Path = models.ProcessingPath(path)
	item.Status = models.QueueStatus(status)
	return &item, nil
}
