// Package queue manages the human-review backlog: one item per document,
// moving PENDING -> IN_PROGRESS -> COMPLETED with side exits to SKIPPED
// and CANCELLED.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

var (
	ErrNotFound      = errors.New("queue item not found")
	ErrNotPending    = errors.New("queue item is not pending")
	ErrNotInProgress = errors.New("queue item is not in progress")
	ErrInProgress    = errors.New("review already in progress")
	ErrFinished      = errors.New("queue item already finished")
)

// allowedFrom lists the legal source statuses for each terminal
// transition. Completion requires an active review; skip and cancel can
// interrupt one.
var allowedFrom = map[models.QueueStatus][]models.QueueStatus{
	models.QueueCompleted: {models.QueueInProgress},
	models.QueueSkipped:   {models.QueuePending, models.QueueInProgress},
	models.QueueCancelled: {models.QueuePending, models.QueueInProgress},
}

// AllowedFrom returns the statuses an item may hold when moving to the
// given terminal status. Stores use it to build conditional updates.
func AllowedFrom(to models.QueueStatus) []models.QueueStatus {
	return allowedFrom[to]
}

// CanTransition reports whether a queue item may move between the two
// statuses.
func CanTransition(from, to models.QueueStatus) bool {
	if to == models.QueueInProgress {
		return from == models.QueuePending
	}
	for _, s := range allowedFrom[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Filter narrows queue listings. Zero values mean "any".
type Filter struct {
	Status   models.QueueStatus
	Path     models.ProcessingPath
	Assignee string
	Limit    int
}

// Store is the persistence behind the queue. Assign and Finish must be
// implemented as conditional updates: the status check and the write
// happen as one atomic operation, so two reviewers can never claim the
// same item.
type Store interface {
	Upsert(ctx context.Context, item *models.QueueItem) error
	Get(ctx context.Context, id uuid.UUID) (*models.QueueItem, error)
	GetByDocument(ctx context.Context, docID uuid.UUID) (*models.QueueItem, error)

	// Assign moves PENDING -> IN_PROGRESS; ErrNotPending otherwise.
	Assign(ctx context.Context, id uuid.UUID, assignee string, at time.Time) (*models.QueueItem, error)

	// Finish moves an item to a terminal status, honoring AllowedFrom.
	Finish(ctx context.Context, id uuid.UUID, to models.QueueStatus, at time.Time, reviewed, modified int) (*models.QueueItem, error)

	// SetPriority updates a PENDING item's priority; silently a no-op
	// for items in any other status.
	SetPriority(ctx context.Context, id uuid.UUID, priority int) error

	List(ctx context.Context, f Filter) ([]models.QueueItem, error)
}

// Manager applies routing decisions to the backlog and fronts the
// reviewer-facing transitions.
type Manager struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewManager(store Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: store, logger: logger, now: time.Now}
}

// ApplyDecision reconciles a document's queue entry with a fresh routing
// decision. Auto-approved documents never enter the queue; if one was
// already pending it is cancelled. An in-flight review is never touched:
// the caller gets ErrInProgress and the item stays as the reviewer sees
// it. Terminal items are reopened as fresh PENDING entries.
func (m *Manager) ApplyDecision(ctx context.Context, dec *models.RoutingDecision) (*models.QueueItem, error) {
	existing, err := m.store.GetByDocument(ctx, dec.DocumentID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("failed to look up queue item: %w", err)
	}

	if dec.Path == models.PathAutoApprove {
		if existing == nil {
			return nil, nil
		}
		switch existing.Status {
		case models.QueuePending:
			item, err := m.store.Finish(ctx, existing.ID, models.QueueCancelled, m.now().UTC(), 0, 0)
			if err != nil {
				return nil, fmt.Errorf("failed to cancel queue item: %w", err)
			}
			m.logger.Info("queue.item.cancelled",
				"item_id", item.ID,
				"document_id", dec.DocumentID,
				"reason", "auto-approved on re-route")
			return item, nil
		case models.QueueInProgress:
			return existing, ErrInProgress
		default:
			return existing, nil
		}
	}

	now := m.now().UTC()
	if existing == nil {
		item := &models.QueueItem{
			ID:            uuid.New(),
			DocumentID:    dec.DocumentID,
			Path:          dec.Path,
			Priority:      dec.Priority,
			CriticalCount: len(dec.CriticalLowFields),
			Status:        models.QueuePending,
			Reason:        dec.Reason,
			EnteredAt:     now,
		}
		if err := m.store.Upsert(ctx, item); err != nil {
			return nil, fmt.Errorf("failed to enqueue document: %w", err)
		}
		m.logger.Info("queue.item.created",
			"item_id", item.ID,
			"document_id", dec.DocumentID,
			"path", dec.Path,
			"priority", dec.Priority)
		return item, nil
	}

	switch existing.Status {
	case models.QueuePending:
		existing.Path = dec.Path
		existing.Priority = dec.Priority
		existing.CriticalCount = len(dec.CriticalLowFields)
		existing.Reason = dec.Reason
		if err := m.store.Upsert(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to update queue item: %w", err)
		}
		return existing, nil
	case models.QueueInProgress:
		return existing, ErrInProgress
	default:
		// Reopen a finished item for a new review cycle.
		existing.Path = dec.Path
		existing.Priority = dec.Priority
		existing.CriticalCount = len(dec.CriticalLowFields)
		existing.Status = models.QueuePending
		existing.Reason = dec.Reason
		existing.Assignee = ""
		existing.EnteredAt = now
		existing.StartedAt = nil
		existing.CompletedAt = nil
		existing.FieldsReviewed = 0
		existing.FieldsModified = 0
		if err := m.store.Upsert(ctx, existing); err != nil {
			return nil, fmt.Errorf("failed to reopen queue item: %w", err)
		}
		m.logger.Info("queue.item.reopened",
			"item_id", existing.ID,
			"document_id", dec.DocumentID,
			"path", dec.Path)
		return existing, nil
	}
}

// Assign claims a pending item for a reviewer. Exactly one of two
// concurrent claims succeeds; the loser gets ErrNotPending.
func (m *Manager) Assign(ctx context.Context, id uuid.UUID, assignee string) (*models.QueueItem, error) {
	if assignee == "" {
		return nil, fmt.Errorf("assignee is required")
	}
	item, err := m.store.Assign(ctx, id, assignee, m.now().UTC())
	if err != nil {
		return nil, err
	}
	m.logger.Info("queue.item.assigned", "item_id", id, "assignee", assignee)
	return item, nil
}

// Complete records a finished review with its field counts.
func (m *Manager) Complete(ctx context.Context, id uuid.UUID, reviewed, modified int) (*models.QueueItem, error) {
	if reviewed < 0 || modified < 0 {
		return nil, fmt.Errorf("review counts cannot be negative")
	}
	item, err := m.store.Finish(ctx, id, models.QueueCompleted, m.now().UTC(), reviewed, modified)
	if err != nil {
		return nil, err
	}
	m.logger.Info("queue.item.completed",
		"item_id", id,
		"fields_reviewed", reviewed,
		"fields_modified", modified)
	return item, nil
}

// Skip sets a pending or in-progress item aside without review.
func (m *Manager) Skip(ctx context.Context, id uuid.UUID) (*models.QueueItem, error) {
	item, err := m.store.Finish(ctx, id, models.QueueSkipped, m.now().UTC(), 0, 0)
	if err != nil {
		return nil, err
	}
	m.logger.Info("queue.item.skipped", "item_id", id)
	return item, nil
}

// Cancel withdraws a pending or in-progress item.
func (m *Manager) Cancel(ctx context.Context, id uuid.UUID) (*models.QueueItem, error) {
	item, err := m.store.Finish(ctx, id, models.QueueCancelled, m.now().UTC(), 0, 0)
	if err != nil {
		return nil, err
	}
	m.logger.Info("queue.item.cancelled", "item_id", id)
	return item, nil
}

func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.QueueItem, error) {
	return m.store.Get(ctx, id)
}

func (m *Manager) List(ctx context.Context, f Filter) ([]models.QueueItem, error) {
	return m.store.List(ctx, f)
}
