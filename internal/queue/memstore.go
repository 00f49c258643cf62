package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// MemStore is an in-memory Store for tests and database-less runs. The
// mutex makes Assign and Finish atomic check-and-update operations.
type MemStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*models.QueueItem
	byDoc map[uuid.UUID]uuid.UUID
}

func NewMemStore() *MemStore {
	return &MemStore{
		items: make(map[uuid.UUID]*models.QueueItem),
		byDoc: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *MemStore) Upsert(_ context.Context, item *models.QueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *item
	s.items[item.ID] = &cp
	s.byDoc[item.DocumentID] = item.ID
	return nil
}

func (s *MemStore) Get(_ context.Context, id uuid.UUID) (*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.copyOf(id)
}

func (s *MemStore) GetByDocument(_ context.Context, docID uuid.UUID) (*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byDoc[docID]
	if !ok {
		return nil, ErrNotFound
	}
	return s.copyOf(id)
}

func (s *MemStore) Assign(_ context.Context, id uuid.UUID, assignee string, at time.Time) (*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if item.Status != models.QueuePending {
		return nil, ErrNotPending
	}

	item.Status = models.QueueInProgress
	item.Assignee = assignee
	item.StartedAt = &at
	cp := *item
	return &cp, nil
}

func (s *MemStore) Finish(_ context.Context, id uuid.UUID, to models.QueueStatus, at time.Time, reviewed, modified int) (*models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !CanTransition(item.Status, to) {
		if to == models.QueueCompleted {
			return nil, ErrNotInProgress
		}
		return nil, ErrFinished
	}

	item.Status = to
	item.CompletedAt = &at
	if to == models.QueueCompleted {
		item.FieldsReviewed = reviewed
		item.FieldsModified = modified
	}
	cp := *item
	return &cp, nil
}

func (s *MemStore) SetPriority(_ context.Context, id uuid.UUID, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok || item.Status != models.QueuePending {
		return nil
	}
	item.Priority = priority
	return nil
}

func (s *MemStore) List(_ context.Context, f Filter) ([]models.QueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.QueueItem
	for _, item := range s.items {
		if f.Status != "" && item.Status != f.Status {
			continue
		}
		if f.Path != "" && item.Path != f.Path {
			continue
		}
		if f.Assignee != "" && item.Assignee != f.Assignee {
			continue
		}
		out = append(out, *item)
	}

	// Most urgent first, then oldest, then ID for a stable order.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].EnteredAt.Equal(out[j].EnteredAt) {
			return out[i].EnteredAt.Before(out[j].EnteredAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// copyOf returns a detached copy; callers must hold the lock.
func (s *MemStore) copyOf(id uuid.UUID) (*models.QueueItem, error) {
	item, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}
