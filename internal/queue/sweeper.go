package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/freightflow/invoice-mapping-service/internal/models"
)

// Prioritizer recomputes a queue priority from path, waiting time and the
// decision's weak-critical-field count. The routing engine satisfies it.
type Prioritizer interface {
	Priority(path models.ProcessingPath, age time.Duration, criticalCount int) int
}

// Sweeper periodically refreshes pending items' priorities so documents
// gain urgency as they wait.
type Sweeper struct {
	store      Store
	prioritize Prioritizer
	logger     *slog.Logger
	cron       *cron.Cron
	now        func() time.Time
}

func NewSweeper(store Store, p Prioritizer, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:      store,
		prioritize: p,
		logger:     logger,
		cron:       cron.New(),
		now:        time.Now,
	}
}

// Start schedules the sweep with a standard 5-field cron expression and
// begins running it.
func (s *Sweeper) Start(schedule string) error {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}

	s.cron.Schedule(sched, cron.FuncJob(func() {
		if err := s.Sweep(context.Background()); err != nil {
			s.logger.Error("queue.sweep.failed", "error", err)
		}
	}))
	s.cron.Start()
	s.logger.Info("queue.sweeper.started", "schedule", schedule)
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

// Sweep recomputes every pending item's priority once.
func (s *Sweeper) Sweep(ctx context.Context) error {
	items, err := s.store.List(ctx, Filter{Status: models.QueuePending})
	if err != nil {
		return fmt.Errorf("failed to list pending items: %w", err)
	}

	now := s.now().UTC()
	updated := 0
	for _, item := range items {
		priority := s.prioritize.Priority(item.Path, now.Sub(item.EnteredAt), item.CriticalCount)
		if priority == item.Priority {
			continue
		}
		if err := s.store.SetPriority(ctx, item.ID, priority); err != nil {
			s.logger.Warn("queue.sweep.item_failed", "item_id", item.ID, "error", err)
			continue
		}
		updated++
	}

	if updated > 0 {
		s.logger.Info("queue.sweep.ok", "pending", len(items), "updated", updated)
	}
	return nil
}
