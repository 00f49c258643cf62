package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MonthlyStats is the operational snapshot behind the stats endpoint:
// volumes and routing outcomes for the current calendar month plus the
// live state of the review queue. Document and queue totals are
// all-time; everything else resets at the month boundary.
type MonthlyStats struct {
	Month              string  `json:"month"`
	TotalDocuments     int     `json:"totalDocuments"`
	DocumentsThisMonth int     `json:"documentsThisMonth"`
	FailedThisMonth    int     `json:"failedThisMonth"`
	AutoApproved       int     `json:"autoApproved"`
	QuickReview        int     `json:"quickReview"`
	FullReview         int     `json:"fullReview"`
	ManualRequired     int     `json:"manualRequired"`
	AverageConfidence  float64 `json:"averageConfidence"`
	QueuePending       int     `json:"queuePending"`
	QueueInProgress    int     `json:"queueInProgress"`
	CompletedThisMonth int     `json:"completedThisMonth"`
}

// StatsStore aggregates run outcomes for reporting.
type StatsStore struct {
	pool *pgxpool.Pool
}

func NewStatsStore(pool *pgxpool.Pool) *StatsStore {
	return &StatsStore{pool: pool}
}

// Monthly collects the current month's snapshot.
func (s *StatsStore) Monthly(ctx context.Context) (*MonthlyStats, error) {
	stats := &MonthlyStats{
		Month: time.Now().UTC().Format("2006-01"),
	}

	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE DATE_TRUNC('month', received_at) = DATE_TRUNC('month', CURRENT_DATE)),
		       COUNT(*) FILTER (WHERE status = 'failed'
		                          AND DATE_TRUNC('month', received_at) = DATE_TRUNC('month', CURRENT_DATE))
		FROM documents`,
	).Scan(&stats.TotalDocuments, &stats.DocumentsThisMonth, &stats.FailedThisMonth)
	if err != nil {
		return nil, err
	}

	// Latest run per document so reprocessed documents count once.
	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE path = 'AUTO_APPROVE'),
		       COUNT(*) FILTER (WHERE path = 'QUICK_REVIEW'),
		       COUNT(*) FILTER (WHERE path = 'FULL_REVIEW'),
		       COUNT(*) FILTER (WHERE path = 'MANUAL_REQUIRED'),
		       COALESCE(AVG(overall_confidence), 0)
		FROM (
			SELECT DISTINCT ON (document_id) path, overall_confidence
			FROM extractions
			WHERE DATE_TRUNC('month', created_at) = DATE_TRUNC('month', CURRENT_DATE)
			ORDER BY document_id, created_at DESC
		) latest`,
	).Scan(&stats.AutoApproved, &stats.QuickReview, &stats.FullReview,
		&stats.ManualRequired, &stats.AverageConfidence)
	if err != nil {
		return nil, err
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'PENDING'),
		       COUNT(*) FILTER (WHERE status = 'IN_PROGRESS'),
		       COUNT(*) FILTER (WHERE status = 'COMPLETED'
		                          AND DATE_TRUNC('month', completed_at) = DATE_TRUNC('month', CURRENT_DATE))
		FROM queue_items`,
	).Scan(&stats.QueuePending, &stats.QueueInProgress, &stats.CompletedThisMonth)
	if err != nil {
		return nil, err
	}

	return stats, nil
}
