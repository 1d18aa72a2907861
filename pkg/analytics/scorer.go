package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"
)

// dailyMetric is one metrics_daily row as read by the scorer.
type dailyMetric struct {
	EntityID int64
	Date     time.Time
	Views    int64
	Clicks   int64
}

// TrendScorer recomputes the trending_score column on collections from the
// trailing window of daily counters. Activity is decayed by reciprocal age:
// today counts in full, yesterday at a half, and so on across the window.
type TrendScorer struct {
	db          *sql.DB
	windowDays  int
	clickWeight float64
	now         func() time.Time
}

// NewTrendScorer creates a scorer over the given window and click weight
func NewTrendScorer(db *sql.DB, windowDays int, clickWeight float64) *TrendScorer {
	return &TrendScorer{
		db:          db,
		windowDays:  windowDays,
		clickWeight: clickWeight,
		now:         time.Now,
	}
}

// Recompute rebuilds every collection's trending score from the window and
// returns the number of collections that received a non-zero score. All score
// writes happen in one transaction: readers never observe a half-applied
// recompute, and any failure rolls the whole run back so the next run can
// retry from scratch.
func (s *TrendScorer) Recompute(ctx context.Context) (int, error) {
	today := utcMidnight(s.now())
	start := today.AddDate(0, 0, -(s.windowDays - 1))

	metrics, err := s.windowMetrics(ctx, start)
	if err != nil {
		return 0, err
	}

	scores := accumulateScores(metrics, today, s.clickWeight)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin failed: %w", err)
	}

	// Zero everything first so collections that fell out of the window
	// drop off the ranking instead of keeping a stale score.
	if _, err := tx.ExecContext(ctx, `UPDATE collections SET trending_score = 0`); err != nil {
		tx.Rollback()
		return 0, fmt.Errorf("score reset failed: %w", err)
	}

	ids := make([]int64, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		_, err := tx.ExecContext(ctx, `
			UPDATE collections
			SET trending_score = $1
			WHERE id = $2
		`, scores[id], id)
		if err != nil {
			tx.Rollback()
			return 0, fmt.Errorf("score update for collection %d failed: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit failed: %w", err)
	}
	return len(ids), nil
}

// windowMetrics reads the collection counter rows inside the trailing window
func (s *TrendScorer) windowMetrics(ctx context.Context, start time.Time) ([]dailyMetric, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, date, views, clicks
		FROM metrics_daily
		WHERE entity_type = 'collection' AND date >= $1
	`, start)
	if err != nil {
		return nil, fmt.Errorf("window query failed: %w", err)
	}
	defer rows.Close()

	var metrics []dailyMetric
	for rows.Next() {
		var m dailyMetric
		if err := rows.Scan(&m.EntityID, &m.Date, &m.Views, &m.Clicks); err != nil {
			return nil, fmt.Errorf("window scan failed: %w", err)
		}
		metrics = append(metrics, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("window iteration failed: %w", err)
	}
	return metrics, nil
}

// accumulateScores folds counter rows into per-collection scores. Each row
// contributes (views + clickWeight*clicks) * 1/(age+1), where age is the
// row's distance from today in whole days. Rows dated in the future clamp to
// age zero rather than inflating the score.
func accumulateScores(metrics []dailyMetric, today time.Time, clickWeight float64) map[int64]float64 {
	scores := make(map[int64]float64, len(metrics))
	for _, m := range metrics {
		age := int(today.Sub(utcMidnight(m.Date)).Hours() / 24)
		if age < 0 {
			age = 0
		}
		weight := 1.0 / float64(age+1)
		scores[m.EntityID] += (float64(m.Views) + clickWeight*float64(m.Clicks)) * weight
	}
	return scores
}

// utcMidnight truncates a time to the start of its UTC day
func utcMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
