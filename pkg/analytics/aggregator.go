package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Aggregator owns all writes to the metrics_daily counters. It is driven by
// the single consumer loop, so rows are never raced by concurrent appliers.
type Aggregator struct {
	db  *sql.DB
	now func() time.Time
}

// NewAggregator creates a new aggregator
func NewAggregator(db *sql.DB) *Aggregator {
	return &Aggregator{db: db, now: time.Now}
}

// Apply records one normalized event against the daily counter row keyed by
// (entity_type, entity_id, UTC day). The lookup and increment run in one
// transaction; on any failure the transaction rolls back in full and the
// event is dropped (at-least-once, no redelivery).
func (a *Aggregator) Apply(ctx context.Context, ev NormalizedEvent) error {
	day := ev.Day()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin failed: %w", err)
	}

	if err := a.applyInTx(ctx, tx, ev, day); err != nil {
		tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}
	return nil
}

func (a *Aggregator) applyInTx(ctx context.Context, tx *sql.Tx, ev NormalizedEvent, day time.Time) error {
	var (
		id     int64
		views  int64
		clicks int64
	)

	err := tx.QueryRowContext(ctx, `
		SELECT id, views, clicks
		FROM metrics_daily
		WHERE entity_type = $1 AND entity_id = $2 AND date = $3
	`, string(ev.EntityType), ev.EntityID, day).Scan(&id, &views, &clicks)

	switch {
	case err == sql.ErrNoRows:
		views, clicks = 0, 0
		if ev.EventType == EventView {
			views = 1
		} else {
			clicks = 1
		}
		ts := a.now().UTC()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO metrics_daily (entity_type, entity_id, date, views, clicks, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $6)
		`, string(ev.EntityType), ev.EntityID, day, views, clicks, ts)
		if err != nil {
			return fmt.Errorf("insert failed: %w", err)
		}
		return nil

	case err != nil:
		return fmt.Errorf("lookup failed: %w", err)
	}

	if ev.EventType == EventView {
		views++
	} else {
		clicks++
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE metrics_daily
		SET views = $1, clicks = $2, updated_at = $3
		WHERE id = $4
	`, views, clicks, a.now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	return nil
}
