package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PruneDailyMetrics deletes counter rows dated strictly before cutoff and
// returns the number of rows removed. Pruning never touches the trending
// window as long as the retention horizon exceeds the window length.
func PruneDailyMetrics(ctx context.Context, db *sql.DB, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `DELETE FROM metrics_daily WHERE date < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune failed: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		// some drivers cannot report affected rows; the prune still ran
		return 0, nil
	}
	return removed, nil
}
