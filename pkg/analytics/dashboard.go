package analytics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/curatehub/pulse/pkg/config"
	"github.com/curatehub/pulse/pkg/observability"
)

const (
	defaultDashboardDays = 14
	maxDashboardDays     = 90
	defaultTopLimit      = 5
	maxTopLimit          = 50
)

// DailyPoint is one day of platform-wide activity, summed across entity types
type DailyPoint struct {
	Date   string `json:"date"`
	Views  int64  `json:"views"`
	Clicks int64  `json:"clicks"`
}

// TopCollection is one ranked collection with its window totals
type TopCollection struct {
	CollectionID  int64   `json:"collection_id"`
	Slug          string  `json:"slug"`
	Title         string  `json:"title"`
	Views         int64   `json:"views"`
	Clicks        int64   `json:"clicks"`
	TrendingScore float64 `json:"trending_score"`
}

// Dashboard is the admin dashboard payload
type Dashboard struct {
	Days           int             `json:"days"`
	Daily          []DailyPoint    `json:"daily"`
	TopCollections []TopCollection `json:"top_collections"`
}

// CollectionCounts are all-time view/click totals for one collection
type CollectionCounts struct {
	Views  int64 `json:"views"`
	Clicks int64 `json:"clicks"`
}

// Reader serves read-only dashboard aggregations over the counter store.
// Responses are cached for a short TTL so dashboard auto-refresh never turns
// into a database hot loop; the cache is advisory and a miss just rebuilds.
type Reader struct {
	db      *sql.DB
	cache   *expirable.LRU[string, *Dashboard]
	metrics *observability.Metrics
	now     func() time.Time
}

// NewReader creates a dashboard reader with a TTL response cache
func NewReader(db *sql.DB, cfg config.PipelineConfig, metrics *observability.Metrics) *Reader {
	return &Reader{
		db:      db,
		cache:   expirable.NewLRU[string, *Dashboard](cfg.DashboardCacheSize, nil, cfg.DashboardCacheTTL),
		metrics: metrics,
		now:     time.Now,
	}
}

// BuildDashboard assembles the daily series and the trending top list. days
// and topLimit are clamped to sane bounds; out-of-range values fall back to
// defaults rather than erroring.
func (r *Reader) BuildDashboard(ctx context.Context, days, topLimit int) (*Dashboard, error) {
	days = clamp(days, defaultDashboardDays, maxDashboardDays)
	topLimit = clamp(topLimit, defaultTopLimit, maxTopLimit)

	key := fmt.Sprintf("%d:%d", days, topLimit)
	if cached, ok := r.cache.Get(key); ok {
		if r.metrics != nil {
			r.metrics.DashboardCacheHitsTotal.Inc()
		}
		return cached, nil
	}
	if r.metrics != nil {
		r.metrics.DashboardCacheMissesTotal.Inc()
	}

	today := utcMidnight(r.now())
	start := today.AddDate(0, 0, -(days - 1))

	daily, err := r.dailySeries(ctx, start, days)
	if err != nil {
		return nil, err
	}

	top, err := r.topCollections(ctx, start, topLimit)
	if err != nil {
		return nil, err
	}

	dash := &Dashboard{
		Days:           days,
		Daily:          daily,
		TopCollections: top,
	}
	r.cache.Add(key, dash)
	return dash, nil
}

// dailySeries returns a contiguous, zero-filled series of length days ending
// today, oldest day first
func (r *Reader) dailySeries(ctx context.Context, start time.Time, days int) ([]DailyPoint, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT date, SUM(views), SUM(clicks)
		FROM metrics_daily
		WHERE date >= $1
		GROUP BY date
	`, start)
	if err != nil {
		return nil, fmt.Errorf("daily series query failed: %w", err)
	}
	defer rows.Close()

	byDay := make(map[string]DailyPoint, days)
	for rows.Next() {
		var (
			day    time.Time
			views  int64
			clicks int64
		)
		if err := rows.Scan(&day, &views, &clicks); err != nil {
			return nil, fmt.Errorf("daily series scan failed: %w", err)
		}
		key := day.UTC().Format("2006-01-02")
		byDay[key] = DailyPoint{Date: key, Views: views, Clicks: clicks}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("daily series iteration failed: %w", err)
	}

	series := make([]DailyPoint, 0, days)
	for i := 0; i < days; i++ {
		key := start.AddDate(0, 0, i).Format("2006-01-02")
		if point, ok := byDay[key]; ok {
			series = append(series, point)
		} else {
			series = append(series, DailyPoint{Date: key})
		}
	}
	return series, nil
}

// topCollections returns up to limit collections ranked by trending score,
// window views breaking ties. Collections without window activity still rank
// (at zero) behind active ones.
func (r *Reader) topCollections(ctx context.Context, start time.Time, limit int) ([]TopCollection, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT c.id, c.slug, c.title, c.trending_score,
		       COALESCE(SUM(m.views), 0) AS window_views,
		       COALESCE(SUM(m.clicks), 0) AS window_clicks
		FROM collections c
		LEFT JOIN metrics_daily m
		  ON m.entity_type = 'collection' AND m.entity_id = c.id AND m.date >= $1
		GROUP BY c.id, c.slug, c.title, c.trending_score
		ORDER BY c.trending_score DESC, window_views DESC
		LIMIT $2
	`, start, limit)
	if err != nil {
		return nil, fmt.Errorf("top collections query failed: %w", err)
	}
	defer rows.Close()

	top := make([]TopCollection, 0, limit)
	for rows.Next() {
		var c TopCollection
		if err := rows.Scan(&c.CollectionID, &c.Slug, &c.Title, &c.TrendingScore, &c.Views, &c.Clicks); err != nil {
			return nil, fmt.Errorf("top collections scan failed: %w", err)
		}
		top = append(top, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("top collections iteration failed: %w", err)
	}
	return top, nil
}

// CollectionMetrics returns all-time view/click totals for the given
// collection ids. Ids without any recorded activity are present in the result
// with zero counts so callers can render catalog listings without checking
// membership.
func (r *Reader) CollectionMetrics(ctx context.Context, ids []int64) (map[int64]CollectionCounts, error) {
	counts := make(map[int64]CollectionCounts, len(ids))
	if len(ids) == 0 {
		return counts, nil
	}
	for _, id := range ids {
		counts[id] = CollectionCounts{}
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := fmt.Sprintf(`
		SELECT entity_id, SUM(views), SUM(clicks)
		FROM metrics_daily
		WHERE entity_type = 'collection' AND entity_id IN (%s)
		GROUP BY entity_id
	`, strings.Join(placeholders, ", "))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("collection metrics query failed: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id int64
			c  CollectionCounts
		)
		if err := rows.Scan(&id, &c.Views, &c.Clicks); err != nil {
			return nil, fmt.Errorf("collection metrics scan failed: %w", err)
		}
		counts[id] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collection metrics iteration failed: %w", err)
	}
	return counts, nil
}

// clamp substitutes def for non-positive values and caps at max
func clamp(v, def, max int) int {
	if v <= 0 {
		return def
	}
	if v > max {
		return max
	}
	return v
}
