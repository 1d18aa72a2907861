package analytics

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/curatehub/pulse/pkg/config"
	"github.com/curatehub/pulse/pkg/observability"
)

// newServiceTest wires a full pipeline against miniredis and sqlmock. The
// consumer and scorer run concurrently, so mock expectations are unordered.
func newServiceTest(t *testing.T) (*Service, sqlmock.Sqlmock, *observability.Metrics) {
	t.Helper()

	q, _ := setupQueueTest(t)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("Failed to create mock database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)

	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	agg := NewAggregator(db)
	scorer := NewTrendScorer(db, 7, 2.0)

	svc := NewService(q, agg, scorer, config.PipelineConfig{
		PollTimeout: 50 * time.Millisecond,
	}, logger, metrics)

	return svc, mock, metrics
}

// expectScorerRun registers the queries one successful empty recompute issues
func expectScorerRun(mock sqlmock.Sqlmock) {
	mock.ExpectQuery("SELECT entity_id, date, views, clicks").
		WillReturnRows(sqlmock.NewRows([]string{"entity_id", "date", "views", "clicks"}))
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE collections SET trending_score = 0").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestServiceConsumesQueuedEvent(t *testing.T) {
	svc, mock, metrics := newServiceTest(t)
	expectScorerRun(mock)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, views, clicks").
		WillReturnError(errNoRows())
	mock.ExpectExec("INSERT INTO metrics_daily").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	payload := []byte(`{"entity_type":"collection","entity_id":42,"event_type":"view"}`)
	if err := svc.queue.Enqueue(ctx, payload); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	svc.Start(ctx)

	waitFor(t, "event to be consumed", func() bool {
		return testutil.ToFloat64(metrics.EventsConsumedTotal.WithLabelValues("collection", "view")) == 1
	})

	if err := svc.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestServiceDeadLettersMalformedEvent(t *testing.T) {
	svc, mock, metrics := newServiceTest(t)
	expectScorerRun(mock)

	ctx := context.Background()
	if err := svc.queue.Enqueue(ctx, []byte(`not json at all`)); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	svc.Start(ctx)

	waitFor(t, "payload to be dead-lettered", func() bool {
		return testutil.ToFloat64(metrics.EventsDeadLetteredTotal) == 1
	})

	if testutil.ToFloat64(metrics.EventParseFailuresTotal) != 1 {
		t.Error("Expected one parse failure recorded")
	}

	if err := svc.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

// A persistence failure drops the event and keeps the consumer alive for the
// next one.
func TestServiceSurvivesApplyFailure(t *testing.T) {
	svc, mock, metrics := newServiceTest(t)
	expectScorerRun(mock)

	mock.ExpectBegin().WillReturnError(context.DeadlineExceeded)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, views, clicks").
		WillReturnError(errNoRows())
	mock.ExpectExec("INSERT INTO metrics_daily").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	payload := []byte(`{"entity_type":"platform","entity_id":3,"event_type":"click"}`)
	if err := svc.queue.Enqueue(ctx, payload); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := svc.queue.Enqueue(ctx, payload); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	svc.Start(ctx)

	waitFor(t, "second event to be applied", func() bool {
		return testutil.ToFloat64(metrics.EventsConsumedTotal.WithLabelValues("platform", "click")) == 1
	})

	if testutil.ToFloat64(metrics.EventApplyFailuresTotal) != 1 {
		t.Error("Expected one apply failure recorded")
	}

	if err := svc.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}

func TestServiceStartIdempotent(t *testing.T) {
	svc, mock, metrics := newServiceTest(t)
	expectScorerRun(mock)

	ctx := context.Background()
	svc.Start(ctx)
	svc.Start(ctx)

	waitFor(t, "startup scorer run", func() bool {
		return testutil.ToFloat64(metrics.ScorerRunsTotal.WithLabelValues("success")) == 1
	})

	if err := svc.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	// Shutdown of a stopped service is also a no-op
	if err := svc.Shutdown(); err != nil {
		t.Fatalf("Second shutdown failed: %v", err)
	}
}

func TestServiceRunsScorerOnStartup(t *testing.T) {
	svc, mock, metrics := newServiceTest(t)
	expectScorerRun(mock)

	svc.Start(context.Background())

	waitFor(t, "startup scorer run", func() bool {
		return testutil.ToFloat64(metrics.ScorerRunsTotal.WithLabelValues("success")) == 1
	})

	if err := svc.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("Unmet expectations: %v", err)
	}
}

func TestUntilNextRunFloor(t *testing.T) {
	svc := &Service{now: func() time.Time {
		return time.Date(2026, 3, 10, 23, 59, 59, 0, time.UTC)
	}}
	if got := svc.untilNextRun(); got != minScorerSleep {
		t.Errorf("Expected floor of %v just before midnight, got %v", minScorerSleep, got)
	}

	svc.now = func() time.Time {
		return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	}
	if got := svc.untilNextRun(); got != 12*time.Hour {
		t.Errorf("Expected 12h until midnight, got %v", got)
	}
}
