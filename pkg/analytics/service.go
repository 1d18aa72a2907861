package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/curatehub/pulse/pkg/config"
	"github.com/curatehub/pulse/pkg/observability"
)

// minScorerSleep floors the gap between score recomputations so a start just
// before midnight cannot spin the scorer loop.
const minScorerSleep = time.Minute

// Service runs the analytics pipeline: one consumer goroutine draining the
// queue into daily counters and one scorer goroutine recomputing trending
// scores at startup and every UTC midnight. Both live under a single
// cancellable context and are joined on shutdown.
type Service struct {
	queue      *Queue
	aggregator *Aggregator
	scorer     *TrendScorer
	logger     *observability.Logger
	metrics    *observability.Metrics

	pollTimeout time.Duration
	now         func() time.Time

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

// NewService wires the pipeline components together
func NewService(queue *Queue, aggregator *Aggregator, scorer *TrendScorer, cfg config.PipelineConfig, logger *observability.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		queue:       queue,
		aggregator:  aggregator,
		scorer:      scorer,
		logger:      logger,
		metrics:     metrics,
		pollTimeout: cfg.PollTimeout,
		now:         time.Now,
	}
}

// Start launches the consumer and scorer loops. Calling Start on a running
// service is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		s.logger.Warn("Analytics service already started")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	group.Go(func() error { return s.consumeLoop(groupCtx) })
	group.Go(func() error { return s.scorerLoop(groupCtx) })

	s.cancel = cancel
	s.group = group
	s.started = true
	s.logger.Info("Analytics service started")
}

// Shutdown stops both loops, waits for them to drain, and closes the queue
// connection. The in-flight event, if any, finishes its transaction before
// the consumer exits, so counters are never left half-applied.
func (s *Service) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	s.cancel()
	err := s.group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.WithError(err).Error("Analytics service stopped with error")
	} else {
		err = nil
		s.logger.Info("Analytics service stopped")
	}

	if closeErr := s.queue.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	s.started = false
	return err
}

// consumeLoop drains the queue one event at a time. Events are applied
// synchronously so the single consumer preserves queue order. Bad payloads
// and persistence failures are logged and counted; only context cancellation
// ends the loop.
func (s *Service) consumeLoop(ctx context.Context) error {
	s.logger.Info("Event consumer started")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		payload, ok, err := s.queue.DequeueBlocking(ctx, s.pollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.WithError(err).Error("Failed to poll event queue")
			continue
		}
		if !ok {
			// Idle poll; cheap moment to sample queue depth
			s.sampleQueueDepth(ctx)
			continue
		}

		s.handlePayload(ctx, payload)
	}
}

func (s *Service) handlePayload(ctx context.Context, payload []byte) {
	ev, err := ParseEvent(payload)
	if err != nil {
		s.metrics.EventParseFailuresTotal.Inc()
		s.logger.WithError(err).WithField("payload", string(payload)).Warn("Discarding malformed event")
		s.deadLetter(ctx, payload)
		return
	}

	if err := s.aggregator.Apply(ctx, ev); err != nil {
		s.metrics.EventApplyFailuresTotal.Inc()
		s.logger.WithError(err).WithFields(map[string]interface{}{
			"entity_type": string(ev.EntityType),
			"entity_id":   ev.EntityID,
			"event_type":  string(ev.EventType),
		}).Error("Failed to apply event, dropping")
		return
	}

	s.metrics.EventsConsumedTotal.WithLabelValues(string(ev.EntityType), string(ev.EventType)).Inc()
}

func (s *Service) deadLetter(ctx context.Context, payload []byte) {
	if err := s.queue.DeadLetter(ctx, payload); err != nil {
		s.logger.WithError(err).Error("Failed to dead-letter payload")
		return
	}
	s.metrics.EventsDeadLetteredTotal.Inc()
}

func (s *Service) sampleQueueDepth(ctx context.Context) {
	depth, err := s.queue.Len(ctx)
	if err != nil {
		return
	}
	s.metrics.QueueDepth.Set(float64(depth))
}

// scorerLoop recomputes trending scores once at startup, then once per day
// shortly after UTC midnight. A failed run is logged and retried at the next
// tick.
func (s *Service) scorerLoop(ctx context.Context) error {
	s.logger.Info("Trend scorer started")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}

		s.runScorer(ctx)
		timer.Reset(s.untilNextRun())
	}
}

func (s *Service) runScorer(ctx context.Context) {
	start := s.now()
	scored, err := s.scorer.Recompute(ctx)
	duration := time.Since(start)

	s.metrics.ScorerRunDuration.Observe(duration.Seconds())
	if err != nil {
		s.metrics.ScorerRunsTotal.WithLabelValues("error").Inc()
		s.logger.WithError(err).Error("Trending score recomputation failed")
		return
	}

	s.metrics.ScorerRunsTotal.WithLabelValues("success").Inc()
	s.metrics.ScoredCollections.Set(float64(scored))
	s.logger.WithFields(map[string]interface{}{
		"scored_collections": scored,
		"duration":           duration.String(),
	}).Info("Trending scores recomputed")
}

// untilNextRun returns the time until the next UTC midnight, floored at
// minScorerSleep
func (s *Service) untilNextRun() time.Duration {
	now := s.now().UTC()
	next := utcMidnight(now).AddDate(0, 0, 1)
	sleep := next.Sub(now)
	if sleep < minScorerSleep {
		sleep = minScorerSleep
	}
	return sleep
}
