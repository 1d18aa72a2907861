package analytics

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/curatehub/pulse/pkg/config"
)

// Queue is the durable FIFO channel carrying raw events from producers to the
// consumer loop. Backed by a Redis list: producers RPUSH, the consumer BLPOPs.
// Delivery is at-least-once; an item leaves Redis only when handed to the
// consumer.
type Queue struct {
	client  *redis.Client
	key     string
	deadKey string
	deadMax int64
}

// NewQueue creates a queue client and verifies broker connectivity
func NewQueue(cfg config.RedisConfig) (*Queue, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB >= 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.WriteTimeout = 3 * time.Second
	// The blocking pop needs headroom beyond the poll timeout
	opts.ReadTimeout = -1

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Queue{
		client:  client,
		key:     cfg.QueueKey,
		deadKey: cfg.DeadLetterKey,
		deadMax: cfg.DeadLetterMax,
	}, nil
}

// Enqueue appends a serialized event to the tail of the channel. The queue is
// unbounded; producers are never backpressured by a slow or absent consumer.
func (q *Queue) Enqueue(ctx context.Context, payload []byte) error {
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("enqueue failed: %w", err)
	}
	return nil
}

// DequeueBlocking pops from the head of the channel, blocking up to timeout.
// A timeout is not an error: it returns (nil, false, nil) so the caller can
// check for cancellation and poll again.
func (q *Queue) DequeueBlocking(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	res, err := q.client.BLPop(ctx, timeout, q.key).Result()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("dequeue failed: %w", err)
	}
	// BLPOP returns [key, value]
	if len(res) != 2 {
		return nil, false, fmt.Errorf("dequeue failed: unexpected reply of %d elements", len(res))
	}
	return []byte(res[1]), true, nil
}

// DeadLetter moves a malformed payload to a bounded side list so it can be
// inspected instead of vanishing
func (q *Queue) DeadLetter(ctx context.Context, payload []byte) error {
	if err := q.client.LPush(ctx, q.deadKey, payload).Err(); err != nil {
		return fmt.Errorf("dead-letter push failed: %w", err)
	}
	if q.deadMax > 0 {
		if err := q.client.LTrim(ctx, q.deadKey, 0, q.deadMax-1).Err(); err != nil {
			return fmt.Errorf("dead-letter trim failed: %w", err)
		}
	}
	return nil
}

// Len returns the current queue depth
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}

// Ping checks broker connectivity
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

// Client exposes the underlying Redis client for health checks
func (q *Queue) Client() *redis.Client {
	return q.client
}

// Close releases the broker connection
func (q *Queue) Close() error {
	return q.client.Close()
}
