package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/curatehub/pulse/pkg/config"
)

// setupQueueTest creates a miniredis instance and a queue bound to it
func setupQueueTest(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	q, err := NewQueue(config.RedisConfig{
		URL:           "redis://" + mr.Addr(),
		QueueKey:      "analytics:events",
		DeadLetterKey: "analytics:events:dead",
		DeadLetterMax: 3,
	})
	if err != nil {
		t.Fatalf("Failed to create queue: %v", err)
	}
	t.Cleanup(func() { q.Close() })

	return q, mr
}

func TestNewQueueInvalidURL(t *testing.T) {
	_, err := NewQueue(config.RedisConfig{URL: "invalid://url"})
	if err == nil {
		t.Fatal("Expected error for invalid Redis URL")
	}
}

func TestNewQueueConnectionFailure(t *testing.T) {
	_, err := NewQueue(config.RedisConfig{URL: "redis://localhost:1", QueueKey: "q"})
	if err == nil {
		t.Fatal("Expected connection error")
	}
}

func TestEnqueueDequeueFIFO(t *testing.T) {
	q, _ := setupQueueTest(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, []byte("first")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if err := q.Enqueue(ctx, []byte("second")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	depth, err := q.Len(ctx)
	if err != nil {
		t.Fatalf("Len failed: %v", err)
	}
	if depth != 2 {
		t.Errorf("Expected queue depth 2, got %d", depth)
	}

	for _, want := range []string{"first", "second"} {
		payload, ok, err := q.DequeueBlocking(ctx, time.Second)
		if err != nil {
			t.Fatalf("DequeueBlocking failed: %v", err)
		}
		if !ok {
			t.Fatal("Expected an item")
		}
		if string(payload) != want {
			t.Errorf("Expected %q, got %q", want, payload)
		}
	}
}

func TestDequeueBlockingTimeout(t *testing.T) {
	q, _ := setupQueueTest(t)

	start := time.Now()
	payload, ok, err := q.DequeueBlocking(context.Background(), 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Expected timeout to be a no-op, got error: %v", err)
	}
	if ok || payload != nil {
		t.Errorf("Expected empty result on timeout, got %q", payload)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Timeout took far longer than requested")
	}
}

func TestDeadLetterBounded(t *testing.T) {
	q, mr := setupQueueTest(t)
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c", "d", "e"} {
		if err := q.DeadLetter(ctx, []byte(p)); err != nil {
			t.Fatalf("DeadLetter failed: %v", err)
		}
	}

	items, err := mr.List("analytics:events:dead")
	if err != nil {
		t.Fatalf("Failed to read dead-letter list: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("Expected dead-letter list capped at 3, got %d", len(items))
	}
	// newest first
	if items[0] != "e" {
		t.Errorf("Expected newest payload at head, got %q", items[0])
	}
}

func TestQueuePing(t *testing.T) {
	q, mr := setupQueueTest(t)

	if err := q.Ping(context.Background()); err != nil {
		t.Errorf("Expected ping to succeed: %v", err)
	}

	mr.Close()
	if err := q.Ping(context.Background()); err == nil {
		t.Error("Expected ping to fail after broker shutdown")
	}
}
