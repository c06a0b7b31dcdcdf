package ingestion

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/minewatch/minewatch/internal/testhelpers"
)

func waitIdle(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.WaitIdle(ctx); err != nil {
		t.Fatalf("queue did not drain: %v", err)
	}
}

func TestQueue_DropsDuplicateKeys(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 2}, nil)

	if !q.Enqueue(Task{ImageID: 1, AssetID: "a"}) {
		t.Fatal("expected first enqueue to succeed")
	}
	if q.Enqueue(Task{ImageID: 1, AssetID: "a"}) {
		t.Error("expected duplicate enqueue to be dropped")
	}
	if !q.Pending("image:1") {
		t.Error("expected key to be pending before start")
	}

	var calls atomic.Int32
	q.Start(context.Background(), func(ctx context.Context, task Task) error {
		calls.Add(1)
		return nil
	})
	defer q.Stop()

	waitIdle(t, q)
	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 handler call, got %d", got)
	}
	if q.Pending("image:1") {
		t.Error("expected key released after completion")
	}
}

func TestQueue_RetriesTransientUntilExhausted(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, nil)

	var calls atomic.Int32
	q.Start(context.Background(), func(ctx context.Context, task Task) error {
		calls.Add(1)
		return &TransientError{Op: "stats", AssetID: task.AssetID, Err: errors.New("quota")}
	})
	defer q.Stop()

	q.Enqueue(Task{ImageID: 7, AssetID: "b"})
	waitIdle(t, q)

	// one initial attempt plus MaxRetries retries
	if got := calls.Load(); got != 4 {
		t.Errorf("expected 4 attempts, got %d", got)
	}
}

func TestQueue_RetriesThenSucceeds(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, nil)

	var calls atomic.Int32
	q.Start(context.Background(), func(ctx context.Context, task Task) error {
		if calls.Add(1) < 3 {
			return &TransientError{Op: "stats", AssetID: task.AssetID, Err: errors.New("timeout")}
		}
		return nil
	})
	defer q.Stop()

	q.Enqueue(Task{ImageID: 3, AssetID: "c"})
	waitIdle(t, q)

	if got := calls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestQueue_PermanentErrorNotRetried(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: time.Millisecond}, nil)

	var calls atomic.Int32
	q.Start(context.Background(), func(ctx context.Context, task Task) error {
		calls.Add(1)
		return errors.New("image not found")
	})
	defer q.Stop()

	q.Enqueue(Task{ImageID: 9, AssetID: "d"})
	waitIdle(t, q)

	if got := calls.Load(); got != 1 {
		t.Errorf("expected 1 attempt, got %d", got)
	}
}

func TestQueue_RejectsWhenBufferFull(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1, Buffer: 1}, nil)

	if !q.Enqueue(Task{ImageID: 1}) {
		t.Fatal("expected first enqueue to succeed")
	}
	if q.Enqueue(Task{ImageID: 2}) {
		t.Error("expected enqueue into a full buffer to fail")
	}
	if q.Pending("image:2") {
		t.Error("rejected task must not stay pending")
	}
}

func TestQueue_StopAbandonsScheduledRetries(t *testing.T) {
	q := NewQueue(QueueConfig{Workers: 1, MaxRetries: 3, RetryDelay: time.Hour}, nil)

	attempted := make(chan struct{}, 1)
	q.Start(context.Background(), func(ctx context.Context, task Task) error {
		attempted <- struct{}{}
		return &TransientError{Op: "stats", Err: errors.New("down")}
	})
	q.Enqueue(Task{ImageID: 5})

	select {
	case <-attempted:
	case <-time.After(5 * time.Second):
		t.Fatal("task never ran")
	}

	testhelpers.MustCompleteWithin(t, 5*time.Second, q.Stop)
	if q.Pending("image:5") {
		t.Error("expected abandoned retry to release its key")
	}
}
