package ingestion

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/minewatch/minewatch/internal/metrics"
)

// Task asks a worker to process one image.
type Task struct {
	ImageID uint
	AssetID string
	Force   bool
}

// Key identifies the image the task works on.
func (t Task) Key() string {
	return fmt.Sprintf("image:%d", t.ImageID)
}

// Handler executes a task. Returning a TransientError schedules a retry.
type Handler func(ctx context.Context, t Task) error

// QueueConfig sizes the worker pool and retry policy.
type QueueConfig struct {
	Workers    int
	MaxRetries int
	RetryDelay time.Duration
	Buffer     int
}

type envelope struct {
	task    Task
	attempt int
}

// Queue is an in-process task queue with a fixed worker pool. A task whose
// key is already queued, running or waiting for a retry is dropped.
type Queue struct {
	cfg     QueueConfig
	metrics *metrics.PipelineMetrics

	tasks chan envelope

	mu       sync.Mutex
	pending  map[string]struct{}
	inFlight int
	running  bool

	cancel  context.CancelFunc
	group   *errgroup.Group
	retries sync.WaitGroup
}

// NewQueue creates a stopped queue.
func NewQueue(cfg QueueConfig, m *metrics.PipelineMetrics) *Queue {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Buffer < 1 {
		cfg.Buffer = 1024
	}
	return &Queue{
		cfg:     cfg,
		metrics: m,
		tasks:   make(chan envelope, cfg.Buffer),
		pending: make(map[string]struct{}),
	}
}

// Start launches the workers. Tasks enqueued before Start wait in the buffer.
func (q *Queue) Start(ctx context.Context, handler Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	q.cancel = cancel
	q.group = group
	q.running = true

	for i := 0; i < q.cfg.Workers; i++ {
		group.Go(func() error {
			q.work(gctx, handler)
			return nil
		})
	}
	log.Printf("TaskQueue: Started %d workers (max retries %d, delay %s)", q.cfg.Workers, q.cfg.MaxRetries, q.cfg.RetryDelay)
}

// Stop cancels running tasks, abandons pending retries and waits for the
// workers to exit.
func (q *Queue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	cancel, group := q.cancel, q.group
	q.mu.Unlock()

	cancel()
	_ = group.Wait()
	q.retries.Wait()
	log.Println("TaskQueue: Stopped")
}

// Enqueue hands a task to the pool without blocking. It returns false when
// the key is already pending or the buffer is full.
func (q *Queue) Enqueue(t Task) bool {
	key := t.Key()

	q.mu.Lock()
	if _, dup := q.pending[key]; dup {
		q.mu.Unlock()
		q.metrics.RecordTask(metrics.OutcomeDropped, 0)
		return false
	}
	q.pending[key] = struct{}{}
	q.mu.Unlock()

	select {
	case q.tasks <- envelope{task: t, attempt: 1}:
		q.metrics.SetQueueDepth(len(q.tasks))
		return true
	default:
		q.release(key)
		log.Printf("TaskQueue: Buffer full, rejecting %s", key)
		return false
	}
}

// Pending reports whether a task for key is queued, running or awaiting a retry.
func (q *Queue) Pending(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.pending[key]
	return ok
}

// Len returns the number of pending task keys.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// WaitIdle blocks until nothing is pending or ctx is done.
func (q *Queue) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if q.Len() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *Queue) work(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-q.tasks:
			q.metrics.SetQueueDepth(len(q.tasks))
			q.run(ctx, handler, env)
		}
	}
}

func (q *Queue) run(ctx context.Context, handler Handler, env envelope) {
	key := env.task.Key()

	q.setInFlight(1)
	start := time.Now()
	err := handler(ctx, env.task)
	q.setInFlight(-1)
	elapsed := time.Since(start)

	switch {
	case err == nil:
		q.metrics.RecordTask(metrics.OutcomeCompleted, elapsed)
		q.release(key)
	case IsTransient(err) && env.attempt <= q.cfg.MaxRetries && ctx.Err() == nil:
		q.metrics.RecordTask(metrics.OutcomeRetried, elapsed)
		log.Printf("TaskQueue: %s attempt %d failed, retrying in %s: %v", key, env.attempt, q.cfg.RetryDelay, err)
		q.scheduleRetry(ctx, envelope{task: env.task, attempt: env.attempt + 1})
	default:
		q.metrics.RecordTask(metrics.OutcomeFailed, elapsed)
		log.Printf("TaskQueue: %s failed after %d attempt(s): %v", key, env.attempt, err)
		q.release(key)
	}
}

func (q *Queue) scheduleRetry(ctx context.Context, env envelope) {
	q.retries.Add(1)
	go func() {
		defer q.retries.Done()
		timer := time.NewTimer(q.cfg.RetryDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			q.release(env.task.Key())
			return
		case <-timer.C:
		}
		select {
		case q.tasks <- env:
			q.metrics.SetQueueDepth(len(q.tasks))
		case <-ctx.Done():
			q.release(env.task.Key())
		}
	}()
}

func (q *Queue) setInFlight(delta int) {
	q.mu.Lock()
	q.inFlight += delta
	n := q.inFlight
	q.mu.Unlock()
	q.metrics.SetInFlight(n)
}

func (q *Queue) release(key string) {
	q.mu.Lock()
	delete(q.pending, key)
	q.mu.Unlock()
}
