package gateway

import (
	"context"
	"sync"
	"time"
)

// MaxQueued is the FIFO queue's capacity (spec.md §9's bounded-queue
// redesign note).
const MaxQueued = 64

// AlertThreshold is the enqueue-to-dequeue wait past which an Alert event
// must be raised (spec.md §4.3).
const AlertThreshold = 120 * time.Second

// chatQueue is the single process-wide FIFO queue gating chat-provider
// concurrency, mirroring the teacher's coarse-mutex discipline for
// shared process-wide state (container pool, conversation cache).
type chatQueue struct {
	mu      sync.Mutex
	sem     chan struct{}
	queued  int
	cap     int
	now     func() time.Time
	onAlert func(waited time.Duration)
}

func newChatQueue(concurrency int, onAlert func(time.Duration)) *chatQueue {
	if onAlert == nil {
		onAlert = func(time.Duration) {}
	}
	return &chatQueue{
		sem:     make(chan struct{}, concurrency),
		cap:     MaxQueued,
		now:     time.Now,
		onAlert: onAlert,
	}
}

// depth returns the current number of requests queued or running, used as
// Q in the adaptive model-selection table.
func (q *chatQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued
}

// acquire blocks until a concurrency slot is free, or returns QueueFull
// immediately if the queue is already at capacity. On success it returns
// the observed wait duration and a release func that must be called
// exactly once.
func (q *chatQueue) acquire(ctx context.Context) (time.Duration, func(), error) {
	q.mu.Lock()
	if q.queued >= q.cap {
		q.mu.Unlock()
		return 0, nil, &QueueFull{Cap: q.cap}
	}
	q.queued++
	q.mu.Unlock()

	enqueuedAt := q.now()

	select {
	case q.sem <- struct{}{}:
	case <-ctx.Done():
		q.mu.Lock()
		q.queued--
		q.mu.Unlock()
		return 0, nil, ctx.Err()
	}

	// spec.md §4.3 requires an alert for every request whose wait exceeds
	// AlertThreshold, not a debounced "at most once per window" signal —
	// the caller (cli/serve.go's onAlert) is responsible for any log-level
	// throttling it wants on top of this.
	waited := q.now().Sub(enqueuedAt)
	if waited > AlertThreshold {
		q.onAlert(waited)
	}

	release := func() {
		<-q.sem
		q.mu.Lock()
		q.queued--
		q.mu.Unlock()
	}
	return waited, release, nil
}
