package sandbox

import (
	"context"
	"fmt"
	"sync"
)

// QueueFull is returned when the container-creation queue is already at
// its cap (spec.md §9's bounded-queue redesign note, applied uniformly
// to both the gateway and the sandbox queues).
type QueueFull struct {
	Cap int
}

func (e *QueueFull) Error() string {
	return fmt.Sprintf("sandbox: creation queue full (cap %d)", e.Cap)
}

// containerQueue is a FIFO semaphore gating MAX_CONCURRENT_CONTAINERS,
// guarded by the same coarse-mutex discipline as the container map it
// sits beside (spec.md §5's shared-resource policy).
type containerQueue struct {
	mu     sync.Mutex
	sem    chan struct{}
	queued int
	cap    int
}

func newContainerQueue(concurrency int) *containerQueue {
	return &containerQueue{
		sem: make(chan struct{}, concurrency),
		cap: MaxQueuedCreations,
	}
}

func (q *containerQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.queued
}

// acquire blocks until a slot is free, or returns QueueFull immediately
// if the queue is already at capacity.
func (q *containerQueue) acquire(ctx context.Context) (func(), error) {
	q.mu.Lock()
	if q.queued >= q.cap {
		q.mu.Unlock()
		return nil, &QueueFull{Cap: q.cap}
	}
	q.queued++
	q.mu.Unlock()

	select {
	case q.sem <- struct{}{}:
	case <-ctx.Done():
		q.mu.Lock()
		q.queued--
		q.mu.Unlock()
		return nil, ctx.Err()
	}

	release := func() {
		<-q.sem
		q.mu.Lock()
		q.queued--
		q.mu.Unlock()
	}
	return release, nil
}
