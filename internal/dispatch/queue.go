// Package dispatch provides serial execution queues.
//
// A Queue runs closures one at a time, in submission order, on a single
// goroutine. The capture session uses one to serialize hardware access; the
// composition root uses another as the UI-affinity context on which every
// externally observable state change is republished.
package dispatch

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when submitting work to a closed queue.
var ErrClosed = errors.New("dispatch: queue closed")

// Queue is a serial executor with an unbounded FIFO backlog.
// Submitting never blocks the producer.
type Queue struct {
	name    string
	mu      sync.Mutex
	tasks   []func()
	closed  bool
	wake    chan struct{}
	stopped chan struct{}
}

// NewQueue creates a Queue and starts its worker goroutine.
func NewQueue(name string) *Queue {
	q := &Queue{
		name:    name,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	go q.run()
	return q
}

// Name returns the queue's label.
func (q *Queue) Name() string {
	return q.name
}

// Async enqueues fn. It returns false if the queue has been closed.
func (q *Queue) Async(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, fn)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return true
}

// Sync enqueues fn and waits until it has run or ctx is done. When ctx ends
// first, fn still runs later. Calling Sync from inside a task on the same
// queue deadlocks.
func (q *Queue) Sync(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !q.Async(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush waits until every task submitted before the call has run.
func (q *Queue) Flush(ctx context.Context) error {
	return q.Sync(ctx, func() {})
}

// Close stops accepting work, runs whatever is already queued and waits for
// the worker to exit. It is safe to call more than once.
func (q *Queue) Close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		select {
		case q.wake <- struct{}{}:
		default:
		}
	}
	q.mu.Unlock()
	<-q.stopped
}

func (q *Queue) run() {
	defer close(q.stopped)

	for {
		q.mu.Lock()
		tasks := q.tasks
		q.tasks = nil
		closed := q.closed
		q.mu.Unlock()

		for _, task := range tasks {
			task()
		}

		if len(tasks) > 0 {
			continue
		}
		if closed {
			return
		}
		<-q.wake
	}
}
