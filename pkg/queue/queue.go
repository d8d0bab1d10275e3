// Package queue provides the FIFO handoff used between pipeline stages.
//
// A Queue tracks every item from Put until the consumer acknowledges it with
// Done, so a producer can Join the queue and block until all work it handed
// off has been dequeued and fully processed. Consumers poll with a bounded
// wait instead of blocking forever, which lets a worker loop notice that the
// queue has been closed without a separate wake-up signal.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	// ErrEmpty is returned by Get when no item arrived within the wait.
	ErrEmpty = errors.New("queue empty")

	// ErrClosed is returned by Put after Close, and by Get once the queue
	// is closed and has no pending items left.
	ErrClosed = errors.New("queue closed")

	// ErrTooManyDone is returned when Done is called more often than items
	// were handed out by Get.
	ErrTooManyDone = errors.New("done called more times than items dequeued")
)

// Queue is a FIFO queue with join semantics. A capacity <= 0 makes it
// unbounded.
type Queue[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	inFlight int
	closed   bool

	// itemAdded and itemRemoved are closed and replaced whenever the queue
	// changes so waiters can select on them alongside timers and contexts.
	itemAdded   chan struct{}
	itemRemoved chan struct{}

	// idle is closed while nothing is pending or in flight.
	idle chan struct{}
}

// New creates a queue. A capacity <= 0 makes Put never block.
func New[T any](capacity int) *Queue[T] {
	idle := make(chan struct{})
	close(idle)
	return &Queue[T]{
		capacity:    capacity,
		itemAdded:   make(chan struct{}),
		itemRemoved: make(chan struct{}),
		idle:        idle,
	}
}

// Put appends an item, blocking while a bounded queue is full.
func (q *Queue[T]) Put(ctx context.Context, item T) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrClosed
		}
		if q.capacity <= 0 || len(q.items) < q.capacity {
			if len(q.items) == 0 && q.inFlight == 0 {
				q.idle = make(chan struct{})
			}
			q.items = append(q.items, item)
			close(q.itemAdded)
			q.itemAdded = make(chan struct{})
			q.mu.Unlock()
			return nil
		}
		removed := q.itemRemoved
		q.mu.Unlock()

		select {
		case <-removed:
		case <-ctx.Done():
			return fmt.Errorf("put: %w", ctx.Err())
		}
	}
}

// Get removes the oldest item, waiting up to wait for one to arrive. The
// returned item counts as in flight until Done is called.
func (q *Queue[T]) Get(ctx context.Context, wait time.Duration) (T, error) {
	var zero T
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		if item, ok := q.TryGet(); ok {
			return item, nil
		}

		q.mu.Lock()
		if q.closed && len(q.items) == 0 {
			q.mu.Unlock()
			return zero, ErrClosed
		}
		added := q.itemAdded
		q.mu.Unlock()

		select {
		case <-added:
		case <-timer.C:
			return zero, ErrEmpty
		case <-ctx.Done():
			return zero, fmt.Errorf("get: %w", ctx.Err())
		}
	}
}

// TryGet removes the oldest item without waiting.
func (q *Queue[T]) TryGet() (T, bool) {
	var zero T
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return zero, false
	}
	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]
	q.inFlight++

	close(q.itemRemoved)
	q.itemRemoved = make(chan struct{})
	return item, true
}

// Done acknowledges that one dequeued item has been fully processed.
func (q *Queue[T]) Done() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.inFlight == 0 {
		return ErrTooManyDone
	}
	q.inFlight--
	if q.inFlight == 0 && len(q.items) == 0 {
		close(q.idle)
	}
	return nil
}

// Join blocks until every item put on the queue has been dequeued and
// acknowledged with Done.
func (q *Queue[T]) Join(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("join: %w", ctx.Err())
	}
}

// Close marks the queue complete. Pending items can still be dequeued.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	// Wake pollers so they observe the closed state immediately.
	close(q.itemAdded)
	q.itemAdded = make(chan struct{})
}

// Pending returns the number of items waiting to be dequeued.
func (q *Queue[T]) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// InFlight returns the number of dequeued items not yet acknowledged.
func (q *Queue[T]) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight
}
