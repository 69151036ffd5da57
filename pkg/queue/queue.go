package queue

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Enqueue after Close, and by Dequeue once the queue
// is closed and drained.
var ErrClosed = errors.New("queue: closed")

// Queue is an unbounded FIFO that hands each item to exactly one consumer.
//
// Enqueue never blocks beyond the internal lock. Dequeue blocks until an item
// is available, the context is done, or the queue is closed and empty.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool

	// ready holds at most one wakeup. A consumer that takes an item and sees
	// more pending passes the wakeup on, so waiters are never stranded.
	ready chan struct{}
	done  chan struct{}
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
		done:  make(chan struct{}),
	}
}

// Enqueue appends v and wakes one waiting consumer.
func (q *Queue[T]) Enqueue(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	q.signal()
	return nil
}

// Dequeue removes and returns the oldest item.
func (q *Queue[T]) Dequeue(ctx context.Context) (T, error) {
	var zero T
	for {
		v, ok, closed := q.pop()
		if ok {
			return v, nil
		}
		if closed {
			return zero, ErrClosed
		}

		select {
		case <-q.ready:
		case <-q.done:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

func (q *Queue[T]) pop() (v T, ok bool, closed bool) {
	q.mu.Lock()
	if len(q.items) == 0 {
		closed = q.closed
		q.mu.Unlock()
		return v, false, closed
	}
	v = q.items[0]
	var zero T
	q.items[0] = zero
	q.items = q.items[1:]
	more := len(q.items) > 0
	q.mu.Unlock()

	if more {
		q.signal()
	}
	return v, true, false
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Close stops the queue from accepting items. Items already queued remain
// available to Dequeue. Close is safe to call more than once.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
