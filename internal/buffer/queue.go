package buffer

import (
	"context"
	"errors"
	"sync"
)

// ErrQueueClosed is returned by Pop once the queue is closed and drained.
var ErrQueueClosed = errors.New("queue closed")

// Queue is an unbounded FIFO safe for one or more producers and consumers.
// Push never blocks, so producers running inside notification callbacks are
// never held up by slow consumers.
type Queue[T any] struct {
	mu      sync.Mutex
	entries []T
	head    int
	ready   chan struct{}
	closed  bool
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{
		ready: make(chan struct{}, 1),
	}
}

// Push appends an entry. It reports false when the queue is closed.
func (q *Queue[T]) Push(entry T) bool {
	if q == nil {
		return false
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.entries = append(q.entries, entry)
	q.mu.Unlock()

	q.signal()
	return true
}

// Pop blocks until an entry is available, ctx is done, or the queue is
// closed with nothing left to drain.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	if q == nil {
		return zero, ErrQueueClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	for {
		q.mu.Lock()
		if entry, ok := q.popLocked(); ok {
			more := q.head < len(q.entries) || q.closed
			q.mu.Unlock()
			if more {
				q.signal()
			}
			return entry, nil
		}
		if q.closed {
			q.mu.Unlock()
			q.signal()
			return zero, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// TryPop returns the next entry without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	var zero T
	if q == nil {
		return zero, false
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.popLocked()
	if !ok {
		return zero, false
	}
	return entry, true
}

func (q *Queue[T]) Len() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries) - q.head
}

// Close stops accepting entries. Entries already queued remain poppable.
func (q *Queue[T]) Close() {
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

// Discard drops every pending entry and returns how many were dropped.
func (q *Queue[T]) Discard() int {
	if q == nil {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	dropped := len(q.entries) - q.head
	q.entries = nil
	q.head = 0
	return dropped
}

func (q *Queue[T]) Closed() bool {
	if q == nil {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

func (q *Queue[T]) popLocked() (T, bool) {
	var zero T
	if q.head >= len(q.entries) {
		return zero, false
	}
	entry := q.entries[q.head]
	q.entries[q.head] = zero
	q.head++
	if q.head == len(q.entries) {
		q.entries = q.entries[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 >= len(q.entries) {
		remaining := copy(q.entries, q.entries[q.head:])
		clear(q.entries[remaining:])
		q.entries = q.entries[:remaining]
		q.head = 0
	}
	return entry, true
}

func (q *Queue[T]) signal() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}
