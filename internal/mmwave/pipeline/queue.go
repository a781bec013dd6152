package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/mmwave/internal/monitoring"
)

// ErrQueueClosed is returned by Pop once the queue is closed and drained,
// and by Push after Close.
var ErrQueueClosed = errors.New("pipeline: queue closed")

// Queue is a bounded FIFO that drops its oldest item when full.
type Queue[T any] struct {
	mu     sync.Mutex
	items  []T
	size   int
	closed bool

	ready chan struct{} // one pending wake-up
	done  chan struct{} // closed by Close

	dropped atomic.Uint64
	sent    atomic.Uint64
	dropLog monitoring.EveryN
}

// NewQueue returns a queue holding at most size items (minimum 1).
func NewQueue[T any](size int) *Queue[T] {
	if size < 1 {
		size = 1
	}
	return &Queue[T]{
		items:   make([]T, 0, size),
		size:    size,
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
		dropLog: monitoring.EveryN{N: 100},
	}
}

// Push appends v, evicting the oldest item if the queue is full.
func (q *Queue[T]) Push(v T) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if len(q.items) == q.size {
		q.shiftLocked()
		n := q.dropped.Add(1)
		q.dropLog.Logf("[pipeline] queue full (%d), dropped oldest frame, %d dropped so far", q.size, n)
	}
	q.items = append(q.items, v)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Pop removes the oldest item, waiting until one is available, the queue
// is closed and empty, or ctx ends.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	var zero T
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			v := q.shiftLocked()
			q.mu.Unlock()
			q.sent.Add(1)
			return v, nil
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return zero, ErrQueueClosed
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-q.ready:
		case <-q.done:
		}
	}
}

// shiftLocked removes and returns the head, keeping the backing array.
func (q *Queue[T]) shiftLocked() T {
	var zero T
	v := q.items[0]
	n := copy(q.items, q.items[1:])
	q.items[n] = zero
	q.items = q.items[:n]
	return v
}

// Close stops further pushes. Items already queued can still be popped.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.done)
}

// Len is the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped counts items evicted because the queue was full.
func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }

// Sent counts items handed out by Pop.
func (q *Queue[T]) Sent() uint64 { return q.sent.Load() }
