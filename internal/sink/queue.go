package sink

import (
	"context"
	"sync"
	"time"

	"github.com/PatrickBaus/data-logger/internal/event"
)

// Queue is an unbounded FIFO queue connecting the fanout router to one sink
// consumer. Put never blocks; a sink that cannot keep up accumulates backlog
// here instead of back-pressuring the sampler. Consumers acknowledge each
// item with Done, which Join waits on during shutdown.
type Queue struct {
	mu      sync.Mutex
	items   []event.Sample
	pending int

	notify chan struct{}
	acked  chan struct{}
}

func NewQueue() *Queue {
	return &Queue{
		notify: make(chan struct{}, 1),
		acked:  make(chan struct{}, 1),
	}
}

// Put appends an item. It never blocks.
func (q *Queue) Put(item event.Sample) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.pending++
	q.mu.Unlock()

	q.nudge(q.notify)
}

// Get removes and returns the oldest item, blocking until one is available
// or the context is cancelled.
func (q *Queue) Get(ctx context.Context) (event.Sample, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			item := q.items[0]
			q.items = append(q.items[:0], q.items[1:]...)
			if len(q.items) > 0 {
				// Wake the next waiter, a single nudge may cover many Puts.
				q.nudge(q.notify)
			}
			q.mu.Unlock()

			return item, nil
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return event.Sample{}, ctx.Err()
		case <-q.notify:
		}
	}
}

// Done acknowledges one previously fetched item.
func (q *Queue) Done() {
	q.mu.Lock()
	q.pending--
	q.mu.Unlock()

	q.nudge(q.acked)
}

// Join waits until every item put onto the queue has been acknowledged, or
// the timeout expires. It reports whether the queue fully drained.
func (q *Queue) Join(timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		q.mu.Lock()
		pending := q.pending
		q.mu.Unlock()
		if pending <= 0 {
			return true
		}

		select {
		case <-deadline.C:
			return false
		case <-q.acked:
		}
	}
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.items)
}

func (q *Queue) nudge(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
