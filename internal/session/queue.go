package session

import (
	"context"
	"sync"

	"github.com/muurk/loxone/internal/client"
)

// queue is an unbounded FIFO of client events. Put never blocks so the
// client's reader is never held up by a slow consumer.
type queue struct {
	mu     sync.Mutex
	items  []client.Event
	signal chan struct{}
}

func newQueue() *queue {
	return &queue{signal: make(chan struct{}, 1)}
}

// Put appends an event.
func (q *queue) Put(e client.Event) {
	q.mu.Lock()
	q.items = append(q.items, e)
	q.mu.Unlock()
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Get removes the oldest event, blocking until one is available or ctx is done.
func (q *queue) Get(ctx context.Context) (client.Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			e := q.items[0]
			q.items[0] = client.Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return e, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return client.Event{}, ctx.Err()
		}
	}
}

// Len reports the number of queued events.
func (q *queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
