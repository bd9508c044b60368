package dispatch

import (
	"context"
	"errors"
	"sync"
)

var errQueueClosed = errors.New("dispatch queue closed")

// queue is a bounded in-memory queue of listing keys that have a pending
// write and no write in flight.
type queue struct {
	mu     sync.RWMutex
	closed bool
	ch     chan string
}

func newQueue(capacity int) *queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &queue{ch: make(chan string, capacity)}
}

// tryEnqueue adds key without blocking.
func (q *queue) tryEnqueue(key string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return errQueueClosed
	}

	select {
	case q.ch <- key:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *queue) dequeue(ctx context.Context) (string, error) {
	select {
	case key, ok := <-q.ch:
		if !ok {
			return "", errQueueClosed
		}
		return key, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}
