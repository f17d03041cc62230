package packet

import (
	"context"
	"sync"
)

// Queue is a FIFO of owned packets guarded by one mutex. Producers call Add
// from any goroutine; a single consumer pairs Wait with Poll.
type Queue struct {
	mu     sync.Mutex
	items  []*Packet
	limit  int
	closed bool
	ready  chan struct{}
}

// NewQueue returns a queue holding at most limit packets (0 means unbounded).
func NewQueue(limit int) *Queue {
	return &Queue{
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Add appends p and wakes the consumer.
func (q *Queue) Add(p *Packet) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	if q.limit > 0 && len(q.items) >= q.limit {
		q.mu.Unlock()
		return ErrQueueFull
	}
	q.items = append(q.items, p)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return nil
}

// Poll removes and returns the oldest packet, or ErrNoData if none is queued.
func (q *Queue) Poll() (*Packet, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, ErrNoData
	}
	p := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return p, nil
}

// Len returns the number of queued packets.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Wait blocks until the queue is non-empty or ctx is done. Wake-ups are
// coalesced, so the length is re-checked every time.
func (q *Queue) Wait(ctx context.Context) error {
	for {
		if q.Len() > 0 {
			return nil
		}
		select {
		case <-q.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close drops every queued packet and makes later Adds fail with
// ErrQueueClosed. It returns how many packets were dropped.
func (q *Queue) Close() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	n := len(q.items)
	q.items = nil
	return n
}
