// Package mailbox implements the bounded, blocking 32-bit word channel that
// carries ring offsets and stream words between the bridge and a hardware
// peer.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrClosed is returned by Put and Get once the mailbox has been closed.
	ErrClosed = errors.New("mailbox closed")
	// ErrInvalidDepth is returned by New for a depth below one.
	ErrInvalidDepth = errors.New("mailbox depth must be at least 1")
)

// Mailbox is a bounded FIFO of words. Put blocks while it is full and Get
// blocks while it is empty; both give up when the context ends or the
// mailbox is closed.
type Mailbox struct {
	ch        chan uint32
	done      chan struct{}
	closeOnce sync.Once
}

// New creates a mailbox holding up to depth words.
func New(depth int) (*Mailbox, error) {
	if depth < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidDepth, depth)
	}
	return &Mailbox{
		ch:   make(chan uint32, depth),
		done: make(chan struct{}),
	}, nil
}

// Put appends a word, waiting for room.
func (m *Mailbox) Put(ctx context.Context, word uint32) error {
	select {
	case <-m.done:
		return ErrClosed
	default:
	}

	select {
	case m.ch <- word:
		return nil
	case <-m.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Get removes the oldest word, waiting for one to arrive. Words already
// queued when the mailbox is closed are still delivered.
func (m *Mailbox) Get(ctx context.Context) (uint32, error) {
	select {
	case w := <-m.ch:
		return w, nil
	default:
	}

	select {
	case w := <-m.ch:
		return w, nil
	case <-m.done:
		select {
		case w := <-m.ch:
			return w, nil
		default:
			return 0, ErrClosed
		}
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// TryGet returns the oldest word without blocking.
func (m *Mailbox) TryGet() (uint32, bool) {
	select {
	case w := <-m.ch:
		return w, true
	default:
		return 0, false
	}
}

// Close wakes every blocked Put and Get. It is safe to call more than once.
func (m *Mailbox) Close() {
	m.closeOnce.Do(func() { close(m.done) })
}

// Closed reports whether Close has been called.
func (m *Mailbox) Closed() bool {
	select {
	case <-m.done:
		return true
	default:
		return false
	}
}

// Len returns the number of queued words.
func (m *Mailbox) Len() int { return len(m.ch) }

// Cap returns the mailbox depth.
func (m *Mailbox) Cap() int { return cap(m.ch) }
