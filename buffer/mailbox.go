package buffer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by Take once the mailbox is closed and drained.
var ErrClosed = errors.New("mailbox closed")

// Mailbox is a single-slot queue: Put never blocks and a newer value replaces
// an unconsumed older one.
type Mailbox[T any] struct {
	ch        chan T
	done      chan struct{}
	closeOnce sync.Once
	putMu     sync.Mutex
	drops     atomic.Uint64
	delivered atomic.Uint64
}

// NewMailbox returns an empty mailbox.
func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		ch:   make(chan T, 1),
		done: make(chan struct{}),
	}
}

// Put stores v, dropping the stale value if the consumer has not taken it.
// It reports false when the mailbox is closed.
func (m *Mailbox[T]) Put(v T) bool {
	m.putMu.Lock()
	defer m.putMu.Unlock()

	select {
	case <-m.done:
		return false
	default:
	}

	select {
	case m.ch <- v:
		return true
	default:
	}
	// consumer is lagging behind: drop the oldest value and overwrite with the newest one
	select {
	case <-m.ch:
		m.drops.Add(1)
	default:
	}
	select {
	case m.ch <- v:
	default:
		m.drops.Add(1)
	}
	return true
}

// Take blocks until a value is available, the mailbox is closed or ctx ends.
func (m *Mailbox[T]) Take(ctx context.Context) (T, error) {
	var zero T
	select {
	case v := <-m.ch:
		m.delivered.Add(1)
		return v, nil
	default:
	}
	select {
	case v := <-m.ch:
		m.delivered.Add(1)
		return v, nil
	case <-m.done:
		return zero, ErrClosed
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Close wakes a blocked Take. Further Puts are ignored. Safe to call repeatedly.
func (m *Mailbox[T]) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
}

// Done is closed once Close has been called.
func (m *Mailbox[T]) Done() <-chan struct{} {
	return m.done
}

// Drops returns the number of values overwritten before being taken.
func (m *Mailbox[T]) Drops() uint64 {
	return m.drops.Load()
}

// Delivered returns the number of values handed to the consumer.
func (m *Mailbox[T]) Delivered() uint64 {
	return m.delivered.Load()
}
