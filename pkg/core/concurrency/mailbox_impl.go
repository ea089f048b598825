package concurrency

import (
	"context"
	"sync"
)

// boundedMailbox implements Mailbox with a buffered channel
type boundedMailbox[T any] struct {
	ch       chan T
	mu       sync.RWMutex
	closed   bool
	capacity int
}

// NewMailbox creates a mailbox holding up to capacity messages
func NewMailbox[T any](capacity int) Mailbox[T] {
	if capacity < 1 {
		capacity = 100
	}
	return &boundedMailbox[T]{
		ch:       make(chan T, capacity),
		capacity: capacity,
	}
}

// Send implements Mailbox interface
func (mb *boundedMailbox[T]) Send(msg T) error {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	if mb.closed {
		return ErrMailboxClosed
	}
	select {
	case mb.ch <- msg:
		return nil
	default:
		return ErrMailboxFull
	}
}

// Receive implements Mailbox interface
func (mb *boundedMailbox[T]) Receive(ctx context.Context) (T, error) {
	var zero T
	select {
	case msg, ok := <-mb.ch:
		if !ok {
			return zero, ErrMailboxClosed
		}
		return msg, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// TryReceive implements Mailbox interface
func (mb *boundedMailbox[T]) TryReceive() (T, bool) {
	var zero T
	select {
	case msg, ok := <-mb.ch:
		if !ok {
			return zero, false
		}
		return msg, true
	default:
		return zero, false
	}
}

// Close implements Mailbox interface
func (mb *boundedMailbox[T]) Close() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if !mb.closed {
		mb.closed = true
		close(mb.ch)
	}
}

func (mb *boundedMailbox[T]) Capacity() int { return mb.capacity }

func (mb *boundedMailbox[T]) Size() int { return len(mb.ch) }

func (mb *boundedMailbox[T]) IsClosed() bool {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	return mb.closed
}
