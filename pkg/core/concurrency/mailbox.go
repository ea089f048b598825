package concurrency

import "context"

// Mailbox is a bounded buffer between producers and a background consumer.
// Send never blocks: a full mailbox rejects the message.
type Mailbox[T any] interface {
	// Send enqueues msg or fails with ErrMailboxFull / ErrMailboxClosed
	Send(msg T) error

	// Receive blocks until a message is available, the mailbox is closed and
	// empty, or ctx is done. Messages buffered before Close are still
	// delivered.
	Receive(ctx context.Context) (T, error)

	// TryReceive returns a buffered message without blocking
	TryReceive() (T, bool)

	// Close stops accepting messages. Safe to call more than once.
	Close()

	Capacity() int
	Size() int
	IsClosed() bool
}
