package concurrency

import "errors"

var (
	// ErrQueueFull is returned by Push when the queue is at capacity
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueClosed is returned once a queue has been closed or drained
	ErrQueueClosed = errors.New("queue is closed")

	// ErrCapacityViolation is returned when shrinking below the current length
	ErrCapacityViolation = errors.New("capacity below current queue length")

	// ErrInvalidCapacity is returned for capacities below 1
	ErrInvalidCapacity = errors.New("capacity must be at least 1")

	// ErrPoolRunning is returned by operations that require a stopped pool
	ErrPoolRunning = errors.New("worker pool is running")

	// ErrAlreadyRunning is returned by Start on a running pool
	ErrAlreadyRunning = errors.New("worker pool is already running")

	// ErrNoQueue is returned when a pool has no queue attached
	ErrNoQueue = errors.New("worker pool has no queue")

	// ErrMailboxClosed is returned when trying to send/receive on a closed mailbox
	ErrMailboxClosed = errors.New("mailbox is closed")

	// ErrMailboxFull is returned when trying to send to a full mailbox (backpressure)
	ErrMailboxFull = errors.New("mailbox is full")
)
