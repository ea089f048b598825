package concurrency

import (
	"context"

	"github.com/fluxorio/callcenter/pkg/task"
)

// Entry is a queued task together with its call id
type Entry struct {
	ID   task.CallID
	Task *task.Task
}

// Recorder receives the result of every task completed from a queue
type Recorder interface {
	MakeRecord(ctx context.Context, id task.CallID, res task.Result) error
}

// TaskQueue is a bounded FIFO of entries shared by the workers of one pool.
//
// Push never blocks: a full queue rejects with ErrQueueFull. Pop blocks while
// the queue is empty. Len() <= Capacity() holds at all times.
type TaskQueue interface {
	// Push appends e and wakes one waiting consumer
	Push(e Entry) error

	// Pop removes and returns the front entry. It blocks while the queue is
	// empty, and returns ctx.Err() once ctx is done or ErrQueueClosed once
	// the queue is closed and empty.
	Pop(ctx context.Context) (Entry, error)

	Front() (Entry, bool)
	Back() (Entry, bool)
	Empty() bool
	Len() int

	// Capacity returns the effective bound
	Capacity() int

	// Update changes the capacity. It fails without changing anything when
	// the queue currently holds more than newCapacity entries.
	Update(newCapacity int) error

	// Close stops admission and wakes all waiting consumers. Entries already
	// queued can still be popped.
	Close()

	// Drain removes every entry in FIFO order and closes the queue
	Drain() []Entry

	// Adopt places entries ahead of everything already queued, growing the
	// effective capacity for as long as the backlog exceeds it
	Adopt(entries []Entry)

	SetRecorders(recs ...Recorder)
	Recorders() []Recorder

	// Record offers res to every recorder. Failures are joined; they never
	// affect the task outcome.
	Record(ctx context.Context, id task.CallID, res task.Result) error
}
