package concurrency

import (
	"context"
	"time"

	"github.com/fluxorio/callcenter/pkg/task"
)

// Resolver delivers a finished task's result to whoever is waiting on it.
// An error means the call already has an outcome.
type Resolver interface {
	Resolve(id task.CallID, res task.Result) error
}

// Observer is notified about task execution, e.g. to export metrics
type Observer interface {
	TaskStarted(operator int)
	TaskFinished(res task.Result, elapsed time.Duration)
	RecordFailed(err error)
}

// PoolStats is a point-in-time view of a pool
type PoolStats struct {
	Workers       int    `json:"workers"`
	Running       bool   `json:"running"`
	Active        int64  `json:"active"`
	Processed     uint64 `json:"processed"`
	QueueLen      int    `json:"queue_len"`
	QueueCapacity int    `json:"queue_capacity"`
}

// WorkerPool runs a fixed number of workers that pop entries from a shared
// TaskQueue. Stopping lets every worker finish its current task; queued
// entries stay in the queue. A stopped pool can be started again.
type WorkerPool interface {
	// Start spawns the workers
	Start() error

	// Stop signals the workers and waits for them to join or ctx to be done
	Stop(ctx context.Context) error

	// StopAsync signals the workers to exit after their current task and
	// returns a channel that is closed once all of them have returned
	StopAsync() <-chan struct{}

	// SetTaskQueue attaches q. The pool must be stopped.
	SetTaskQueue(q TaskQueue) error

	// TransferObjects moves every queued entry of old into this pool's
	// queue, ahead of anything already there, and closes old's queue. Tasks
	// old is currently executing finish there.
	TransferObjects(old WorkerPool) error

	// InFlight returns the entries workers are executing right now, by id
	InFlight() []Entry

	Size() int
	Running() bool
	Queue() TaskQueue
	Stats() PoolStats
}
