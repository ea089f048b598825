package concurrency

import (
	"context"
	"errors"
	"sync"

	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/core/failfast"
	"github.com/fluxorio/callcenter/pkg/task"
)

// boundedQueue implements TaskQueue with a slice guarded by a condition
// variable
type boundedQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []Entry

	// capacity is the effective bound. It only exceeds target after adopting
	// a larger backlog, and shrinks back toward target as entries are popped.
	capacity int
	target   int
	closed   bool

	recMu     sync.RWMutex
	recorders []Recorder

	logger core.Logger
}

// QueueOption configures a queue built by NewQueue
type QueueOption func(*boundedQueue)

// WithQueueLogger sets the logger used for recorder failures
func WithQueueLogger(logger core.Logger) QueueOption {
	return func(q *boundedQueue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithRecorders sets the initial recorders
func WithRecorders(recs ...Recorder) QueueOption {
	return func(q *boundedQueue) {
		q.recorders = append([]Recorder(nil), recs...)
	}
}

// NewQueue creates an empty queue holding up to capacity entries
func NewQueue(capacity int, opts ...QueueOption) TaskQueue {
	failfast.Positive(capacity, "queue capacity")

	q := &boundedQueue{
		items:    make([]Entry, 0, capacity),
		capacity: capacity,
		target:   capacity,
		logger:   core.NopLogger(),
	}
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Push implements TaskQueue interface
func (q *boundedQueue) Push(e Entry) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}
	if len(q.items) >= q.target {
		return ErrQueueFull
	}
	q.items = append(q.items, e)
	q.cond.Signal()
	return nil
}

// Pop implements TaskQueue interface
func (q *boundedQueue) Pop(ctx context.Context) (Entry, error) {
	stop := context.AfterFunc(ctx, func() {
		q.mu.Lock()
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return Entry{}, err
		}
		if len(q.items) > 0 {
			break
		}
		if q.closed {
			return Entry{}, ErrQueueClosed
		}
		q.cond.Wait()
	}

	e := q.items[0]
	q.items[0] = Entry{}
	q.items = q.items[1:]

	if q.capacity > q.target {
		q.capacity = max(q.target, len(q.items))
	}
	return e, nil
}

func (q *boundedQueue) Front() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Entry{}, false
	}
	return q.items[0], true
}

func (q *boundedQueue) Back() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return Entry{}, false
	}
	return q.items[len(q.items)-1], true
}

func (q *boundedQueue) Empty() bool {
	return q.Len() == 0
}

func (q *boundedQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *boundedQueue) Capacity() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.capacity
}

// Update implements TaskQueue interface
func (q *boundedQueue) Update(newCapacity int) error {
	if newCapacity < 1 {
		return ErrInvalidCapacity
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) > newCapacity {
		return ErrCapacityViolation
	}
	q.capacity = newCapacity
	q.target = newCapacity
	return nil
}

// Close implements TaskQueue interface
func (q *boundedQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Drain implements TaskQueue interface
func (q *boundedQueue) Drain() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = make([]Entry, 0)
	q.closed = true
	q.cond.Broadcast()
	return items
}

// Adopt implements TaskQueue interface
func (q *boundedQueue) Adopt(entries []Entry) {
	if len(entries) == 0 {
		return
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	merged := make([]Entry, 0, len(entries)+len(q.items))
	merged = append(merged, entries...)
	merged = append(merged, q.items...)
	q.items = merged

	if len(q.items) > q.capacity {
		q.capacity = len(q.items)
	}
	q.cond.Broadcast()
}

// SetRecorders replaces the recorders. Results completed after this call go
// to the new set.
func (q *boundedQueue) SetRecorders(recs ...Recorder) {
	q.recMu.Lock()
	defer q.recMu.Unlock()
	q.recorders = append([]Recorder(nil), recs...)
}

// Recorders returns a copy of the current recorders
func (q *boundedQueue) Recorders() []Recorder {
	q.recMu.RLock()
	defer q.recMu.RUnlock()
	return append([]Recorder(nil), q.recorders...)
}

// Record implements TaskQueue interface
func (q *boundedQueue) Record(ctx context.Context, id task.CallID, res task.Result) error {
	var errs []error
	for _, rec := range q.Recorders() {
		if err := rec.MakeRecord(ctx, id, res); err != nil {
			q.logger.Warn("record failed", "call_id", uint64(id), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
