package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownCallID is returned when resolving an ID that is not pending
var ErrUnknownCallID = errors.New("unknown or already resolved call id")

// Future is the completion handle returned to a submitter. It is resolved at
// most once and can be read by any number of goroutines.
type Future struct {
	id     CallID
	done   chan struct{}
	once   sync.Once
	result Result
}

func newFuture(id CallID) *Future {
	return &Future{id: id, done: make(chan struct{})}
}

// ID returns the call id this future belongs to
func (f *Future) ID() CallID { return f.id }

// Done is closed once the result is available
func (f *Future) Done() <-chan struct{} { return f.done }

// Wait blocks until the result is available or ctx is done
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the result without blocking
func (f *Future) Result() (Result, bool) {
	select {
	case <-f.done:
		return f.result, true
	default:
		return Result{}, false
	}
}

// resolve publishes res. It returns false if the future was already resolved.
func (f *Future) resolve(res Result) bool {
	resolved := false
	f.once.Do(func() {
		f.result = res
		close(f.done)
		resolved = true
	})
	return resolved
}

// Registry issues CallIDs and owns the futures of every pending task.
// It outlives any queue or pool, so handles stay valid across swaps.
type Registry struct {
	mu      sync.Mutex
	last    CallID
	pending map[CallID]*Future
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{pending: make(map[CallID]*Future)}
}

// Issue allocates the next CallID and its future
func (r *Registry) Issue() (CallID, *Future) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.last++
	f := newFuture(r.last)
	r.pending[r.last] = f
	return r.last, f
}

// Resolve delivers res to the future of id and forgets it
func (r *Registry) Resolve(id CallID, res Result) error {
	r.mu.Lock()
	f, ok := r.pending[id]
	delete(r.pending, id)
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownCallID, id)
	}
	res.CallID = id
	if !f.resolve(res) {
		return fmt.Errorf("%w: %d", ErrUnknownCallID, id)
	}
	return nil
}

// Pending returns the number of unresolved futures
func (r *Registry) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// LastIssued returns the most recently issued id, or 0
func (r *Registry) LastIssued() CallID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// CancelAll resolves every pending future with status and returns how many
// were resolved
func (r *Registry) CancelAll(status Status) int {
	r.mu.Lock()
	pending := r.pending
	r.pending = make(map[CallID]*Future)
	r.mu.Unlock()

	n := 0
	for id, f := range pending {
		if f.resolve(Result{CallID: id, Status: status}) {
			n++
		}
	}
	return n
}
