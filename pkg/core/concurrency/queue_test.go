package concurrency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fluxorio/callcenter/pkg/task"
)

func entry(t *testing.T, id task.CallID) Entry {
	t.Helper()
	h := task.HandlerFunc(func(ctx context.Context, tk *task.Task) (task.Result, error) {
		return task.Result{Status: task.StatusCompleted}, nil
	})
	tk, err := task.New(id, task.Input{Number: "100", Operand: 1}, task.Bounds{Min: 0, Max: 10}, h)
	if err != nil {
		t.Fatalf("task.New() error = %v", err)
	}
	return Entry{ID: id, Task: tk}
}

func popNow(t *testing.T, q TaskQueue) Entry {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	e, err := q.Pop(ctx)
	if err != nil {
		t.Fatalf("Pop() error = %v", err)
	}
	return e
}

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(10)
	for i := 1; i <= 5; i++ {
		if err := q.Push(entry(t, task.CallID(i))); err != nil {
			t.Fatalf("Push(%d) error = %v", i, err)
		}
	}
	for i := 1; i <= 5; i++ {
		if got := popNow(t, q).ID; got != task.CallID(i) {
			t.Errorf("Pop() = %v, want %v", got, i)
		}
	}
	if !q.Empty() {
		t.Error("Empty() should be true after popping everything")
	}
}

func TestQueue_CapacityTwoScenario(t *testing.T) {
	q := NewQueue(2)
	a, b, c := entry(t, 1), entry(t, 2), entry(t, 3)

	if err := q.Push(a); err != nil {
		t.Fatalf("Push(A) error = %v", err)
	}
	if err := q.Push(b); err != nil {
		t.Fatalf("Push(B) error = %v", err)
	}
	if err := q.Push(c); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("Push(C) error = %v, want ErrQueueFull", err)
	}
	if got := popNow(t, q).ID; got != a.ID {
		t.Fatalf("Pop() = %v, want A", got)
	}
	if err := q.Push(c); err != nil {
		t.Fatalf("Push(C) after pop error = %v", err)
	}
	if got := popNow(t, q).ID; got != b.ID {
		t.Errorf("Pop() = %v, want B", got)
	}
	if got := popNow(t, q).ID; got != c.ID {
		t.Errorf("Pop() = %v, want C", got)
	}
}

func TestQueue_FrontBack(t *testing.T) {
	q := NewQueue(3)
	if _, ok := q.Front(); ok {
		t.Error("Front() on empty queue should report false")
	}
	q.Push(entry(t, 1))
	q.Push(entry(t, 2))

	if f, _ := q.Front(); f.ID != 1 {
		t.Errorf("Front() = %v, want 1", f.ID)
	}
	if b, _ := q.Back(); b.ID != 2 {
		t.Errorf("Back() = %v, want 2", b.ID)
	}
	if q.Len() != 2 {
		t.Errorf("Len() = %v, want 2", q.Len())
	}
}

func TestQueue_Update(t *testing.T) {
	q := NewQueue(5)
	for i := 1; i <= 3; i++ {
		q.Push(entry(t, task.CallID(i)))
	}

	if err := q.Update(2); !errors.Is(err, ErrCapacityViolation) {
		t.Errorf("Update(2) error = %v, want ErrCapacityViolation", err)
	}
	if q.Capacity() != 5 {
		t.Errorf("Capacity() = %v, want 5 after failed update", q.Capacity())
	}
	if err := q.Update(3); err != nil {
		t.Errorf("Update(3) error = %v", err)
	}
	if q.Len() > q.Capacity() {
		t.Errorf("Len() = %v > Capacity() = %v", q.Len(), q.Capacity())
	}
	if err := q.Push(entry(t, 4)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Push() error = %v, want ErrQueueFull", err)
	}
	if err := q.Update(0); !errors.Is(err, ErrInvalidCapacity) {
		t.Errorf("Update(0) error = %v, want ErrInvalidCapacity", err)
	}
}

func TestQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewQueue(1)
	got := make(chan task.CallID, 1)

	go func() {
		e, err := q.Pop(context.Background())
		if err == nil {
			got <- e.ID
		}
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(entry(t, 9))

	select {
	case id := <-got:
		if id != 9 {
			t.Errorf("Pop() = %v, want 9", id)
		}
	case <-time.After(time.Second):
		t.Fatal("Pop() did not wake up after Push()")
	}
}

func TestQueue_PopContextCancelled(t *testing.T) {
	q := NewQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := q.Pop(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Pop() error = %v, want DeadlineExceeded", err)
	}
}

func TestQueue_Close(t *testing.T) {
	q := NewQueue(2)
	q.Push(entry(t, 1))
	q.Close()

	if err := q.Push(entry(t, 2)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push() after Close error = %v, want ErrQueueClosed", err)
	}
	if got := popNow(t, q).ID; got != 1 {
		t.Errorf("Pop() = %v, want 1", got)
	}
	if _, err := q.Pop(context.Background()); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Pop() on closed empty queue error = %v, want ErrQueueClosed", err)
	}
}

func TestQueue_AdoptKeepsOrderAndShrinks(t *testing.T) {
	old := NewQueue(5)
	for i := 1; i <= 4; i++ {
		old.Push(entry(t, task.CallID(i)))
	}

	q := NewQueue(2)
	q.Adopt(old.Drain())

	if err := old.Push(entry(t, 9)); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Push() into drained queue error = %v, want ErrQueueClosed", err)
	}
	if q.Len() != 4 || q.Capacity() != 4 {
		t.Fatalf("Len() = %v, Capacity() = %v, want 4, 4", q.Len(), q.Capacity())
	}
	if err := q.Push(entry(t, 5)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Push() over target error = %v, want ErrQueueFull", err)
	}

	for i := 1; i <= 4; i++ {
		if got := popNow(t, q).ID; got != task.CallID(i) {
			t.Errorf("Pop() = %v, want %v", got, i)
		}
		if q.Len() > q.Capacity() {
			t.Errorf("Len() = %v > Capacity() = %v", q.Len(), q.Capacity())
		}
	}
	if q.Capacity() != 2 {
		t.Errorf("Capacity() = %v, want target 2 after draining backlog", q.Capacity())
	}
}

type countingRecorder struct {
	mu  sync.Mutex
	ids []task.CallID
	err error
}

func (r *countingRecorder) MakeRecord(ctx context.Context, id task.CallID, res task.Result) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, id)
	return r.err
}

func (r *countingRecorder) seen() []task.CallID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]task.CallID(nil), r.ids...)
}

func TestQueue_RecordFanOut(t *testing.T) {
	ok := &countingRecorder{}
	failing := &countingRecorder{err: errors.New("disk full")}
	q := NewQueue(1, WithRecorders(ok, failing))

	err := q.Record(context.Background(), 3, task.Result{Status: task.StatusCompleted})
	if err == nil {
		t.Error("Record() should report recorder failure")
	}
	if len(ok.seen()) != 1 || len(failing.seen()) != 1 {
		t.Errorf("recorders saw %v and %v, want one record each", ok.seen(), failing.seen())
	}

	q.SetRecorders(ok)
	if err := q.Record(context.Background(), 4, task.Result{}); err != nil {
		t.Errorf("Record() error = %v", err)
	}
	if len(failing.seen()) != 1 {
		t.Error("replaced recorder should not receive new records")
	}
}
