// Package task defines the unit of work executed by the engine: the immutable
// Task, its Result, and the Future/Registry pair that delivers each Result
// exactly once to the submitter.
package task

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// CallID identifies a submitted task. IDs are issued by a Registry, start at 1
// and are never reused.
type CallID uint64

// ErrInvalidInput is returned when an input violates the current bounds
var ErrInvalidInput = errors.New("invalid input")

// Status is the outcome of a task
type Status int

const (
	StatusAwaiting Status = iota
	StatusCompleted
	StatusFailed
	StatusTimeout
	StatusOverloaded
	StatusRejected
	StatusCancelled
)

var statusNames = [...]string{
	StatusAwaiting:   "Awaiting",
	StatusCompleted:  "Completed",
	StatusFailed:     "Failed",
	StatusTimeout:    "Timeout",
	StatusOverloaded: "Overloaded",
	StatusRejected:   "Rejected",
	StatusCancelled:  "Cancelled",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// MarshalText encodes the status by name
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name
func (s *Status) UnmarshalText(b []byte) error {
	for i, name := range statusNames {
		if name == string(b) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", b)
}

// Input is what a caller submits
type Input struct {
	Number  string `json:"number"`
	Operand int    `json:"operand"`
}

// Bounds is the inclusive operand range captured when a task is accepted
type Bounds struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

// Contains reports whether v is within [Min, Max]
func (b Bounds) Contains(v int) bool {
	return v >= b.Min && v <= b.Max
}

// Result is produced exactly once per task
type Result struct {
	CallID     CallID        `json:"call_id"`
	Number     string        `json:"number"`
	Status     Status        `json:"status"`
	Duration   time.Duration `json:"duration"`
	Operator   int           `json:"operator"`
	AcceptedAt time.Time     `json:"accepted_at"`
	AnsweredAt time.Time     `json:"answered_at,omitempty"`
	FinishedAt time.Time     `json:"finished_at"`
	Err        error         `json:"-"`
}

// Handler performs the work of a task. It returns the partial result
// (Status, Duration, AnsweredAt); identity fields are filled in by Execute.
type Handler interface {
	Handle(ctx context.Context, t *Task) (Result, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, t *Task) (Result, error)

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, t *Task) (Result, error) {
	return f(ctx, t)
}

// Task is immutable after construction
type Task struct {
	id         CallID
	input      Input
	bounds     Bounds
	acceptedAt time.Time
	handler    Handler
}

// New validates in against bounds and builds a task accepted now
func New(id CallID, in Input, bounds Bounds, h Handler) (*Task, error) {
	return NewAt(id, in, bounds, h, time.Now())
}

// NewAt is New with an explicit acceptance time
func NewAt(id CallID, in Input, bounds Bounds, h Handler, acceptedAt time.Time) (*Task, error) {
	if err := Validate(in, bounds); err != nil {
		return nil, err
	}
	if h == nil {
		return nil, fmt.Errorf("task %d: handler cannot be nil", id)
	}
	return &Task{
		id:         id,
		input:      in,
		bounds:     bounds,
		acceptedAt: acceptedAt,
		handler:    h,
	}, nil
}

// Validate checks in against bounds
func Validate(in Input, bounds Bounds) error {
	if in.Number == "" {
		return fmt.Errorf("%w: number is empty", ErrInvalidInput)
	}
	if !bounds.Contains(in.Operand) {
		return fmt.Errorf("%w: operand %d outside [%d, %d]", ErrInvalidInput, in.Operand, bounds.Min, bounds.Max)
	}
	return nil
}

func (t *Task) ID() CallID            { return t.id }
func (t *Task) Input() Input          { return t.input }
func (t *Task) Number() string        { return t.input.Number }
func (t *Task) Operand() int          { return t.input.Operand }
func (t *Task) Bounds() Bounds        { return t.bounds }
func (t *Task) AcceptedAt() time.Time { return t.acceptedAt }

// Name returns a human-readable name for logging
func (t *Task) Name() string {
	return fmt.Sprintf("call-%d", t.id)
}

// Execute runs the handler. Handler errors and panics become StatusFailed
// results; Execute itself never panics.
func (t *Task) Execute(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = t.fill(Result{
				Status: StatusFailed,
				Err:    fmt.Errorf("task %s panicked: %v\n%s", t.Name(), r, debug.Stack()),
			})
		}
	}()

	out, err := t.handler.Handle(ctx, t)
	if err != nil {
		out.Status = StatusFailed
		out.Err = err
	}
	return t.fill(out)
}

// Overloaded builds the result recorded for a task rejected by a full queue
func (t *Task) Overloaded() Result {
	now := time.Now()
	return t.fill(Result{Status: StatusOverloaded, AnsweredAt: now, FinishedAt: now})
}

// Cancelled builds the result for a task dropped at shutdown
func (t *Task) Cancelled() Result {
	return t.fill(Result{Status: StatusCancelled})
}

func (t *Task) fill(res Result) Result {
	res.CallID = t.id
	res.Number = t.input.Number
	res.AcceptedAt = t.acceptedAt
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now()
	}
	return res
}
