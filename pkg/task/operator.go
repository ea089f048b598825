package task

import (
	"context"
	"time"
)

// DefaultUnit is the length of one operand unit for the operator simulation
const DefaultUnit = time.Second

// Operator simulates an operator answering a call. A call that waited in the
// queue for Max units or longer is answered with StatusTimeout; otherwise the
// operator holds the line for Operand units.
type Operator struct {
	unit time.Duration
	now  func() time.Time
}

// NewOperator creates an operator handler with the given unit
func NewOperator(unit time.Duration) *Operator {
	if unit <= 0 {
		unit = DefaultUnit
	}
	return &Operator{unit: unit, now: time.Now}
}

// Unit returns the operand unit
func (o *Operator) Unit() time.Duration { return o.unit }

// Handle implements Handler
func (o *Operator) Handle(ctx context.Context, t *Task) (Result, error) {
	answered := o.now()
	waited := answered.Sub(t.AcceptedAt())
	limit := time.Duration(t.Bounds().Max) * o.unit

	if waited >= limit {
		return Result{Status: StatusTimeout, AnsweredAt: answered}, nil
	}

	d := time.Duration(t.Operand()) * o.unit
	if d > 0 {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return Result{AnsweredAt: answered}, ctx.Err()
		}
	}
	return Result{Status: StatusCompleted, Duration: d, AnsweredAt: answered}, nil
}
