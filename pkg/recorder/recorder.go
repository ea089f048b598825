// Package recorder persists call detail records (CDRs) produced by the engine.
package recorder

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/task"
)

var (
	// ErrBackpressure is returned when a recorder's buffer is full
	ErrBackpressure = errors.New("recorder buffer full")
	// ErrClosed is returned by recorders after Close
	ErrClosed = errors.New("recorder closed")
)

// Recorder durably records the outcome of one call.
// Implementations must not block a worker indefinitely.
type Recorder interface {
	MakeRecord(ctx context.Context, id task.CallID, res task.Result) error
}

// Func adapts a function to Recorder
type Func func(ctx context.Context, id task.CallID, res task.Result) error

func (f Func) MakeRecord(ctx context.Context, id task.CallID, res task.Result) error {
	return f(ctx, id, res)
}

// Set fans a record out to every registered recorder
type Set struct {
	mu   sync.RWMutex
	recs []Recorder
}

func NewSet(recs ...Recorder) *Set {
	return &Set{recs: recs}
}

// Add registers another recorder
func (s *Set) Add(r Recorder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, r)
}

func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.recs)
}

// MakeRecord offers the record to every recorder and joins their errors
func (s *Set) MakeRecord(ctx context.Context, id task.CallID, res task.Result) error {
	s.mu.RLock()
	recs := s.recs
	s.mu.RUnlock()

	var errs []error
	for _, r := range recs {
		if err := r.MakeRecord(ctx, id, res); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Log writes every record at debug level
type Log struct {
	logger core.Logger
}

func NewLog(logger core.Logger) *Log {
	if logger == nil {
		logger = core.NopLogger()
	}
	return &Log{logger: logger}
}

func (l *Log) MakeRecord(ctx context.Context, id task.CallID, res task.Result) error {
	cdr := NewCDR(id, res)
	l.logger.Debug("call record",
		"call_id", cdr.CallID,
		"number", cdr.Number,
		"status", cdr.Status,
		"operator", cdr.Operator,
		"duration_seconds", cdr.DurationSeconds,
		"request_id", core.GetRequestID(ctx))
	return nil
}

// TimeLayout formats CDR timestamps
const TimeLayout = "2006-01-02 15:04:05.000"

// CDR is the serialized form of a call record
type CDR struct {
	CallID          task.CallID `json:"call_id"`
	Number          string      `json:"number"`
	Status          string      `json:"status"`
	Operator        int         `json:"operator"`
	AcceptedAt      time.Time   `json:"accepted_at"`
	AnsweredAt      *time.Time  `json:"answered_at,omitempty"`
	FinishedAt      time.Time   `json:"finished_at"`
	DurationSeconds float64     `json:"duration_seconds"`
	Error           string      `json:"error,omitempty"`
}

// NewCDR builds a record; id wins over res.CallID when they disagree
func NewCDR(id task.CallID, res task.Result) CDR {
	cdr := CDR{
		CallID:          id,
		Number:          res.Number,
		Status:          res.Status.String(),
		Operator:        res.Operator,
		AcceptedAt:      res.AcceptedAt,
		FinishedAt:      res.FinishedAt,
		DurationSeconds: res.Duration.Round(time.Millisecond).Seconds(),
	}
	if !res.AnsweredAt.IsZero() {
		answered := res.AnsweredAt
		cdr.AnsweredAt = &answered
	}
	if res.Err != nil {
		cdr.Error = res.Err.Error()
	}
	return cdr
}

// Line renders the record as one semicolon separated line:
// accepted;call id;number;finished;status;answered;operator;duration
func (c CDR) Line() string {
	var answered time.Time
	if c.AnsweredAt != nil {
		answered = *c.AnsweredAt
	}
	return strings.Join([]string{
		formatTime(c.AcceptedAt),
		strconv.FormatUint(uint64(c.CallID), 10),
		c.Number,
		formatTime(c.FinishedAt),
		c.Status,
		formatTime(answered),
		strconv.Itoa(c.Operator),
		strconv.FormatFloat(c.DurationSeconds, 'f', -1, 64) + "s",
	}, ";")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(TimeLayout)
}
