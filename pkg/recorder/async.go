package recorder

import (
	"context"
	"errors"
	"sync"

	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/core/concurrency"
	"github.com/fluxorio/callcenter/pkg/task"
)

type job struct {
	ctx context.Context
	id  task.CallID
	res task.Result
}

// AsyncOption configures an Async recorder
type AsyncOption func(*Async)

// WithAsyncLogger sets the logger for failed records
func WithAsyncLogger(l core.Logger) AsyncOption {
	return func(a *Async) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithErrorHandler is called for every record the wrapped recorder fails
func WithErrorHandler(fn func(error)) AsyncOption {
	return func(a *Async) { a.onError = fn }
}

// Async decouples a slow recorder from the workers. Records are buffered in
// a bounded mailbox; a full mailbox rejects immediately with ErrBackpressure.
type Async struct {
	next    Recorder
	mailbox concurrency.Mailbox[job]
	logger  core.Logger
	onError func(error)
	done    chan struct{}
	once    sync.Once
}

// NewAsync starts the background drain goroutine
func NewAsync(next Recorder, buffer int, opts ...AsyncOption) *Async {
	a := &Async{
		next:    next,
		mailbox: concurrency.NewMailbox[job](buffer),
		logger:  core.NopLogger(),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	go a.loop()
	return a
}

func (a *Async) MakeRecord(ctx context.Context, id task.CallID, res task.Result) error {
	err := a.mailbox.Send(job{ctx: context.WithoutCancel(ctx), id: id, res: res})
	switch {
	case errors.Is(err, concurrency.ErrMailboxFull):
		return ErrBackpressure
	case errors.Is(err, concurrency.ErrMailboxClosed):
		return ErrClosed
	}
	return err
}

func (a *Async) loop() {
	defer close(a.done)
	for {
		j, err := a.mailbox.Receive(context.Background())
		if err != nil {
			return
		}
		if err := a.next.MakeRecord(j.ctx, j.id, j.res); err != nil {
			a.logger.Warn("record failed", "call_id", j.id, "error", err)
			if a.onError != nil {
				a.onError(err)
			}
		}
	}
}

// Pending returns the number of buffered records
func (a *Async) Pending() int {
	return a.mailbox.Size()
}

// Close stops accepting records and waits until the buffer is drained
func (a *Async) Close(ctx context.Context) error {
	a.once.Do(a.mailbox.Close)
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
