package concurrency

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/core/failfast"
	"github.com/fluxorio/callcenter/pkg/task"
)

// defaultWorkerPool implements WorkerPool
type defaultWorkerPool struct {
	size int

	mu        sync.Mutex
	queue     TaskQueue
	running   bool
	popCancel context.CancelFunc
	done      chan struct{}

	// ctx is the parent of every task context. Stop does not cancel it, so
	// in-flight tasks run to completion.
	ctx context.Context

	resolver Resolver
	observer Observer
	tracer   trace.Tracer
	logger   core.Logger

	flightMu sync.Mutex
	inflight map[task.CallID]Entry

	active    atomic.Int64
	processed atomic.Uint64
}

// PoolOption configures a pool built by NewWorkerPool
type PoolOption func(*defaultWorkerPool)

// WithResolver sets where results are delivered
func WithResolver(r Resolver) PoolOption {
	return func(p *defaultWorkerPool) { p.resolver = r }
}

// WithObserver sets the execution observer
func WithObserver(o Observer) PoolOption {
	return func(p *defaultWorkerPool) { p.observer = o }
}

// WithTracer sets the tracer used for task spans
func WithTracer(t trace.Tracer) PoolOption {
	return func(p *defaultWorkerPool) {
		if t != nil {
			p.tracer = t
		}
	}
}

// WithPoolLogger sets the logger
func WithPoolLogger(logger core.Logger) PoolOption {
	return func(p *defaultWorkerPool) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithPoolContext sets the parent context of task execution
func WithPoolContext(ctx context.Context) PoolOption {
	return func(p *defaultWorkerPool) {
		if ctx != nil {
			p.ctx = ctx
		}
	}
}

// WithQueue attaches q at construction
func WithQueue(q TaskQueue) PoolOption {
	return func(p *defaultWorkerPool) { p.queue = q }
}

// NewWorkerPool creates a stopped pool of size workers
func NewWorkerPool(size int, opts ...PoolOption) WorkerPool {
	failfast.Positive(size, "worker pool size")

	p := &defaultWorkerPool{
		size:     size,
		ctx:      context.Background(),
		tracer:   otel.Tracer("github.com/fluxorio/callcenter/pkg/core/concurrency"),
		logger:   core.NopLogger(),
		inflight: make(map[task.CallID]Entry),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *defaultWorkerPool) Size() int { return p.size }

func (p *defaultWorkerPool) Queue() TaskQueue {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queue
}

func (p *defaultWorkerPool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// SetTaskQueue implements WorkerPool interface
func (p *defaultWorkerPool) SetTaskQueue(q TaskQueue) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPoolRunning
	}
	p.queue = q
	return nil
}

// Start implements WorkerPool interface
func (p *defaultWorkerPool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrAlreadyRunning
	}
	if p.queue == nil {
		return ErrNoQueue
	}

	popCtx, cancel := context.WithCancel(p.ctx)
	p.popCancel = cancel
	p.running = true

	// each run gets its own WaitGroup so a restart never waits on
	// workers of a previous run that are still finishing
	wg := &sync.WaitGroup{}
	done := make(chan struct{})
	p.done = done
	wg.Add(p.size)
	for i := 1; i <= p.size; i++ {
		go p.worker(popCtx, wg, p.queue, i)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	p.logger.Debugf("worker pool started with %d workers", p.size)
	return nil
}

// StopAsync implements WorkerPool interface
func (p *defaultWorkerPool) StopAsync() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.running = false
		p.popCancel()
	}
	if p.done == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return p.done
}

// Stop implements WorkerPool interface
func (p *defaultWorkerPool) Stop(ctx context.Context) error {
	done := p.StopAsync()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop timeout: %w", ctx.Err())
	}
}

// TransferObjects implements WorkerPool interface
func (p *defaultWorkerPool) TransferObjects(old WorkerPool) error {
	if old == nil || old == WorkerPool(p) {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrPoolRunning
	}
	if p.queue == nil {
		return ErrNoQueue
	}

	oldQ := old.Queue()
	if oldQ == nil || oldQ == p.queue {
		return nil
	}

	entries := oldQ.Drain()
	p.queue.Adopt(entries)
	if len(p.queue.Recorders()) == 0 {
		p.queue.SetRecorders(oldQ.Recorders()...)
	}

	p.logger.Infof("transferred %d queued tasks", len(entries))
	return nil
}

// InFlight implements WorkerPool interface
func (p *defaultWorkerPool) InFlight() []Entry {
	p.flightMu.Lock()
	entries := make([]Entry, 0, len(p.inflight))
	for _, e := range p.inflight {
		entries = append(entries, e)
	}
	p.flightMu.Unlock()

	slices.SortFunc(entries, func(a, b Entry) int { return cmp.Compare(a.ID, b.ID) })
	return entries
}

func (p *defaultWorkerPool) Stats() PoolStats {
	p.mu.Lock()
	q := p.queue
	running := p.running
	p.mu.Unlock()

	stats := PoolStats{
		Workers:   p.size,
		Running:   running,
		Active:    p.active.Load(),
		Processed: p.processed.Load(),
	}
	if q != nil {
		stats.QueueLen = q.Len()
		stats.QueueCapacity = q.Capacity()
	}
	return stats
}

func (p *defaultWorkerPool) worker(popCtx context.Context, wg *sync.WaitGroup, q TaskQueue, operator int) {
	defer wg.Done()

	for {
		e, err := q.Pop(popCtx)
		if err != nil {
			return
		}
		p.run(q, e, operator)
	}
}

func (p *defaultWorkerPool) track(e Entry) {
	p.flightMu.Lock()
	p.inflight[e.ID] = e
	p.flightMu.Unlock()
}

func (p *defaultWorkerPool) untrack(id task.CallID) {
	p.flightMu.Lock()
	delete(p.inflight, id)
	p.flightMu.Unlock()
}

func (p *defaultWorkerPool) run(q TaskQueue, e Entry, operator int) {
	p.active.Add(1)
	defer p.active.Add(-1)
	p.track(e)
	defer p.untrack(e.ID)

	ctx, span := p.tracer.Start(p.ctx, "task.execute", trace.WithAttributes(
		attribute.Int64("call.id", int64(e.ID)),
		attribute.String("call.number", e.Task.Number()),
		attribute.Int("call.operand", e.Task.Operand()),
		attribute.Int("operator", operator),
	))

	if p.observer != nil {
		p.observer.TaskStarted(operator)
	}
	start := time.Now()

	res := e.Task.Execute(ctx)
	res.Operator = operator

	span.SetAttributes(attribute.String("call.status", res.Status.String()))
	if res.Err != nil {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		p.logger.Warn("task failed", "call_id", uint64(e.ID), "error", res.Err)
	}
	span.End()

	p.processed.Add(1)
	if p.observer != nil {
		p.observer.TaskFinished(res, time.Since(start))
	}

	// a call resolved elsewhere, e.g. cancelled by a timed-out shutdown,
	// already has its record
	if p.resolver != nil {
		if err := p.resolver.Resolve(e.ID, res); err != nil {
			p.logger.Warn("result discarded", "call_id", uint64(e.ID), "status", res.Status.String(), "error", err)
			return
		}
	}
	if err := q.Record(ctx, e.ID, res); err != nil && p.observer != nil {
		p.observer.RecordFailed(err)
	}
}
