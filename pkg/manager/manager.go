// Package manager owns the active queue and worker pool and keeps them in
// line with the live configuration.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/callcenter/pkg/config"
	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/core/concurrency"
	"github.com/fluxorio/callcenter/pkg/core/failfast"
	"github.com/fluxorio/callcenter/pkg/task"
)

// backend is one queue/pool pair together with the snapshot it was built for
type backend struct {
	queue concurrency.TaskQueue
	pool  concurrency.WorkerPool
	snap  *config.Snapshot
}

// Stats is a point-in-time view of the engine
type Stats struct {
	State            State                 `json:"state"`
	Pool             concurrency.PoolStats `json:"pool"`
	Pending          int                   `json:"pending"`
	LastCallID       task.CallID           `json:"last_call_id"`
	Reconfigurations uint64                `json:"reconfigurations"`
	Config           config.Snapshot       `json:"config"`
}

// Manager accepts calls and routes them to the active queue/pool pair.
// Reconfiguration swaps the pair without losing or duplicating work.
type Manager struct {
	cfgMu sync.RWMutex
	cfg   Configuration

	registry  *task.Registry
	handler   task.Handler
	recorders []concurrency.Recorder
	logger    core.Logger
	observer  Observer
	tracer    trace.Tracer
	newPool   PoolFactory

	// swapMu orders pushes against the transfer in swap, so AddTask never
	// pushes into a queue that has already been drained
	swapMu sync.RWMutex
	active atomic.Pointer[backend]

	// updateMu serializes everything that replaces the active pair
	updateMu sync.Mutex
	retiring sync.WaitGroup

	// retired holds pools that were swapped out and are still finishing
	// their in-flight calls
	retiredMu sync.Mutex
	retired   map[concurrency.WorkerPool]struct{}

	lifeMu     sync.Mutex
	loopParent context.Context
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	state            atomic.Int32
	reconfigurations atomic.Uint64
}

// New builds a manager with a queue and an unstarted pool sized from cfg
func New(cfg Configuration, opts ...Option) (*Manager, error) {
	failfast.NotNil(cfg, "cfg")

	m := &Manager{
		cfg:      cfg,
		registry: task.NewRegistry(),
		handler:  task.NewOperator(task.DefaultUnit),
		logger:   core.NopLogger(),
		newPool:  concurrency.NewWorkerPool,
		retired:  make(map[concurrency.WorkerPool]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	snap := cfg.Snapshot()
	if snap == nil {
		return nil, &core.Error{Code: core.CodeInvalidConfig, Message: "configuration has no snapshot"}
	}
	m.active.Store(m.build(snap))
	m.state.Store(int32(StateUninitialized))
	return m, nil
}

func (m *Manager) build(snap *config.Snapshot) *backend {
	q := concurrency.NewQueue(snap.QueueSize,
		concurrency.WithQueueLogger(m.logger),
		concurrency.WithRecorders(m.recorders...))
	return &backend{queue: q, pool: m.newPool(snap.Operators, m.poolOptions(q)...), snap: snap}
}

func (m *Manager) poolOptions(q concurrency.TaskQueue) []concurrency.PoolOption {
	opts := []concurrency.PoolOption{
		concurrency.WithResolver(m.registry),
		concurrency.WithPoolLogger(m.logger),
	}
	if q != nil {
		opts = append(opts, concurrency.WithQueue(q))
	}
	if m.observer != nil {
		opts = append(opts, concurrency.WithObserver(m.observer))
	}
	if m.tracer != nil {
		opts = append(opts, concurrency.WithTracer(m.tracer))
	}
	return opts
}

func (m *Manager) config() Configuration {
	m.cfgMu.RLock()
	defer m.cfgMu.RUnlock()
	return m.cfg
}

// State returns the lifecycle state
func (m *Manager) State() State {
	return State(m.state.Load())
}

// AddTask validates in against the current bounds, issues a CallID and
// queues the call. A full queue resolves the future as Overloaded and
// returns ErrQueueFull together with the CallID.
func (m *Manager) AddTask(ctx context.Context, in task.Input) (task.CallID, *task.Future, error) {
	if m.State() == StateStopped {
		return 0, nil, ErrStopped
	}

	snap := m.config().Snapshot()
	bounds := task.Bounds{Min: snap.Min, Max: snap.Max}
	if err := task.Validate(in, bounds); err != nil {
		if m.observer != nil {
			m.observer.CallRejected(task.StatusRejected)
		}
		return 0, nil, err
	}

	id, f := m.registry.Issue()
	tk, err := task.New(id, in, bounds, m.handler)
	if err != nil {
		m.registry.Resolve(id, task.Result{Status: task.StatusRejected, Err: err})
		return id, f, err
	}

	m.swapMu.RLock()
	b := m.active.Load()
	err = b.queue.Push(concurrency.Entry{ID: id, Task: tk})
	m.swapMu.RUnlock()

	switch {
	case err == nil:
		if m.observer != nil {
			m.observer.CallSubmitted()
		}
		return id, f, nil

	case errors.Is(err, concurrency.ErrQueueFull):
		res := tk.Overloaded()
		m.registry.Resolve(id, res)
		if rerr := b.queue.Record(ctx, id, res); rerr != nil && m.observer != nil {
			m.observer.RecordFailed(rerr)
		}
		if m.observer != nil {
			m.observer.CallRejected(task.StatusOverloaded)
		}
		m.logger.Debug("call overloaded", "call_id", uint64(id), "number", in.Number)
		return id, f, err

	default:
		m.registry.Resolve(id, tk.Cancelled())
		return id, f, fmt.Errorf("%w: %w", ErrStopped, err)
	}
}

// Submit is an alias for AddTask
func (m *Manager) Submit(ctx context.Context, in task.Input) (task.CallID, *task.Future, error) {
	return m.AddTask(ctx, in)
}

// StartThreadPool starts the active pool
func (m *Manager) StartThreadPool() error {
	return m.active.Load().pool.Start()
}

// StopThreadPool stops the active pool; queued calls stay queued
func (m *Manager) StopThreadPool(ctx context.Context) error {
	return m.active.Load().pool.Stop(ctx)
}

// Start starts the active pool and the loop reacting to configuration events
func (m *Manager) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	switch m.State() {
	case StateStopped:
		return ErrStopped
	case StateRunning, StateReconfiguring:
		return concurrency.ErrAlreadyRunning
	}

	if err := m.StartThreadPool(); err != nil && !errors.Is(err, concurrency.ErrAlreadyRunning) {
		return err
	}
	m.state.Store(int32(StateRunning))
	m.loopParent = ctx
	m.startLoop(ctx, m.config())

	snap := m.active.Load().snap
	m.logger.Info("manager started", "operators", snap.Operators, "queue", snap.QueueSize)

	// pick up a snapshot published between New and Start
	if _, err := m.Update(ctx); err != nil {
		m.logger.Warn("initial reconcile failed", "error", err)
	}
	return nil
}

// startLoop must be called with lifeMu held
func (m *Manager) startLoop(ctx context.Context, cfg Configuration) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	m.loopCancel = cancel
	m.loopDone = done

	events := cfg.Subscribe()
	go func() {
		defer close(done)
		for {
			select {
			case <-loopCtx.Done():
				return
			case _, ok := <-events:
				if !ok {
					return
				}
				if _, err := m.Update(loopCtx); err != nil {
					m.logger.Warn("reconfiguration failed", "error", err)
				}
			}
		}
	}()
}

// stopLoop must be called with lifeMu held
func (m *Manager) stopLoop() {
	if m.loopCancel == nil {
		return
	}
	m.loopCancel()
	<-m.loopDone
	m.loopCancel = nil
	m.loopDone = nil
}

// Stop stops reconfiguration and the pool, waits for retiring pools and
// resolves every call that never ran as Cancelled. When ctx ends first, the
// calls still executing are resolved and recorded as Cancelled too; their
// late results are discarded by the workers.
func (m *Manager) Stop(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	if m.State() == StateStopped {
		return nil
	}
	m.stopLoop()

	m.updateMu.Lock()
	defer m.updateMu.Unlock()
	m.state.Store(int32(StateStopped))

	b := m.active.Load()
	var errs []error
	if err := b.pool.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := m.waitRetiring(ctx); err != nil {
		errs = append(errs, err)
	}

	m.swapMu.Lock()
	leftovers := b.queue.Drain()
	m.swapMu.Unlock()

	cancelled := m.cancelEntries(ctx, b.queue, leftovers)
	if len(errs) > 0 {
		inflight := b.pool.InFlight()
		for _, p := range m.retiredPools() {
			inflight = append(inflight, p.InFlight()...)
		}
		if n := m.cancelEntries(ctx, b.queue, inflight); n > 0 {
			m.logger.Warn("cancelled calls still executing", "count", n)
			cancelled += n
		}
	}
	if n := m.registry.CancelAll(task.StatusCancelled); n > 0 {
		m.logger.Warn("cancelled unfinished calls", "count", n)
	}

	m.logger.Info("manager stopped", "cancelled", cancelled)
	return errors.Join(errs...)
}

// cancelEntries resolves each entry as Cancelled and records it. Entries whose
// call already has an outcome are skipped.
func (m *Manager) cancelEntries(ctx context.Context, q concurrency.TaskQueue, entries []concurrency.Entry) int {
	// ctx may already be done when Stop timed out
	ctx = context.WithoutCancel(ctx)
	n := 0
	for _, e := range entries {
		res := e.Task.Cancelled()
		if err := m.registry.Resolve(e.ID, res); err != nil {
			continue
		}
		n++
		if err := q.Record(ctx, e.ID, res); err != nil && m.observer != nil {
			m.observer.RecordFailed(err)
		}
	}
	return n
}

func (m *Manager) retiredPools() []concurrency.WorkerPool {
	m.retiredMu.Lock()
	defer m.retiredMu.Unlock()

	pools := make([]concurrency.WorkerPool, 0, len(m.retired))
	for p := range m.retired {
		pools = append(pools, p)
	}
	return pools
}

func (m *Manager) waitRetiring(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.retiring.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("retiring pools: %w", ctx.Err())
	}
}

// Update reconciles the active pair with the latest snapshot. It returns
// true when the queue and pool were replaced; a bounds-only change is
// applied without a swap and returns false.
func (m *Manager) Update(ctx context.Context) (bool, error) {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	if m.State() == StateStopped {
		return false, ErrStopped
	}

	snap := m.config().Snapshot()
	cur := m.active.Load()
	if snap == cur.snap {
		return false, nil
	}

	if snap.Operators == cur.snap.Operators && snap.QueueSize == cur.snap.QueueSize {
		m.active.Store(&backend{queue: cur.queue, pool: cur.pool, snap: snap})
		if !snap.SameValues(cur.snap) {
			m.logger.Info("operand bounds updated", "rmin", snap.Min, "rmax", snap.Max)
		}
		return false, nil
	}

	if err := m.swap(m.build(snap)); err != nil {
		return false, err
	}
	m.logger.Info("engine reconfigured",
		"operators", snap.Operators, "queue", snap.QueueSize,
		"rmin", snap.Min, "rmax", snap.Max, "version", snap.Version)
	return true, nil
}

// swap must be called with updateMu held
func (m *Manager) swap(next *backend) error {
	prev := m.State()
	if prev == StateRunning {
		m.state.Store(int32(StateReconfiguring))
		defer m.state.Store(int32(StateRunning))
	}

	cur := m.active.Load()
	wasRunning := cur.pool.Running()

	m.swapMu.Lock()
	if err := next.pool.TransferObjects(cur.pool); err != nil {
		m.swapMu.Unlock()
		return fmt.Errorf("transfer queued calls: %w", err)
	}
	m.active.Store(next)
	m.swapMu.Unlock()

	if wasRunning || prev == StateRunning {
		if err := next.pool.Start(); err != nil && !errors.Is(err, concurrency.ErrAlreadyRunning) {
			m.logger.Error("new pool failed to start", "error", err)
		}
	}

	m.retiredMu.Lock()
	m.retired[cur.pool] = struct{}{}
	m.retiredMu.Unlock()

	m.retiring.Add(1)
	go func() {
		defer m.retiring.Done()
		<-cur.pool.StopAsync()
		m.retiredMu.Lock()
		delete(m.retired, cur.pool)
		m.retiredMu.Unlock()
	}()

	m.reconfigurations.Add(1)
	if m.observer != nil {
		m.observer.Reconfigured(next.snap)
	}
	return nil
}

// ProcessRequestForUpdate runs Update if the configuration reports a change
func (m *Manager) ProcessRequestForUpdate(ctx context.Context) (bool, error) {
	if !m.config().IsUpdated() {
		return false, nil
	}
	return m.Update(ctx)
}

// ReconfigureNow reloads the configuration and applies it before returning.
// It reports whether the queue and pool were replaced, so an edit that only
// touches the operand bounds returns false. The swap may be carried out by
// the event loop; Update serializes both, so it is done once this returns.
func (m *Manager) ReconfigureNow(ctx context.Context) (bool, error) {
	before := m.active.Load().pool
	if _, err := m.config().UpdateWithRequest(); err != nil {
		return false, err
	}
	if _, err := m.ProcessRequestForUpdate(ctx); err != nil {
		return false, err
	}
	return m.active.Load().pool != before, nil
}

// SetNewConfig replaces the configuration and reconciles with it
func (m *Manager) SetNewConfig(ctx context.Context, cfg Configuration) (bool, error) {
	failfast.NotNil(cfg, "cfg")

	m.lifeMu.Lock()
	m.cfgMu.Lock()
	m.cfg = cfg
	m.cfgMu.Unlock()
	if m.loopCancel != nil {
		m.stopLoop()
		m.startLoop(m.loopParent, cfg)
	}
	m.lifeMu.Unlock()

	return m.Update(ctx)
}

// NewThreadPool builds an unstarted pool that delivers results to this
// manager, for use with SetNewThreadPool
func (m *Manager) NewThreadPool(size int) concurrency.WorkerPool {
	return m.newPool(size, m.poolOptions(nil)...)
}

// SetNewThreadPool makes pool the active pool. Queued calls move to it.
// A pool without a queue gets one sized from the current snapshot.
func (m *Manager) SetNewThreadPool(pool concurrency.WorkerPool) error {
	failfast.NotNil(pool, "pool")

	m.updateMu.Lock()
	defer m.updateMu.Unlock()

	if m.State() == StateStopped {
		return ErrStopped
	}

	snap := m.active.Load().snap
	q := pool.Queue()
	if q == nil {
		q = concurrency.NewQueue(snap.QueueSize, concurrency.WithQueueLogger(m.logger))
		if err := pool.SetTaskQueue(q); err != nil {
			return err
		}
	}
	if len(q.Recorders()) == 0 {
		q.SetRecorders(m.recorders...)
	}
	return m.swap(&backend{queue: q, pool: pool, snap: snap})
}

// Registry exposes the future registry, e.g. to resolve calls externally
func (m *Manager) Registry() *task.Registry {
	return m.registry
}

// Stats returns the engine state
func (m *Manager) Stats() Stats {
	b := m.active.Load()
	return Stats{
		State:            m.State(),
		Pool:             b.pool.Stats(),
		Pending:          m.registry.Pending(),
		LastCallID:       m.registry.LastIssued(),
		Reconfigurations: m.reconfigurations.Load(),
		Config:           *b.snap,
	}
}
