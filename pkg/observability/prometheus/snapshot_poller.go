package prometheus

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxorio/callcenter/pkg/manager"
	"github.com/fluxorio/callcenter/pkg/web"
)

// EngineStatsProvider exposes manager stats
type EngineStatsProvider interface {
	Stats() manager.Stats
}

// DBStatsProvider exposes database pool stats
type DBStatsProvider interface {
	Stats() sql.DBStats
}

// ServerStatsProvider exposes HTTP server counters
type ServerStatsProvider interface {
	Metrics() web.ServerMetrics
}

// SnapshotPoller periodically copies point-in-time stats into gauges
type SnapshotPoller struct {
	interval time.Duration
	metrics  *Metrics

	engine EngineStatsProvider
	db     DBStatsProvider
	server ServerStatsProvider

	queueLength   prometheus.Gauge
	queueCapacity prometheus.Gauge
	workers       prometheus.Gauge
	poolRunning   prometheus.Gauge
	pending       prometheus.Gauge
	lastCallID    prometheus.Gauge
	state         *prometheus.GaugeVec
	httpInFlight  prometheus.Gauge
	httpRejected  prometheus.Gauge

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// PollerOption configures a SnapshotPoller
type PollerOption func(*SnapshotPoller)

func WithEngine(p EngineStatsProvider) PollerOption {
	return func(s *SnapshotPoller) { s.engine = p }
}

func WithDB(p DBStatsProvider) PollerOption {
	return func(s *SnapshotPoller) { s.db = p }
}

func WithServer(p ServerStatsProvider) PollerOption {
	return func(s *SnapshotPoller) { s.server = p }
}

// NewSnapshotPoller registers the snapshot gauges with reg. Database stats
// are written to the pool gauges of m.
func NewSnapshotPoller(reg prometheus.Registerer, m *Metrics, interval time.Duration, opts ...PollerOption) (*SnapshotPoller, error) {
	if reg == nil {
		reg = DefaultRegisterer
	}
	if m == nil {
		m = GetMetrics()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	p := &SnapshotPoller{
		interval: interval,
		metrics:  m,
		queueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_length", Help: "Calls waiting in the active queue",
		}),
		queueCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_capacity", Help: "Capacity of the active queue",
		}),
		workers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_workers", Help: "Workers of the active pool",
		}),
		poolRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pool_running", Help: "Whether the active pool is running (0/1)",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "calls_pending", Help: "Issued calls without a result yet",
		}),
		lastCallID: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "last_call_id", Help: "Most recently issued call id",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Name: "manager_state", Help: "Manager lifecycle state (1 for the current state)",
		}, []string{"state"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_in_flight", Help: "HTTP requests in flight",
		}),
		httpRejected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "http_backpressure_rejected", Help: "HTTP requests rejected by backpressure since start",
		}),
	}
	for _, opt := range opts {
		opt(p)
	}

	var err error
	if p.queueLength, err = registerCollector(reg, p.queueLength); err != nil {
		return nil, err
	}
	if p.queueCapacity, err = registerCollector(reg, p.queueCapacity); err != nil {
		return nil, err
	}
	if p.workers, err = registerCollector(reg, p.workers); err != nil {
		return nil, err
	}
	if p.poolRunning, err = registerCollector(reg, p.poolRunning); err != nil {
		return nil, err
	}
	if p.pending, err = registerCollector(reg, p.pending); err != nil {
		return nil, err
	}
	if p.lastCallID, err = registerCollector(reg, p.lastCallID); err != nil {
		return nil, err
	}
	if p.state, err = registerCollector(reg, p.state); err != nil {
		return nil, err
	}
	if p.httpInFlight, err = registerCollector(reg, p.httpInFlight); err != nil {
		return nil, err
	}
	if p.httpRejected, err = registerCollector(reg, p.httpRejected); err != nil {
		return nil, err
	}
	return p, nil
}

// registerCollector registers c, reusing an identical collector that is
// already registered
func registerCollector[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Start begins periodic polling; repeated calls are no-ops
func (p *SnapshotPoller) Start(ctx context.Context) {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	if p.running {
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	go p.loop(pollCtx, p.done)
}

// Stop stops polling; repeated calls are safe
func (p *SnapshotPoller) Stop() {
	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()

	cancel()
	<-done
}

func (p *SnapshotPoller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.CollectOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.CollectOnce()
		}
	}
}

var managerStates = []manager.State{
	manager.StateUninitialized,
	manager.StateRunning,
	manager.StateReconfiguring,
	manager.StateStopped,
}

// CollectOnce copies the current stats into the gauges
func (p *SnapshotPoller) CollectOnce() {
	if p.engine != nil {
		stats := p.engine.Stats()
		p.queueLength.Set(float64(stats.Pool.QueueLen))
		p.queueCapacity.Set(float64(stats.Pool.QueueCapacity))
		p.workers.Set(float64(stats.Pool.Workers))
		p.poolRunning.Set(boolGauge(stats.Pool.Running))
		p.pending.Set(float64(stats.Pending))
		p.lastCallID.Set(float64(stats.LastCallID))
		for _, s := range managerStates {
			p.state.WithLabelValues(s.String()).Set(boolGauge(s == stats.State))
		}
		p.metrics.UpdateConfig(&stats.Config)
	}
	if p.db != nil {
		s := p.db.Stats()
		p.metrics.UpdateDatabasePool(s.OpenConnections, s.Idle, s.InUse, s.WaitCount)
	}
	if p.server != nil {
		s := p.server.Metrics()
		p.httpInFlight.Set(float64(s.InFlight))
		p.httpRejected.Set(float64(s.Rejected))
	}
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
