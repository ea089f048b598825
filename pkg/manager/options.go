package manager

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/callcenter/pkg/config"
	"github.com/fluxorio/callcenter/pkg/core"
	"github.com/fluxorio/callcenter/pkg/core/concurrency"
	"github.com/fluxorio/callcenter/pkg/task"
)

// Configuration is what the manager needs from a live configuration
type Configuration interface {
	Snapshot() *config.Snapshot
	IsUpdated() bool
	UpdateWithRequest() (bool, error)
	Subscribe() <-chan config.Event
}

// Observer receives engine events, typically to export metrics
type Observer interface {
	concurrency.Observer
	CallSubmitted()
	CallRejected(status task.Status)
	Reconfigured(snap *config.Snapshot)
}

// PoolFactory builds a worker pool; the manager passes its queue,
// resolver, logger, observer and tracer as options
type PoolFactory func(size int, opts ...concurrency.PoolOption) concurrency.WorkerPool

// Option configures a Manager
type Option func(*Manager)

// WithHandler sets the handler every call runs; defaults to a task.Operator
func WithHandler(h task.Handler) Option {
	return func(m *Manager) {
		if h != nil {
			m.handler = h
		}
	}
}

// WithRecorders sets the recorders attached to every queue the manager builds
func WithRecorders(recs ...concurrency.Recorder) Option {
	return func(m *Manager) { m.recorders = append(m.recorders, recs...) }
}

func WithLogger(l core.Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

func WithObserver(o Observer) Option {
	return func(m *Manager) { m.observer = o }
}

func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) { m.tracer = t }
}

func WithPoolFactory(f PoolFactory) Option {
	return func(m *Manager) {
		if f != nil {
			m.newPool = f
		}
	}
}
