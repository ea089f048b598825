package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fluxorio/callcenter/pkg/config"
	"github.com/fluxorio/callcenter/pkg/task"
)

const namespace = "callcenter"

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": namespace}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds all Prometheus metrics of the call center.
// It satisfies manager.Observer so the engine can report into it directly.
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Call metrics
	CallsSubmitted   prometheus.Counter
	CallsRejected    *prometheus.CounterVec
	CallsFinished    *prometheus.CounterVec
	CallDuration     *prometheus.HistogramVec
	CallTalkTime     prometheus.Histogram
	OperatorsBusy    prometheus.Gauge
	RecordErrors     prometheus.Counter
	Reconfigurations prometheus.Counter

	// Configuration currently applied
	ConfigOperators prometheus.Gauge
	ConfigQueueSize prometheus.Gauge
	ConfigBounds    *prometheus.GaugeVec

	// Database pool metrics
	DatabaseConnectionsOpen  prometheus.Gauge
	DatabaseConnectionsIdle  prometheus.Gauge
	DatabaseConnectionsInUse prometheus.Gauge
	DatabaseConnectionsWait  prometheus.Gauge

	CustomCounters   map[string]*prometheus.CounterVec
	CustomGauges     map[string]*prometheus.GaugeVec
	CustomHistograms map[string]*prometheus.HistogramVec
	customMu         sync.RWMutex
	registerer       prometheus.Registerer
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a new metrics collection registered with registerer
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callcenter_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callcenter_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30, 60, 150},
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callcenter_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 5),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callcenter_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 5),
			},
			[]string{"method", "path", "status"},
		),

		CallsSubmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "callcenter_calls_submitted_total",
				Help: "Total number of calls accepted into a queue",
			},
		),
		CallsRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callcenter_calls_rejected_total",
				Help: "Total number of calls refused at submission",
			},
			[]string{"status"},
		),
		CallsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "callcenter_calls_finished_total",
				Help: "Total number of calls finished by an operator",
			},
			[]string{"status"},
		),
		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "callcenter_call_duration_seconds",
				Help:    "Time an operator spent on a call",
				Buckets: []float64{.01, .1, 1, 5, 10, 15, 30, 60, 140},
			},
			[]string{"status"},
		),
		CallTalkTime: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "callcenter_call_talk_seconds",
				Help:    "Reported duration of answered calls",
				Buckets: []float64{1, 5, 10, 15, 30, 60, 100, 140},
			},
		),
		OperatorsBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "callcenter_operators_busy",
				Help: "Number of operators currently handling a call",
			},
		),
		RecordErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "callcenter_record_errors_total",
				Help: "Total number of call records that failed to persist",
			},
		),
		Reconfigurations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "callcenter_reconfigurations_total",
				Help: "Total number of queue and pool swaps",
			},
		),

		ConfigOperators: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "callcenter_config_operators",
				Help: "Configured number of operators",
			},
		),
		ConfigQueueSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "callcenter_config_queue_size",
				Help: "Configured queue capacity",
			},
		),
		ConfigBounds: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "callcenter_config_operand_bound",
				Help: "Configured operand bounds",
			},
			[]string{"bound"},
		),

		DatabaseConnectionsOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "callcenter_database_connections_open",
				Help: "Number of open database connections",
			},
		),
		DatabaseConnectionsIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "callcenter_database_connections_idle",
				Help: "Number of idle database connections",
			},
		),
		DatabaseConnectionsInUse: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "callcenter_database_connections_in_use",
				Help: "Number of database connections in use",
			},
		),
		DatabaseConnectionsWait: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "callcenter_database_connections_wait_count",
				Help: "Cumulative number of connections waited for",
			},
		),

		CustomCounters:   make(map[string]*prometheus.CounterVec),
		CustomGauges:     make(map[string]*prometheus.GaugeVec),
		CustomHistograms: make(map[string]*prometheus.HistogramVec),
		registerer:       registerer,
	}
}

// RecordHTTPRequest records an HTTP request metric
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, path, status).Observe(float64(responseSize))
}

// UpdateDatabasePool updates database pool metrics
func (m *Metrics) UpdateDatabasePool(open, idle, inUse int, waitCount int64) {
	m.DatabaseConnectionsOpen.Set(float64(open))
	m.DatabaseConnectionsIdle.Set(float64(idle))
	m.DatabaseConnectionsInUse.Set(float64(inUse))
	m.DatabaseConnectionsWait.Set(float64(waitCount))
}

// UpdateConfig publishes the applied configuration
func (m *Metrics) UpdateConfig(snap *config.Snapshot) {
	if snap == nil {
		return
	}
	m.ConfigOperators.Set(float64(snap.Operators))
	m.ConfigQueueSize.Set(float64(snap.QueueSize))
	m.ConfigBounds.WithLabelValues("min").Set(float64(snap.Min))
	m.ConfigBounds.WithLabelValues("max").Set(float64(snap.Max))
}

// TaskStarted implements manager.Observer
func (m *Metrics) TaskStarted(int) {
	m.OperatorsBusy.Inc()
}

// TaskFinished implements manager.Observer
func (m *Metrics) TaskFinished(res task.Result, elapsed time.Duration) {
	m.OperatorsBusy.Dec()
	status := res.Status.String()
	m.CallsFinished.WithLabelValues(status).Inc()
	m.CallDuration.WithLabelValues(status).Observe(elapsed.Seconds())
	if res.Status == task.StatusCompleted {
		m.CallTalkTime.Observe(res.Duration.Seconds())
	}
}

// RecordFailed implements manager.Observer
func (m *Metrics) RecordFailed(error) {
	m.RecordErrors.Inc()
}

// CallSubmitted implements manager.Observer
func (m *Metrics) CallSubmitted() {
	m.CallsSubmitted.Inc()
}

// CallRejected implements manager.Observer
func (m *Metrics) CallRejected(status task.Status) {
	m.CallsRejected.WithLabelValues(status.String()).Inc()
}

// Reconfigured implements manager.Observer
func (m *Metrics) Reconfigured(snap *config.Snapshot) {
	m.Reconfigurations.Inc()
	m.UpdateConfig(snap)
}

// Counter creates or returns a custom counter metric
func (m *Metrics) Counter(name, help string, labels ...string) *prometheus.CounterVec {
	m.customMu.RLock()
	if counter, exists := m.CustomCounters[name]; exists {
		m.customMu.RUnlock()
		return counter
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()

	if counter, exists := m.CustomCounters[name]; exists {
		return counter
	}

	counter := promauto.With(m.registerer).NewCounterVec(
		prometheus.CounterOpts{Name: name, Help: help},
		labels,
	)
	m.CustomCounters[name] = counter
	return counter
}

// Gauge creates or returns a custom gauge metric
func (m *Metrics) Gauge(name, help string, labels ...string) *prometheus.GaugeVec {
	m.customMu.RLock()
	if gauge, exists := m.CustomGauges[name]; exists {
		m.customMu.RUnlock()
		return gauge
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()

	if gauge, exists := m.CustomGauges[name]; exists {
		return gauge
	}

	gauge := promauto.With(m.registerer).NewGaugeVec(
		prometheus.GaugeOpts{Name: name, Help: help},
		labels,
	)
	m.CustomGauges[name] = gauge
	return gauge
}

// Histogram creates or returns a custom histogram metric
func (m *Metrics) Histogram(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	m.customMu.RLock()
	if histogram, exists := m.CustomHistograms[name]; exists {
		m.customMu.RUnlock()
		return histogram
	}
	m.customMu.RUnlock()

	m.customMu.Lock()
	defer m.customMu.Unlock()

	if histogram, exists := m.CustomHistograms[name]; exists {
		return histogram
	}

	opts := prometheus.HistogramOpts{Name: name, Help: help, Buckets: buckets}
	if buckets == nil {
		opts.Buckets = prometheus.DefBuckets
	}

	histogram := promauto.With(m.registerer).NewHistogramVec(opts, labels)
	m.CustomHistograms[name] = histogram
	return histogram
}
