package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name
const Namespace = "readpipe"

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Model metrics
	ModelCalls    *prometheus.CounterVec
	ModelDuration *prometheus.HistogramVec
	ModelItems    *prometheus.CounterVec

	// Read metrics
	Reads *prometheus.CounterVec

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	// System metrics
	Uptime    prometheus.GaugeFunc
	startTime time.Time

	// Snapshot for JSON API - track current values
	snapshot MetricsSnapshot

	mu sync.RWMutex
}

// MetricsSnapshot holds current metric values for JSON API
type MetricsSnapshot struct {
	ModelCalls    int64   `json:"model_calls"`
	ModelErrors   int64   `json:"model_errors"`
	ModelSeconds  float64 `json:"model_seconds"`
	ReadsLoaded   int64   `json:"reads_loaded"`
	ReadsRejected int64   `json:"reads_rejected"`
	Connections   int64   `json:"ws_connections"`
	UptimeSeconds float64 `json:"uptime_seconds"`
}

// NewMetrics registers the metrics with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	m := &Metrics{startTime: time.Now()}

	// HTTP metrics
	m.RequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "http_requests_total",
			Help:      "Total number of status server requests",
		},
		[]string{"method", "path", "status"},
	)
	m.RequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Status server request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Model metrics
	m.ModelCalls = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "model_calls_total",
			Help:      "Total number of batched model calls",
		},
		[]string{"model", "status"},
	)
	m.ModelDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "model_call_duration_seconds",
			Help:      "Model call duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"model"},
	)
	m.ModelItems = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "model_items_total",
			Help:      "Chunks, reads or windows sent to a model",
		},
		[]string{"model"},
	)

	// Read metrics
	m.Reads = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "reads_total",
			Help:      "Reads seen by the loader, by outcome",
		},
		[]string{"outcome"},
	)

	// WebSocket metrics
	m.WSConnections = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "ws_connections",
			Help:      "Number of active stats stream connections",
		},
	)
	m.WSMessages = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "ws_messages_total",
			Help:      "Total number of stats stream messages",
		},
		[]string{"direction"},
	)

	// System metrics
	m.Uptime = factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)
	return m
}

// RecordHTTPRequest records a status server request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordModelCall records one batched model call of items inputs
func (m *Metrics) RecordModelCall(model, status string, items int, duration time.Duration) {
	m.ModelCalls.WithLabelValues(model, status).Inc()
	m.ModelDuration.WithLabelValues(model).Observe(duration.Seconds())
	m.ModelItems.WithLabelValues(model).Add(float64(items))

	m.mu.Lock()
	m.snapshot.ModelCalls++
	m.snapshot.ModelSeconds += duration.Seconds()
	if status != StatusSuccess {
		m.snapshot.ModelErrors++
	}
	m.mu.Unlock()
}

// Read outcomes
const (
	ReadLoaded   = "loaded"
	ReadSkipped  = "skipped"
	ReadRejected = "rejected"
)

// RecordRead counts a read by loader outcome
func (m *Metrics) RecordRead(outcome string) {
	m.Reads.WithLabelValues(outcome).Inc()
	m.mu.Lock()
	switch outcome {
	case ReadLoaded:
		m.snapshot.ReadsLoaded++
	case ReadRejected:
		m.snapshot.ReadsRejected++
	}
	m.mu.Unlock()
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction string) {
	m.WSMessages.WithLabelValues(direction).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
	m.mu.Lock()
	m.snapshot.Connections++
	m.mu.Unlock()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
	m.mu.Lock()
	m.snapshot.Connections--
	m.mu.Unlock()
}

// Snapshot returns the current values for the JSON API
func (m *Metrics) Snapshot() MetricsSnapshot {
	m.mu.RLock()
	s := m.snapshot
	m.mu.RUnlock()
	s.UptimeSeconds = time.Since(m.startTime).Seconds()
	return s
}
