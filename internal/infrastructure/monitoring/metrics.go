package monitoring

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "framelink"

// Metrics holds all Prometheus metrics. A nil *Metrics records nothing, so
// core packages can take one unconditionally.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive prometheus.Gauge
	SessionsOpened *prometheus.CounterVec
	Readiness      *prometheus.CounterVec

	// Call metrics
	Calls        *prometheus.CounterVec
	CallDuration *prometheus.HistogramVec

	// Channel metrics
	Inbound         *prometheus.CounterVec
	DescriptorFetch *prometheus.CounterVec
	EventStreams    prometheus.Gauge

	startTime time.Time
	snapshot  Snapshot
	mu        sync.RWMutex
}

// Snapshot holds current values for the JSON health endpoint.
type Snapshot struct {
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	ActiveSessions int64   `json:"active_sessions"`
	TotalCalls     int64   `json:"total_calls"`
	FailedCalls    int64   `json:"failed_calls"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
}

// NewMetrics registers every collector on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of live display sessions",
			},
		),
		SessionsOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_opened_total",
				Help:      "Sessions opened, by target kind",
			},
			[]string{"target"},
		),
		Readiness: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_readiness_total",
				Help:      "Readiness handshakes, by outcome",
			},
			[]string{"outcome"},
		),

		Calls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "calls_total",
				Help:      "Remote calls, by method and outcome",
			},
			[]string{"method", "outcome"},
		),
		CallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "call_duration_seconds",
				Help:      "Remote call latency, including the readiness wait",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method"},
		),

		Inbound: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inbound_messages_total",
				Help:      "Inbound frame messages, by dispatch outcome",
			},
			[]string{"outcome"},
		),
		DescriptorFetch: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "descriptor_fetches_total",
				Help:      "oEmbed descriptor fetches, by result",
			},
			[]string{"result"},
		),
		EventStreams: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "event_streams_active",
				Help:      "Open websocket event streams",
			},
		),
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalRequests++
	if status != "" && (status[0] == '4' || status[0] == '5') {
		m.snapshot.TotalErrors++
	}
	m.mu.Unlock()
}

// RecordCall records a settled remote call.
func (m *Metrics) RecordCall(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.Calls.WithLabelValues(method, outcome).Inc()
	m.CallDuration.WithLabelValues(method).Observe(duration.Seconds())

	m.mu.Lock()
	m.snapshot.TotalCalls++
	if outcome != "ok" {
		m.snapshot.FailedCalls++
	}
	m.mu.Unlock()
}

// RecordInbound records how an inbound message was routed.
func (m *Metrics) RecordInbound(outcome string) {
	if m == nil {
		return
	}
	m.Inbound.WithLabelValues(outcome).Inc()
}

// RecordReadiness records a settled handshake.
func (m *Metrics) RecordReadiness(outcome string) {
	if m == nil {
		return
	}
	m.Readiness.WithLabelValues(outcome).Inc()
}

// RecordDescriptorFetch records an oEmbed fetch result.
func (m *Metrics) RecordDescriptorFetch(result string) {
	if m == nil {
		return
	}
	m.DescriptorFetch.WithLabelValues(result).Inc()
}

// SessionOpened counts a new session for a target kind.
func (m *Metrics) SessionOpened(target string) {
	if m == nil {
		return
	}
	m.SessionsOpened.WithLabelValues(target).Inc()
}

// SetSessionsActive sets the number of live sessions.
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
	m.mu.Lock()
	m.snapshot.ActiveSessions = int64(count)
	m.mu.Unlock()
}

func (m *Metrics) IncEventStreams() {
	if m == nil {
		return
	}
	m.EventStreams.Inc()
}

func (m *Metrics) DecEventStreams() {
	if m == nil {
		return
	}
	m.EventStreams.Dec()
}
