package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Direction labels for audio metrics.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

const DefaultNamespace = "vai_phone"

// Metrics holds all Prometheus metrics for the phone gateway. Every Record
// method is safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	// Call metrics
	CallsActive  prometheus.Gauge
	CallsTotal   *prometheus.CounterVec
	CallDuration prometheus.Histogram

	// Audio metrics
	AudioBytesTotal    *prometheus.CounterVec
	DroppedFramesTotal *prometheus.CounterVec

	// Tool metrics
	ToolInvocationsTotal      *prometheus.CounterVec
	PersistenceFailuresTotal  *prometheus.CounterVec
	NotificationFailuresTotal prometheus.Counter

	// HTTP metrics
	RequestsTotal *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all Prometheus metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	registry := prometheus.NewRegistry()

	callsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "calls_active",
			Help:      "Number of calls currently bridged",
		},
	)

	callsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Total number of calls by outcome",
		},
		[]string{"outcome"},
	)

	callDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Call duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Total audio bytes bridged",
		},
		[]string{"direction"},
	)

	droppedFramesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_dropped_frames_total",
			Help:      "Audio frames dropped by backpressure",
		},
		[]string{"direction"},
	)

	toolInvocationsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_invocations_total",
			Help:      "Tool invocations by tool and status",
		},
		[]string{"tool", "status"},
	)

	persistenceFailuresTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Order or demand writes that failed",
		},
		[]string{"tool"},
	)

	notificationFailuresTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_failures_total",
			Help:      "Staff notifications that failed",
		},
	)

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status class",
		},
		[]string{"route", "status"},
	)

	registry.MustRegister(
		callsActive,
		callsTotal,
		callDuration,
		audioBytesTotal,
		droppedFramesTotal,
		toolInvocationsTotal,
		persistenceFailuresTotal,
		notificationFailuresTotal,
		requestsTotal,
	)

	return &Metrics{
		registry:                  registry,
		CallsActive:               callsActive,
		CallsTotal:                callsTotal,
		CallDuration:              callDuration,
		AudioBytesTotal:           audioBytesTotal,
		DroppedFramesTotal:        droppedFramesTotal,
		ToolInvocationsTotal:      toolInvocationsTotal,
		PersistenceFailuresTotal:  persistenceFailuresTotal,
		NotificationFailuresTotal: notificationFailuresTotal,
		RequestsTotal:             requestsTotal,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordCallStart records a new call being bridged.
func (m *Metrics) RecordCallStart() {
	if m == nil {
		return
	}
	m.CallsActive.Inc()
}

// RecordCallEnd records a call ending. Pair with RecordCallStart.
func (m *Metrics) RecordCallEnd(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.CallsActive.Dec()
	m.CallsTotal.WithLabelValues(outcome).Inc()
	m.CallDuration.Observe(duration.Seconds())
}

// RecordCallRejected counts a call that never started bridging.
func (m *Metrics) RecordCallRejected(outcome string) {
	if m == nil {
		return
	}
	m.CallsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordAudio(direction string, bytes int) {
	if m == nil || bytes <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(direction).Add(float64(bytes))
}

func (m *Metrics) RecordDroppedFrames(direction string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.DroppedFramesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) RecordToolInvocation(tool, status string) {
	if m == nil {
		return
	}
	m.ToolInvocationsTotal.WithLabelValues(tool, status).Inc()
}

func (m *Metrics) RecordPersistenceFailure(tool string) {
	if m == nil {
		return
	}
	m.PersistenceFailuresTotal.WithLabelValues(tool).Inc()
}

func (m *Metrics) RecordNotifyFailure() {
	if m == nil {
		return
	}
	m.NotificationFailuresTotal.Inc()
}

// RecordRequest counts an HTTP request; status is bucketed to its class.
func (m *Metrics) RecordRequest(route string, status int) {
	if m == nil {
		return
	}
	class := "5xx"
	switch {
	case status < 200:
		class = "1xx"
	case status < 300:
		class = "2xx"
	case status < 400:
		class = "3xx"
	case status < 500:
		class = "4xx"
	}
	m.RequestsTotal.WithLabelValues(route, class).Inc()
}
