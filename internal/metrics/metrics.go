package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records
// nothing, so components can run without instrumentation in tests.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionStarts   *prometheus.CounterVec
	SessionStops    *prometheus.CounterVec
	ReadyLatency    prometheus.Histogram
	SessionDuration prometheus.Histogram

	// Pipeline metrics
	FramesEncoded    prometheus.Counter
	BytesPiped       prometheus.Counter
	DiagParseErrors  *prometheus.CounterVec
	ProcessExits     *prometheus.CounterVec
	ProcessesRunning prometheus.Gauge

	// Output metrics
	ChunksServed prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates all metrics and registers them with the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all metrics and registers them with reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rapidmedia_active_sessions",
			Help: "Number of sessions with a running pipeline",
		}),
		SessionStarts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidmedia_session_starts_total",
				Help: "Session start attempts by result",
			},
			[]string{"result"}, // ok, spawn_error, ready_timeout, exited, canceled, stopped
		),
		SessionStops: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidmedia_session_stops_total",
				Help: "Pipelines torn down by reason",
			},
			[]string{"reason"}, // idle, stop, restart, shutdown, failed
		),
		ReadyLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapidmedia_session_ready_seconds",
			Help:    "Time from pipeline spawn until the index file appeared",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32},
		}),
		SessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rapidmedia_session_duration_seconds",
			Help:    "Lifetime of a pipeline from spawn to teardown",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~2.8h
		}),

		// Pipeline metrics
		FramesEncoded: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidmedia_progress_reports_total",
			Help: "Frame progress lines parsed from transcoder output",
		}),
		BytesPiped: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidmedia_bytes_piped_total",
			Help: "Bytes copied from transcoder to segmenter",
		}),
		DiagParseErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidmedia_diag_parse_errors_total",
				Help: "Diagnostic lines with malformed numeric fields",
			},
			[]string{"rule"},
		),
		ProcessExits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidmedia_process_exits_total",
				Help: "Child process exits by role and exit code",
			},
			[]string{"role", "code"},
		),
		ProcessesRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rapidmedia_processes_running",
			Help: "Child processes currently running",
		}),

		// Output metrics
		ChunksServed: factory.NewCounter(prometheus.CounterOpts{
			Name: "rapidmedia_chunks_served_total",
			Help: "Chunk files served to clients",
		}),

		// HTTP metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rapidmedia_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rapidmedia_http_request_duration_seconds",
				Help:    "Duration of HTTP requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	return m
}

// RecordSessionStart records the outcome of a start attempt
func (m *Metrics) RecordSessionStart(result string) {
	if m == nil {
		return
	}
	m.SessionStarts.WithLabelValues(result).Inc()
}

// RecordSessionReady records a pipeline becoming ready
func (m *Metrics) RecordSessionReady(latency time.Duration) {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
	m.ReadyLatency.Observe(latency.Seconds())
}

// RecordSessionStop records a pipeline teardown. wasReady tells whether
// the pipeline had been counted as active.
func (m *Metrics) RecordSessionStop(reason string, wasReady bool, lifetime time.Duration) {
	if m == nil {
		return
	}
	if wasReady {
		m.ActiveSessions.Dec()
	}
	m.SessionStops.WithLabelValues(reason).Inc()
	m.SessionDuration.Observe(lifetime.Seconds())
}

// RecordFrame records a parsed progress line
func (m *Metrics) RecordFrame() {
	if m == nil {
		return
	}
	m.FramesEncoded.Inc()
}

// RecordBytesPiped records bytes copied between the processes
func (m *Metrics) RecordBytesPiped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.BytesPiped.Add(float64(n))
}

// RecordParseError records a malformed diagnostic line
func (m *Metrics) RecordParseError(rule string) {
	if m == nil {
		return
	}
	m.DiagParseErrors.WithLabelValues(rule).Inc()
}

// RecordProcessStart records a spawned child
func (m *Metrics) RecordProcessStart() {
	if m == nil {
		return
	}
	m.ProcessesRunning.Inc()
}

// RecordProcessExit records a child exit
func (m *Metrics) RecordProcessExit(role string, code int) {
	if m == nil {
		return
	}
	m.ProcessesRunning.Dec()
	m.ProcessExits.WithLabelValues(role, strconv.Itoa(code)).Inc()
}

// RecordChunkServed records a chunk file delivered to a client
func (m *Metrics) RecordChunkServed() {
	if m == nil {
		return
	}
	m.ChunksServed.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, statusCodeToString(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// statusCodeToString converts an HTTP status code to a string
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
