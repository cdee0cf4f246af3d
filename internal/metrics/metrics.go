package metrics

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame counters
	FramesPulled    atomic.Uint64
	FramesSkipped   atomic.Uint64
	FramesProcessed atomic.Uint64
	FramesMalformed atomic.Uint64

	// Detection counters
	Detections           atomic.Uint64
	ReportableDetections atomic.Uint64
	DetectErrors         atomic.Uint64

	// Alert counters
	AlertsSpoken     atomic.Uint64
	AlertsSuppressed atomic.Uint64
	SpeechErrors     atomic.Uint64

	// Latency tracking
	DetectLatencyMs atomic.Uint64 // Last inference latency in ms
	TickLatencyMs   atomic.Uint64 // Last full tick latency in ms

	// Session tracking
	SessionsStarted atomic.Uint64
	SessionsFailed  atomic.Uint64
	SessionActive   atomic.Uint64 // 0 = idle, 1 = running

	// Presentation clients
	StreamClients atomic.Int64

	registry *prometheus.Registry
}

type gauge struct {
	name string
	help string
	load func() float64
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func counter(v *atomic.Uint64) func() float64 {
	return func() float64 { return float64(v.Load()) }
}

// registerPrometheusMetrics registers all metrics with Prometheus
func (m *Metrics) registerPrometheusMetrics() {
	gauges := []gauge{
		{"signalert_frames_pulled_total", "Total frames delivered by the source", counter(&m.FramesPulled)},
		{"signalert_frames_skipped_total", "Total frames discarded by the frame-skip policy", counter(&m.FramesSkipped)},
		{"signalert_frames_processed_total", "Total frames run through detection", counter(&m.FramesProcessed)},
		{"signalert_frames_malformed_total", "Total frames dropped during channel normalization", counter(&m.FramesMalformed)},
		{"signalert_detections_total", "Total raw detections returned by the detector", counter(&m.Detections)},
		{"signalert_reportable_detections_total", "Total detections above the confidence threshold", counter(&m.ReportableDetections)},
		{"signalert_detect_errors_total", "Total detector failures", counter(&m.DetectErrors)},
		{"signalert_alerts_spoken_total", "Total spoken alerts", counter(&m.AlertsSpoken)},
		{"signalert_alerts_suppressed_total", "Total alerts suppressed by the debounce window", counter(&m.AlertsSuppressed)},
		{"signalert_speech_errors_total", "Total speech engine failures", counter(&m.SpeechErrors)},
		{"signalert_detect_latency_ms", "Last inference latency in milliseconds", counter(&m.DetectLatencyMs)},
		{"signalert_tick_latency_ms", "Last tick latency in milliseconds", counter(&m.TickLatencyMs)},
		{"signalert_sessions_started_total", "Total detection sessions started", counter(&m.SessionsStarted)},
		{"signalert_sessions_failed_total", "Total detection sessions ended by a fatal error", counter(&m.SessionsFailed)},
		{"signalert_session_active", "Detection session running (0=idle, 1=running)", counter(&m.SessionActive)},
		{"signalert_stream_clients", "Connected MJPEG/SSE clients", func() float64 { return float64(m.StreamClients.Load()) }},
	}

	for _, g := range gauges {
		m.registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Name: g.name, Help: g.help},
			g.load,
		))
	}
}

// UpdateDetectLatency records the latest inference duration
func (m *Metrics) UpdateDetectLatency(duration time.Duration) {
	m.DetectLatencyMs.Store(uint64(duration.Milliseconds()))
}

// UpdateTickLatency records the latest tick duration
func (m *Metrics) UpdateTickLatency(duration time.Duration) {
	m.TickLatencyMs.Store(uint64(duration.Milliseconds()))
}

// SetSessionActive flips the session gauge
func (m *Metrics) SetSessionActive(active bool) {
	if active {
		m.SessionActive.Store(1)
		return
	}
	m.SessionActive.Store(0)
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
