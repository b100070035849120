package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// codeOK is the outcome label for successful dispatches.
const codeOK = "OK"

// requestMetrics tracks dispatch outcomes. A nil receiver disables all
// recording, matching a Gateway built without a metrics registerer.
type requestMetrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	streams  prometheus.Gauge
	frames   prometheus.Counter
}

func newRequestMetrics(registerer prometheus.Registerer) *requestMetrics {
	if registerer == nil {
		return nil
	}

	m := &requestMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rpc_gateway",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total dispatched requests by method and outcome code",
		}, []string{"method", "code"}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rpc_gateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Dispatch duration from route match to final byte",
		}, []string{"method"}),

		streams: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rpc_gateway",
			Subsystem: "http",
			Name:      "streams_active",
			Help:      "Currently open event streams",
		}),

		frames: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rpc_gateway",
			Subsystem: "http",
			Name:      "stream_frames_total",
			Help:      "Total frames written across all event streams",
		}),
	}

	registerer.MustRegister(m.requests, m.duration, m.streams, m.frames)
	return m
}

func (m *requestMetrics) observe(method, code string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, code).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *requestMetrics) streamStarted() {
	if m == nil {
		return
	}
	m.streams.Inc()
}

func (m *requestMetrics) streamEnded() {
	if m == nil {
		return
	}
	m.streams.Dec()
}

func (m *requestMetrics) frameWritten() {
	if m == nil {
		return
	}
	m.frames.Inc()
}
