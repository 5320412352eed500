package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the pipeline's Prometheus collectors on a private registry.
type Metrics struct {
	FramesCaptured    prometheus.Counter
	CaptureFailures   prometheus.Counter
	FramesDropped     prometheus.Counter
	InferenceFailures prometheus.Counter
	InferenceLatency  prometheus.Histogram

	Attempts prometheus.Counter
	Accepted *prometheus.CounterVec
	Rejected prometheus.Counter

	SessionActive prometheus.Gauge
	Viewers       prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a Metrics instance with all collectors registered.
func New() *Metrics {
	m := &Metrics{
		FramesCaptured: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medseen_frames_captured_total",
			Help: "Frames read from the frame source",
		}),
		CaptureFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medseen_capture_failures_total",
			Help: "Ticks skipped because the frame source failed",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medseen_frames_dropped_total",
			Help: "Frames dropped because the processing queue was full",
		}),
		InferenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medseen_inference_failures_total",
			Help: "Ticks skipped because inference failed",
		}),
		InferenceLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "medseen_inference_seconds",
			Help:    "Time spent running the detector on one frame",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		Attempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medseen_confirmation_attempts_total",
			Help: "Confirmation attempts made by the state machine",
		}),
		Accepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "medseen_confirmations_total",
			Help: "Confirmations accepted into the session log",
		}, []string{"label"}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "medseen_confirmations_rejected_total",
			Help: "Confirmation attempts dropped by the minimum gap",
		}),
		SessionActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medseen_session_active",
			Help: "1 while a detection session is running",
		}),
		Viewers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "medseen_viewers",
			Help: "Connected live view clients",
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.FramesCaptured, m.CaptureFailures, m.FramesDropped,
		m.InferenceFailures, m.InferenceLatency,
		m.Attempts, m.Accepted, m.Rejected,
		m.SessionActive, m.Viewers,
	)
	return m
}

// ObserveInference records the duration of one detector call.
func (m *Metrics) ObserveInference(d time.Duration) {
	m.InferenceLatency.Observe(d.Seconds())
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
