package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Video outcomes counted by VideoOutcome.
const (
	OutcomeCompleted         = "completed"
	OutcomeDuplicate         = "duplicate"
	OutcomeFailed            = "failed"
	OutcomeUnstable          = "unstable"
	OutcomePersistenceFailed = "persistence_failed"
	OutcomeRemoved           = "removed"
)

// Metrics holds the agent's Prometheus collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	events           *prometheus.CounterVec
	videos           *prometheus.CounterVec
	framesDecoded    prometheus.Counter
	detectionSeconds prometheus.Histogram
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trailcam_events_total",
			Help: "Watch folder events accepted for processing",
		}, []string{"type"}),
		videos: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trailcam_videos_total",
			Help: "Videos handled, by outcome",
		}, []string{"outcome"}),
		framesDecoded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trailcam_frames_decoded_total",
			Help: "Frames decoded and passed to the detector",
		}),
		detectionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "trailcam_detection_seconds",
			Help:    "Wall time of successful pipeline runs",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		}),
	}

	m.registry.MustRegister(m.events, m.videos, m.framesDecoded, m.detectionSeconds)
	return m
}

// RegisterQueue exposes dispatcher depth and in-flight work as gauges.
func (m *Metrics) RegisterQueue(pending, inflight func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "trailcam_queue_depth",
			Help: "Events waiting for a worker",
		},
		func() float64 { return float64(pending()) },
	))
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "trailcam_inflight",
			Help: "Events currently being handled",
		},
		func() float64 { return float64(inflight()) },
	))
}

func (m *Metrics) EventReceived(eventType string) {
	m.events.WithLabelValues(eventType).Inc()
}

func (m *Metrics) VideoOutcome(outcome string) {
	m.videos.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDetection(d time.Duration) {
	m.detectionSeconds.Observe(d.Seconds())
}

// FramesDecoded is the counter handed to the pipeline.
func (m *Metrics) FramesDecoded() prometheus.Counter {
	return m.framesDecoded
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
