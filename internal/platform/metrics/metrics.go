package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	FramesEmitted    *prometheus.CounterVec
	ActiveStreams    prometheus.Gauge
	ActiveSessions   prometheus.Gauge
	GeneratorCycles  *prometheus.CounterVec
	PublishFailures  prometheus.Counter
	DispatchDuration *prometheus.HistogramVec
}

// New creates all Prometheus metrics, registered on reg. The server passes
// prometheus.DefaultRegisterer; tests pass a fresh registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quotefeed_requests_total",
			Help: "Dispatched requests by route and outcome",
		}, []string{"route", "outcome"}),
		FramesEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quotefeed_frames_emitted_total",
			Help: "Outbound data frames emitted by route",
		}, []string{"route"}),
		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quotefeed_active_streams",
			Help: "Stream requests currently emitting",
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "quotefeed_active_sessions",
			Help: "Connected transport sessions",
		}),
		GeneratorCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "quotefeed_generator_cycles_total",
			Help: "Quote generation cycles by outcome",
		}, []string{"outcome"}),
		PublishFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "quotefeed_publish_failures_total",
			Help: "Quote event publish attempts that failed",
		}),
		DispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "quotefeed_dispatch_duration_seconds",
			Help:    "Wall time from dispatch to terminal frame",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// Outcome labels for RequestsTotal and GeneratorCycles.
const (
	OutcomeOK          = "ok"
	OutcomeError       = "error"
	OutcomeCancelled   = "cancelled"
	OutcomeRejected    = "rejected"
	OutcomeStoreFailed = "store_failed"
	OutcomePublishSkip = "publish_failed"
)
