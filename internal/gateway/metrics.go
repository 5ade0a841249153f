package gateway

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics instruments outgoing backend requests.
type Metrics struct {
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	inFlight prometheus.Gauge
	failures *prometheus.CounterVec
}

// NewMetrics registers the gateway collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmate_client_requests_total",
			Help: "Requests sent to the TaskMate backend.",
		}, []string{"method", "code"}),
		duration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "taskmate_client_request_duration_seconds",
			Help:    "Latency of requests to the TaskMate backend.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.3, 1, 3},
		}, []string{"method"}),
		inFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "taskmate_client_requests_in_flight",
			Help: "Requests to the TaskMate backend awaiting a response.",
		}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmate_client_failures_total",
			Help: "Failed gateway operations by error kind.",
		}, []string{"op", "kind"}),
	}
}

// RoundTripper wraps next with in-flight, counter and latency instrumentation.
func (m *Metrics) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return promhttp.InstrumentRoundTripperInFlight(m.inFlight,
		promhttp.InstrumentRoundTripperCounter(m.requests,
			promhttp.InstrumentRoundTripperDuration(m.duration, next)))
}

func (m *Metrics) observeFailure(op string, k Kind) {
	if m == nil {
		return
	}
	m.failures.WithLabelValues(op, k.String()).Inc()
}
