package push

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts push traffic. A nil *Metrics records nothing.
type Metrics struct {
	messages     *prometheus.CounterVec
	decodeErrors prometheus.Counter
	reconnects   prometheus.Counter
	connected    prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		messages: f.NewCounterVec(prometheus.CounterOpts{
			Name: "taskmate_push_messages_total",
			Help: "Push messages received by topic.",
		}, []string{"topic"}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "taskmate_push_decode_errors_total",
			Help: "Push frames or payloads that could not be decoded.",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Name: "taskmate_push_reconnects_total",
			Help: "Successful push reconnects after a dropped connection.",
		}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Name: "taskmate_push_connected",
			Help: "1 while the push connection is up.",
		}),
	}
}

func (m *Metrics) message(t Topic) {
	if m != nil {
		m.messages.WithLabelValues(string(t)).Inc()
	}
}

func (m *Metrics) decodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) reconnected() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}
