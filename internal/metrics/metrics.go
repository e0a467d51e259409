// Package metrics exposes the engine's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors. A nil *Metrics is valid and records
// nothing, so wiring stays optional in tests and the CLI tool.
type Metrics struct {
	RingAttempts    prometheus.Counter
	RingOutcomes    *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
	Retransmissions prometheus.Counter
	ParseErrors     prometheus.Counter
	RingDuration    prometheus.Histogram
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RingAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "sipring_ring_attempts_total",
			Help: "Ring attempts started.",
		}),
		RingOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sipring_ring_outcomes_total",
			Help: "Terminal ring outcomes.",
		}, []string{"outcome"}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sipring_active_sessions",
			Help: "Ring sessions currently in a non-terminal state.",
		}),
		Retransmissions: factory.NewCounter(prometheus.CounterOpts{
			Name: "sipring_sip_retransmissions_total",
			Help: "INVITE retransmissions due to response timeouts.",
		}),
		ParseErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "sipring_sip_parse_errors_total",
			Help: "Inbound datagrams dropped as unparseable.",
		}),
		RingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "sipring_ring_duration_seconds",
			Help:    "Duration of ring attempts from trigger to terminal state.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
	}
}

// AttemptStarted records a new session.
func (m *Metrics) AttemptStarted() {
	if m == nil {
		return
	}
	m.RingAttempts.Inc()
	m.ActiveSessions.Inc()
}

// AttemptFinished records a terminal outcome.
func (m *Metrics) AttemptFinished(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.RingOutcomes.WithLabelValues(outcome).Inc()
	m.RingDuration.Observe(seconds)
}

// RetransmissionRecorded counts one INVITE retransmission.
func (m *Metrics) RetransmissionRecorded() {
	if m == nil {
		return
	}
	m.Retransmissions.Inc()
}

// ParseErrorRecorded counts one dropped datagram.
func (m *Metrics) ParseErrorRecorded() {
	if m == nil {
		return
	}
	m.ParseErrors.Inc()
}
