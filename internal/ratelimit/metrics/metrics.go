// Package metrics exposes the rate-limit core's Prometheus instrumentation,
// replacing the teacher's hand-rolled text-format exporter with the real
// client_golang library.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/gauge the core exports.
type Metrics struct {
	DecisionsTotal      *prometheus.CounterVec
	StoreFailOpenTotal  prometheus.Counter
	QueueDepth          *prometheus.GaugeVec
	CircuitBreakerState prometheus.Gauge
}

// New registers and returns the core's metrics against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DecisionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ratelimit_decisions_total",
			Help: "Total rate-limit decisions by reason.",
		}, []string{"reason"}),

		StoreFailOpenTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "ratelimit_store_failopen_total",
			Help: "Total requests admitted via fail-open because the shared store was unavailable.",
		}),

		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ratelimit_queue_depth",
			Help: "Current leaky-bucket queue depth per rule.",
		}, []string{"rule_id"}),

		CircuitBreakerState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "ratelimit_counter_store_circuit_breaker_state",
			Help: "Counter-store circuit breaker state: 0=closed, 1=half-open, 2=open.",
		}),
	}
}

// RecordDecision increments the decisions counter for the given reason.
func (m *Metrics) RecordDecision(reason string) {
	m.DecisionsTotal.WithLabelValues(reason).Inc()
}
