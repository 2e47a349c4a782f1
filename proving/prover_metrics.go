package proving

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks the units processed by a Prover.
type Metrics struct {
	// proofs counts finished units by outcome: a proof status, "error" or "setup_failed".
	proofs *prometheus.CounterVec

	// duration tracks how long workers spent per unit.
	duration prometheus.Histogram

	// busyWorkers is the number of workers currently processing a unit.
	busyWorkers prometheus.Gauge
}

// NewMetrics creates the prover metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		proofs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kprove_proofs_total",
			Help: "Total units processed by outcome",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "kprove_proof_duration_seconds",
			Help:    "Time spent per unit in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
		}),
		busyWorkers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "kprove_workers_busy",
			Help: "Number of workers currently processing a unit",
		}),
	}
}

// observe records a finished unit.
func (m *Metrics) observe(result Result, elapsed time.Duration) {
	m.proofs.WithLabelValues(result.outcome()).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// ProofCounter returns the counter of units finished with the given outcome.
func (m *Metrics) ProofCounter(outcome string) prometheus.Counter {
	return m.proofs.WithLabelValues(outcome)
}
