package oracle

import (
	"context"
	"encoding/json"
	"time"

	"github.com/crytic/kprove/proving/kcfg"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts oracle calls by method and outcome and tracks their latency.
type Metrics struct {
	// calls counts calls by method and outcome ("ok", "timeout" or "crash").
	calls *prometheus.CounterVec

	// duration tracks call latency by method.
	duration *prometheus.HistogramVec
}

// NewMetrics creates the oracle metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		calls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "kprove_oracle_calls_total",
			Help: "Total oracle calls by method and outcome",
		}, []string{"method", "outcome"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kprove_oracle_call_duration_seconds",
			Help:    "Oracle call duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
		}, []string{"method"}),
	}
}

// observe records the outcome of one call.
func (m *Metrics) observe(method string, start time.Time, err error) {
	outcome := "ok"
	switch {
	case errors.Is(err, ErrOracleTimeout):
		outcome = "timeout"
	case err != nil:
		outcome = "crash"
	}
	m.calls.WithLabelValues(method, outcome).Inc()
	m.duration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// InstrumentedDialer wraps every connection of a Dialer so that its calls are recorded in Metrics.
type InstrumentedDialer struct {
	Dialer  Dialer
	Metrics *Metrics
}

// Dial implements Dialer.
func (d *InstrumentedDialer) Dial(ctx context.Context, workerIndex int) (Connection, error) {
	conn, err := d.Dialer.Dial(ctx, workerIndex)
	if err != nil {
		return nil, err
	}
	return &instrumentedConnection{Connection: conn, metrics: d.Metrics}, nil
}

// instrumentedConnection records every call of the wrapped connection.
type instrumentedConnection struct {
	Connection
	metrics *Metrics
}

func (c *instrumentedConnection) Step(ctx context.Context, state kcfg.CTerm, maxDepth int) (result StepResult, err error) {
	defer func(start time.Time) { c.metrics.observe("step", start, err) }(time.Now())
	return c.Connection.Step(ctx, state, maxDepth)
}

func (c *instrumentedConnection) Branches(ctx context.Context, state kcfg.CTerm) (result []json.RawMessage, err error) {
	defer func(start time.Time) { c.metrics.observe("branches", start, err) }(time.Now())
	return c.Connection.Branches(ctx, state)
}

func (c *instrumentedConnection) Terminal(ctx context.Context, state kcfg.CTerm) (result bool, err error) {
	defer func(start time.Time) { c.metrics.observe("terminal", start, err) }(time.Now())
	return c.Connection.Terminal(ctx, state)
}

func (c *instrumentedConnection) Simplify(ctx context.Context, state kcfg.CTerm) (result SimplifyResult, err error) {
	defer func(start time.Time) { c.metrics.observe("simplify", start, err) }(time.Now())
	return c.Connection.Simplify(ctx, state)
}

func (c *instrumentedConnection) Implies(ctx context.Context, state kcfg.CTerm, goal kcfg.CTerm) (result ImpliesResult, err error) {
	defer func(start time.Time) { c.metrics.observe("implies", start, err) }(time.Now())
	return c.Connection.Implies(ctx, state, goal)
}

func (c *instrumentedConnection) SameLoop(ctx context.Context, a kcfg.CTerm, b kcfg.CTerm) (result bool, err error) {
	defer func(start time.Time) { c.metrics.observe("sameLoop", start, err) }(time.Now())
	return c.Connection.SameLoop(ctx, a, b)
}

// CallCounter returns the counter of calls to method with the given outcome.
func (m *Metrics) CallCounter(method string, outcome string) prometheus.Counter {
	return m.calls.WithLabelValues(method, outcome)
}
