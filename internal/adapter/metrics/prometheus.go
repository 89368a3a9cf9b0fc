package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rl1809/stock-guard/internal/core/service"
)

type Metrics struct {
	decrements *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	retries    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		decrements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_decrements_total",
			Help: "Decrement calls by strategy and outcome.",
		}, []string{"strategy", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stock_decrement_duration_seconds",
			Help:    "Decrement latency including lock waits and retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"strategy"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_optimistic_retries_total",
			Help: "Optimistic conflicts that were retried.",
		}, []string{"strategy"}),
	}
	reg.MustRegister(m.decrements, m.duration, m.retries)
	return m
}

// RetryHook counts retries for the retry facade of the given strategy.
func (m *Metrics) RetryHook(strategy string) func(attempt int, err error) {
	counter := m.retries.WithLabelValues(strategy)
	return func(int, error) { counter.Inc() }
}

// Instrument wraps next so every call is counted and timed.
func (m *Metrics) Instrument(strategy string, next service.Decrementer) service.Decrementer {
	return &instrumented{metrics: m, strategy: strategy, next: next}
}

type instrumented struct {
	metrics  *Metrics
	strategy string
	next     service.Decrementer
}

func (i *instrumented) Decrement(ctx context.Context, id string, amount int64) error {
	start := time.Now()
	err := i.next.Decrement(ctx, id, amount)

	i.metrics.duration.WithLabelValues(i.strategy).Observe(time.Since(start).Seconds())
	i.metrics.decrements.WithLabelValues(i.strategy, service.Outcome(err)).Inc()
	return err
}
