// Package metrics provides Prometheus collectors for the refresh core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rssdesk"

// Cycle outcomes.
const (
	CycleCompleted      = "completed"
	CycleFailed         = "failed"
	CycleSkippedMemory  = "skipped_memory"
	CycleSkippedBusy    = "skipped_busy"
	CycleSkippedBreaker = "skipped_breaker"
	CycleNotDue         = "not_due"
)

// Metrics groups the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	refreshTotal        *prometheus.CounterVec
	refreshDuration     prometheus.Histogram
	newArticlesTotal    prometheus.Counter
	cyclesTotal         *prometheus.CounterVec
	breakerOpen         prometheus.Gauge
	consecutiveFailures prometheus.Gauge
	ruleExecutionsTotal *prometheus.CounterVec
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer in
// production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		refreshTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "feed_refresh_total",
				Help:      "Total number of feed refreshes by outcome",
			},
			[]string{"status"},
		),
		refreshDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "feed_refresh_duration_seconds",
				Help:      "Duration of feed refreshes in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
			},
		),
		newArticlesTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "new_articles_total",
				Help:      "Total number of articles inserted by refreshes",
			},
		),
		cyclesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scheduler_cycles_total",
				Help:      "Total number of scheduler ticks by outcome",
			},
			[]string{"outcome"},
		),
		breakerOpen: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_breaker_open",
				Help:      "Circuit breaker state (1 = open, 0 = closed)",
			},
		),
		consecutiveFailures: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "scheduler_consecutive_failures",
				Help:      "Consecutive cycle-level failures",
			},
		),
		ruleExecutionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rule_executions_total",
				Help:      "Total number of rule executions by result",
			},
			[]string{"status"},
		),
	}
}

// RecordRefresh records one pipeline invocation.
func (m *Metrics) RecordRefresh(success bool, newArticles int, duration time.Duration) {
	if m == nil {
		return
	}
	m.refreshTotal.WithLabelValues(status(success)).Inc()
	m.refreshDuration.Observe(duration.Seconds())
	m.newArticlesTotal.Add(float64(newArticles))
}

func (m *Metrics) RecordCycle(outcome string) {
	if m == nil {
		return
	}
	m.cyclesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SetBreaker(open bool, failures int) {
	if m == nil {
		return
	}
	if open {
		m.breakerOpen.Set(1)
	} else {
		m.breakerOpen.Set(0)
	}
	m.consecutiveFailures.Set(float64(failures))
}

func (m *Metrics) RecordRuleExecution(success bool) {
	if m == nil {
		return
	}
	m.ruleExecutionsTotal.WithLabelValues(status(success)).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
