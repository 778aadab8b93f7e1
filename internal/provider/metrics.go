package provider

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Attempt outcomes used as metric labels and journal values.
const (
	OutcomeOK        = "ok"
	OutcomeTransient = "transient"
	OutcomeRejected  = "rejected"
	OutcomeMalformed = "malformed"
	OutcomeCancelled = "cancelled"
)

// Metrics holds the provider collectors.
type Metrics struct {
	attempts  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	failovers *prometheus.CounterVec
	exhausted *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

// NewMetrics registers provider collectors with registry. A nil registry
// yields collectors that are never exported.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)
	return &Metrics{
		attempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archivist",
			Subsystem: "provider",
			Name:      "attempts_total",
			Help:      "Model call attempts by stage, provider, and outcome",
		}, []string{"stage", "provider", "outcome"}),
		retries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archivist",
			Subsystem: "provider",
			Name:      "retries_total",
			Help:      "Retries scheduled after transient failures",
		}, []string{"stage", "provider"}),
		failovers: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archivist",
			Subsystem: "provider",
			Name:      "failovers_total",
			Help:      "Calls that moved to the fallback endpoint",
		}, []string{"stage"}),
		exhausted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "archivist",
			Subsystem: "provider",
			Name:      "exhausted_total",
			Help:      "Calls that failed on every configured endpoint",
		}, []string{"stage"}),
		latency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "archivist",
			Subsystem: "provider",
			Name:      "attempt_latency_seconds",
			Help:      "Model call attempt duration",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"stage", "provider"}),
	}
}

func (m *Metrics) observeAttempt(stage, provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(stage, provider, outcome).Inc()
	m.latency.WithLabelValues(stage, provider).Observe(seconds)
}

func (m *Metrics) observeRetry(stage, provider string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(stage, provider).Inc()
}

func (m *Metrics) observeFailover(stage string) {
	if m == nil {
		return
	}
	m.failovers.WithLabelValues(stage).Inc()
}

func (m *Metrics) observeExhausted(stage string) {
	if m == nil {
		return
	}
	m.exhausted.WithLabelValues(stage).Inc()
}
