// Package metrics exposes Prometheus counters for turn orchestration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters recorded by the workflow runner.
// All methods are nil-safe so callers can skip instrumentation entirely.
type Metrics struct {
	registry *prometheus.Registry

	turnsTotal     *prometheus.CounterVec
	parseFailures  *prometheus.CounterVec
	applyConflicts *prometheus.CounterVec
	tokensUsed     *prometheus.CounterVec
}

// New creates the metrics set on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		turnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procstudio",
			Name:      "turns_total",
			Help:      "Completed turns by task type and outcome.",
		}, []string{"task", "outcome"}),
		parseFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procstudio",
			Name:      "parse_failures_total",
			Help:      "Model replies that failed schema validation.",
		}, []string{"task"}),
		applyConflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procstudio",
			Name:      "apply_conflicts_total",
			Help:      "Version conflicts raised when applying accepted proposals.",
		}, []string{"kind"}),
		tokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "procstudio",
			Name:      "tokens_used_total",
			Help:      "Token consumption by capability and direction.",
		}, []string{"capability", "direction"}),
	}

	registry.MustRegister(m.turnsTotal, m.parseFailures, m.applyConflicts, m.tokensUsed)
	return m
}

// TurnCompleted records the outcome of a finished turn.
func (m *Metrics) TurnCompleted(task, outcome string) {
	if m == nil {
		return
	}
	m.turnsTotal.WithLabelValues(task, outcome).Inc()
}

// ParseFailure records a model reply that could not be validated.
func (m *Metrics) ParseFailure(task string) {
	if m == nil {
		return
	}
	m.parseFailures.WithLabelValues(task).Inc()
}

// ApplyConflict records a version conflict for an artifact kind.
func (m *Metrics) ApplyConflict(kind string) {
	if m == nil {
		return
	}
	m.applyConflicts.WithLabelValues(kind).Inc()
}

// TokensUsed records prompt and completion token consumption.
func (m *Metrics) TokensUsed(capability string, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.tokensUsed.WithLabelValues(capability, "prompt").Add(float64(promptTokens))
	m.tokensUsed.WithLabelValues(capability, "completion").Add(float64(completionTokens))
}

// Handler serves the metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for additional collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
