// Package metrics exposes the monitor's Prometheus metrics on a private
// registry. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "loglwatch"

// Restart decision outcomes
const (
	OutcomeApproved  = "approved"
	OutcomeThrottled = "throttled"
	OutcomeFailed    = "failed"
)

// Metrics holds every collector the monitor updates
type Metrics struct {
	registry *prometheus.Registry

	LinesClassified     *prometheus.CounterVec
	HealthVerdict       *prometheus.GaugeVec
	RestartDecisions    *prometheus.CounterVec
	Evaluations         *prometheus.CounterVec
	PersistenceFailures *prometheus.CounterVec
}

// New creates the collectors and registers them with Go and process
// collectors on a fresh registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		LinesClassified: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lines_classified_total",
				Help:      "Log lines classified, by service and severity",
			},
			[]string{"service", "severity"},
		),

		HealthVerdict: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "health_verdict",
				Help:      "Latest verdict per service (0=OK, 1=WARNING, 2=ERROR, 3=CRITICAL)",
			},
			[]string{"service"},
		),

		RestartDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "restart_decisions_total",
				Help:      "Restart requests by outcome",
			},
			[]string{"service", "outcome"},
		),

		Evaluations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evaluations_total",
				Help:      "Window evaluations per service",
			},
			[]string{"service"},
		),

		PersistenceFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "persistence_failures_total",
				Help:      "Failed writes of shared state, by target",
			},
			[]string{"target"},
		),
	}

	registry.MustRegister(
		m.LinesClassified,
		m.HealthVerdict,
		m.RestartDecisions,
		m.Evaluations,
		m.PersistenceFailures,
	)
	return m
}

// ObserveLine counts one classified line
func (m *Metrics) ObserveLine(service, severity string) {
	if m == nil {
		return
	}
	m.LinesClassified.WithLabelValues(service, severity).Inc()
}

// SetVerdict records the latest verdict level of a service
func (m *Metrics) SetVerdict(service string, level int) {
	if m == nil {
		return
	}
	m.HealthVerdict.WithLabelValues(service).Set(float64(level))
}

// Evaluation counts one window evaluation
func (m *Metrics) Evaluation(service string) {
	if m == nil {
		return
	}
	m.Evaluations.WithLabelValues(service).Inc()
}

// RestartDecision counts a restart request with its outcome
func (m *Metrics) RestartDecision(service, outcome string) {
	if m == nil {
		return
	}
	m.RestartDecisions.WithLabelValues(service, outcome).Inc()
}

// PersistenceFailure counts a failed write of target (history or snapshots)
func (m *Metrics) PersistenceFailure(target string) {
	if m == nil {
		return
	}
	m.PersistenceFailures.WithLabelValues(target).Inc()
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
