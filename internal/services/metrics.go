package services

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the registration flow's Prometheus collectors
type Metrics struct {
	registry *prometheus.Registry

	Registrations   *prometheus.CounterVec
	PriceFallbacks  prometheus.Counter
	ProviderRetries *prometheus.CounterVec
	Refunds         *prometheus.CounterVec
	WebhookEvents   *prometheus.CounterVec
	OutboxPublished *prometheus.CounterVec
	Duration        *prometheus.HistogramVec
}

// NewMetrics creates the collectors on their own registry
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "functions",
			Subsystem: "registration",
			Name:      "attempts_total",
			Help:      "Registration attempts by type and outcome.",
		}, []string{"type", "outcome"}),
		PriceFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "functions",
			Subsystem: "registration",
			Name:      "price_fallbacks_total",
			Help:      "Selections that could not be priced from the catalog.",
		}),
		ProviderRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "functions",
			Subsystem: "payment",
			Name:      "retries_total",
			Help:      "Transient payment provider failures that were retried.",
		}, []string{"step"}),
		Refunds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "functions",
			Subsystem: "payment",
			Name:      "compensating_refunds_total",
			Help:      "Compensating refunds by result.",
		}, []string{"result"}),
		WebhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "functions",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Provider webhook events by result.",
		}, []string{"result"}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "functions",
			Subsystem: "outbox",
			Name:      "events_total",
			Help:      "Outbox events by delivery result.",
		}, []string{"result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "functions",
			Subsystem: "registration",
			Name:      "duration_ms",
			Help:      "Registration orchestration latency in milliseconds.",
			Buckets:   []float64{25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		}, []string{"type"}),
	}

	m.registry.MustRegister(
		m.Registrations,
		m.PriceFallbacks,
		m.ProviderRetries,
		m.Refunds,
		m.WebhookEvents,
		m.OutboxPublished,
		m.Duration,
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
