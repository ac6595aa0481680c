package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "iam_patient"

// Provider owns the service's Prometheus registry and the flow counters that
// the use cases and workers report into.
type Provider struct {
	registry       *prometheus.Registry
	auditEvents    *prometheus.CounterVec
	mailDeliveries *prometheus.CounterVec
	sweptTokens    *prometheus.CounterVec
}

// NewProvider builds a registry with runtime collectors and the flow counters.
func NewProvider() *Provider {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Provider{
		registry: reg,
		auditEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_events_total",
			Help:      "Audit entries written, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		mailDeliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mail_deliveries_total",
			Help:      "Outbound mail delivery results.",
		}, []string{"outcome"}),
		sweptTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "janitor_deleted_tokens_total",
			Help:      "Tokens removed by the janitor, by kind.",
		}, []string{"kind"}),
	}
}

// Registerer is handed to the HTTP and gRPC instrumentation.
func (p *Provider) Registerer() prometheus.Registerer {
	return p.registry
}

// Gatherer exposes the registry for tests.
func (p *Provider) Gatherer() prometheus.Gatherer {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// ObserveAuditEvent counts one audit entry.
func (p *Provider) ObserveAuditEvent(eventType string, success bool) {
	p.auditEvents.WithLabelValues(eventType, outcome(success)).Inc()
}

// ObserveMailDelivery counts one delivery attempt sequence.
func (p *Provider) ObserveMailDelivery(success bool) {
	p.mailDeliveries.WithLabelValues(outcome(success)).Inc()
}

// ObserveSweep adds janitor deletions.
func (p *Provider) ObserveSweep(resetDeleted, verificationDeleted int) {
	p.sweptTokens.WithLabelValues("password_reset").Add(float64(resetDeleted))
	p.sweptTokens.WithLabelValues("email_verification").Add(float64(verificationDeleted))
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
