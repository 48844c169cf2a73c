// Package metrics exposes Prometheus counters for the request security pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	rateLimitDecisions *prometheus.CounterVec
	csrfFailures       prometheus.Counter
	authzDenied        *prometheus.CounterVec
	alertsDropped      prometheus.Counter
}

// New registers the pipeline collectors on reg. A nil *Metrics is valid and
// records nothing.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rateLimitDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "itdesk",
			Name:      "ratelimit_decisions_total",
			Help:      "Rate limit decisions by route class and outcome.",
		}, []string{"class", "outcome"}),
		csrfFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "itdesk",
			Name:      "csrf_failures_total",
			Help:      "Mutating requests rejected by CSRF validation.",
		}),
		authzDenied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "itdesk",
			Name:      "authz_denied_total",
			Help:      "Requests rejected by the role gate.",
		}, []string{"resource", "action"}),
		alertsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "itdesk",
			Name:      "security_alerts_dropped_total",
			Help:      "Security alerts dropped because the sink queue was full.",
		}),
	}
	reg.MustRegister(m.rateLimitDecisions, m.csrfFailures, m.authzDenied, m.alertsDropped)
	return m
}

func (m *Metrics) RateLimitDecision(class string, allowed bool) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if !allowed {
		outcome = "denied"
	}
	m.rateLimitDecisions.WithLabelValues(class, outcome).Inc()
}

func (m *Metrics) CSRFFailure() {
	if m == nil {
		return
	}
	m.csrfFailures.Inc()
}

func (m *Metrics) AuthzDenied(resource, action string) {
	if m == nil {
		return
	}
	m.authzDenied.WithLabelValues(resource, action).Inc()
}

func (m *Metrics) AlertDropped() {
	if m == nil {
		return
	}
	m.alertsDropped.Inc()
}
