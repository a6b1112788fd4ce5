// Package metrics exposes Prometheus counters for authentication activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Identity outcomes recorded per request.
const (
	IdentityAnonymous     = "anonymous"
	IdentityAuthenticated = "authenticated"
	IdentityRejected      = "rejected"
)

// Metrics owns a private registry so tests and multiple servers never
// collide on the global one. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AuthOperations  *prometheus.CounterVec
	RequestIdentity *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
}

// New creates the counters and registers them with Go and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AuthOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dailyreport_auth_operations_total",
				Help: "Total number of authentication operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		RequestIdentity: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dailyreport_request_identity_total",
				Help: "Total number of requests by resolved identity outcome",
			},
			[]string{"outcome"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dailyreport_rate_limited_total",
				Help: "Total number of requests rejected by the rate limiter",
			},
			[]string{"route"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.AuthOperations,
		m.RequestIdentity,
		m.RateLimited,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveAuth counts one completed auth operation. It is a no-op on nil.
func (m *Metrics) ObserveAuth(operation, outcome string) {
	if m == nil {
		return
	}
	m.AuthOperations.WithLabelValues(operation, outcome).Inc()
}

// ObserveIdentity counts how a request identity was resolved.
func (m *Metrics) ObserveIdentity(outcome string) {
	if m == nil {
		return
	}
	m.RequestIdentity.WithLabelValues(outcome).Inc()
}

// ObserveRateLimited counts a request rejected with 429.
func (m *Metrics) ObserveRateLimited(route string) {
	if m == nil {
		return
	}
	m.RateLimited.WithLabelValues(route).Inc()
}
