package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the service-wide Prometheus collectors.
type Metrics struct {
	ProfilesCreated    prometheus.Counter
	ConsentsCreated    prometheus.Counter
	ConsentsRevoked    prometheus.Counter
	TokensIssued       prometheus.Counter
	TokensRevoked      prometheus.Counter
	ResolveOutcomes    *prometheus.CounterVec
	ExtractionFallback prometheus.Counter
	EndpointLatency    *prometheus.HistogramVec
	OutboxPublished    *prometheus.CounterVec
	OutboxFailures     prometheus.Counter
	RateLimited        *prometheus.CounterVec
}

// New registers every collector with the default registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers with reg. Tests pass a fresh registry so
// repeated construction does not panic.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ProfilesCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "kycvault_profiles_created_total",
			Help: "Total number of profiles created",
		}),
		ConsentsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "kycvault_consents_created_total",
			Help: "Total number of consents granted",
		}),
		ConsentsRevoked: f.NewCounter(prometheus.CounterOpts{
			Name: "kycvault_consents_revoked_total",
			Help: "Total number of consent revocation requests",
		}),
		TokensIssued: f.NewCounter(prometheus.CounterOpts{
			Name: "kycvault_tokens_issued_total",
			Help: "Total number of tokens issued",
		}),
		TokensRevoked: f.NewCounter(prometheus.CounterOpts{
			Name: "kycvault_tokens_revoked_total",
			Help: "Total number of token revocation requests",
		}),
		ResolveOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycvault_resolve_outcomes_total",
			Help: "Token resolution attempts by outcome and reason",
		}, []string{"outcome", "reason"}),
		ExtractionFallback: f.NewCounter(prometheus.CounterOpts{
			Name: "kycvault_extraction_empty_name_total",
			Help: "Enrolments where extraction produced no name",
		}),
		EndpointLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "kycvault_http_request_duration_seconds",
			Help:    "HTTP request latency by route pattern",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"method", "route", "status"}),
		OutboxPublished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycvault_outbox_published_total",
			Help: "Audit events relayed to Kafka by category",
		}, []string{"category"}),
		OutboxFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "kycvault_outbox_failures_total",
			Help: "Outbox relay batches that failed to publish",
		}),
		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "kycvault_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		}, []string{"route"}),
	}
}

func (m *Metrics) IncrementProfilesCreated() { m.ProfilesCreated.Inc() }
func (m *Metrics) IncrementConsentsCreated() { m.ConsentsCreated.Inc() }
func (m *Metrics) IncrementConsentsRevoked() { m.ConsentsRevoked.Inc() }
func (m *Metrics) IncrementTokensIssued()    { m.TokensIssued.Inc() }
func (m *Metrics) IncrementTokensRevoked()   { m.TokensRevoked.Inc() }

// ObserveResolve counts a resolution outcome: "allow", "deny", "not_found",
// "expired" or "error".
func (m *Metrics) ObserveResolve(outcome, reason string) {
	m.ResolveOutcomes.WithLabelValues(outcome, reason).Inc()
}

func (m *Metrics) IncrementExtractionFallback() { m.ExtractionFallback.Inc() }
func (m *Metrics) IncrementOutboxFailures()     { m.OutboxFailures.Inc() }

func (m *Metrics) AddOutboxPublished(category string, n int) {
	m.OutboxPublished.WithLabelValues(category).Add(float64(n))
}

func (m *Metrics) IncrementRateLimited(route string) {
	m.RateLimited.WithLabelValues(route).Inc()
}
