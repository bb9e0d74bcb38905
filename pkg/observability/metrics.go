// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring keystone.
package observability

import "github.com/prometheus/client_golang/prometheus"

// LatencyBuckets defines histogram buckets for authentication and request
// latencies, from 1ms (cached session) to 5s (bcrypt under load).
var LatencyBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keystone_http_requests_total",
			Help: "Total requests",
		},
		[]string{"method", "status"},
	)

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keystone_http_request_duration_seconds",
			Help:    "Request duration",
			Buckets: LatencyBuckets,
		},
		[]string{"method"},
	)

	// AuthenticationAttemptsTotal counts provider invocations by provider and resulting token status.
	AuthenticationAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keystone_authentication_attempts_total",
			Help: "Authentication attempts",
		},
		[]string{"provider", "status"},
	)

	// AuthenticationLatency records provider latency in seconds.
	AuthenticationLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "keystone_authentication_latency_seconds",
			Help:    "Authentication provider latency",
			Buckets: LatencyBuckets,
		},
		[]string{"provider"},
	)

	// AuthorizationDecisionsTotal counts privilege decisions by kind
	// (privilege type or "target") and outcome (granted/denied).
	AuthorizationDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keystone_authorization_decisions_total",
			Help: "Authorization decisions",
		},
		[]string{"kind", "decision"},
	)

	// SessionsActive tracks the number of live sessions in the session store.
	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "keystone_sessions_active",
			Help: "Active sessions",
		},
	)

	// RowSecurityConstraintsTotal counts generated row-security filters by entity.
	RowSecurityConstraintsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keystone_rowsec_constraints_total",
			Help: "Generated row-security constraints",
		},
		[]string{"entity"},
	)

	// LoginThrottledTotal counts authentication attempts rejected by the
	// per-account rate limiter.
	LoginThrottledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "keystone_login_throttled_total",
			Help: "Throttled login attempts",
		},
		[]string{"provider"},
	)
)

func init() {
	prometheus.MustRegister(
		RequestsTotal,
		RequestDuration,
		AuthenticationAttemptsTotal,
		AuthenticationLatency,
		AuthorizationDecisionsTotal,
		SessionsActive,
		RowSecurityConstraintsTotal,
		LoginThrottledTotal,
	)
}
