package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Login outcome label values for LoginsTotal.
const (
	OutcomeSuccess         = "success"
	OutcomeMissingIdP      = "missing_idp"
	OutcomeUnauthorizedIdP = "unauthorized_idp"
	OutcomeMissingAttr     = "missing_attribute"
	OutcomeStoreError      = "store_error"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	LoginsTotal       *prometheus.CounterVec
	UsersCreatedTotal prometheus.Counter
	GroupGrantsTotal  prometheus.Counter
	GroupRevokesTotal prometheus.Counter
	StaffChangesTotal prometheus.Counter

	// Session metrics
	SessionsEstablishedTotal prometheus.Counter
	SessionsDestroyedTotal   prometheus.Counter
	SessionsSweptTotal       prometheus.Counter

	// Store metrics
	StoreOperationDuration *prometheus.HistogramVec
	StoreErrorsTotal       *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics on the given registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shibgate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shibgate_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		LoginsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shibgate_logins_total",
				Help: "Total number of SSO login attempts by outcome",
			},
			[]string{"outcome"},
		),
		UsersCreatedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shibgate_users_created_total",
				Help: "Total number of users provisioned from SSO assertions",
			},
		),
		GroupGrantsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shibgate_group_grants_total",
				Help: "Total number of group memberships granted",
			},
		),
		GroupRevokesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shibgate_group_revokes_total",
				Help: "Total number of group memberships revoked by authoritative sync",
			},
		),
		StaffChangesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shibgate_staff_changes_total",
				Help: "Total number of staff flag changes from group projection",
			},
		),

		SessionsEstablishedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shibgate_sessions_established_total",
				Help: "Total number of sessions established",
			},
		),
		SessionsDestroyedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shibgate_sessions_destroyed_total",
				Help: "Total number of sessions explicitly destroyed",
			},
		),
		SessionsSweptTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "shibgate_sessions_swept_total",
				Help: "Total number of expired sessions removed by the sweeper",
			},
		),

		StoreOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shibgate_store_operation_duration_seconds",
				Help:    "Identity store operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		StoreErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shibgate_store_errors_total",
				Help: "Total number of identity store errors",
			},
			[]string{"operation"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.LoginsTotal,
		m.UsersCreatedTotal,
		m.GroupGrantsTotal,
		m.GroupRevokesTotal,
		m.StaffChangesTotal,
		m.SessionsEstablishedTotal,
		m.SessionsDestroyedTotal,
		m.SessionsSweptTotal,
		m.StoreOperationDuration,
		m.StoreErrorsTotal,
	)

	return m
}

// Handler returns the /metrics handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latencies.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rw, r)

		path := r.URL.Path
		m.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// statusRecorder wraps http.ResponseWriter to capture the status code.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}
