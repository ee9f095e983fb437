package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Middleware(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/auth/shib/login", nil))

	assert.Equal(t, http.StatusForbidden, w.Code)
	count := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/auth/shib/login", "403"))
	assert.Equal(t, float64(1), count)
}

func TestMetrics_MiddlewareDefaultsTo200(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	count := testutil.ToFloat64(metrics.HTTPRequestsTotal.WithLabelValues("GET", "/", "200"))
	assert.Equal(t, float64(1), count)
}

func TestMetrics_HandlerExposesRegistry(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	metrics.LoginsTotal.WithLabelValues(OutcomeSuccess).Inc()

	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `shibgate_logins_total{outcome="success"} 1`)
}
