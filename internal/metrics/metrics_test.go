package metrics_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/ecommerce-microservices/checkout-service/internal/metrics"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	m.OrderCreated()
	m.Settlement(metrics.OutcomeSettled)
	m.Settlement(metrics.OutcomeDuplicate)
	m.Settlement(metrics.OutcomeDuplicate)
	m.WebhookEvent("charge.success", "processed")

	expected := `
# HELP checkout_settlement_outcomes_total Settlement attempts by outcome.
# TYPE checkout_settlement_outcomes_total counter
checkout_settlement_outcomes_total{outcome="duplicate"} 2
checkout_settlement_outcomes_total{outcome="settled"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "checkout_settlement_outcomes_total"))

	count, err := testutil.GatherAndCount(reg, "checkout_orders_created_total", "checkout_webhook_events_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.OrderCreated()
	m.Settlement(metrics.OutcomeFailed)

	called := false
	h := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, called)
}

func TestMetrics_MiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/orders/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Handle("/metrics", m.Handler())

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/123", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/456", nil))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `checkout_http_requests_total{method="GET",route="/orders/{id}",status="404"} 2`)
}
