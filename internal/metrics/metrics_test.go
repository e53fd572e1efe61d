package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.GroupTransition("CONFIRMED")
	m.GroupTransition("CONFIRMED")
	m.Bid("accepted")
	m.CreditOperation("CREDIT_USED")
	m.Notification(true)
	m.Notification(false)

	body := scrape(t, m)
	assert.Contains(t, body, `groupbuy_group_transitions_total{status="CONFIRMED"} 2`)
	assert.Contains(t, body, `groupbuy_bids_total{outcome="accepted"} 1`)
	assert.Contains(t, body, `groupbuy_credit_operations_total{type="CREDIT_USED"} 1`)
	assert.Contains(t, body, `groupbuy_notifications_total{result="failed"} 1`)
	assert.Contains(t, body, `groupbuy_notifications_total{result="sent"} 1`)
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.GroupTransition("ORDERED")
		m.Bid("placed")
		m.CreditOperation("CREDIT_REPAID")
		m.Notification(true)
		m.ObserveHTTP(http.MethodGet, "/api/groups", 200, time.Millisecond)
	})
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ObserveHTTP(http.MethodPost, "/api/groups", http.StatusCreated, 10*time.Millisecond)

	body := scrape(t, m)
	assert.Contains(t, body, `groupbuy_http_requests_total{code="201",method="POST",route="/api/groups"} 1`)
	assert.Contains(t, body, "groupbuy_http_request_duration_seconds_count")
}
