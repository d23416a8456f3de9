package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountersAreIsolatedPerInstance(t *testing.T) {
	a := New()
	b := New()

	a.CallStarted()
	a.CallStarted()

	if got := testutil.ToFloat64(a.callsStarted); got != 2 {
		t.Fatalf("expected 2 calls started, got %v", got)
	}
	if got := testutil.ToFloat64(b.callsStarted); got != 0 {
		t.Fatalf("expected fresh instance at 0, got %v", got)
	}
}

func TestMetrics_ConnectAndOutcome(t *testing.T) {
	m := New()
	m.ConnectFinished(ResultReady, 3*time.Second)
	m.ConnectFinished(ResultTimeout, 15*time.Second)
	m.ConnectFinished(ResultReady, 2*time.Second)
	m.OutcomeSubmitted("Erfolgreich", ResultOK)
	m.Disconnected(ResultPartial)
	m.SetActiveSessions(3)

	if got := testutil.ToFloat64(m.connectAttempts.WithLabelValues(ResultReady)); got != 2 {
		t.Fatalf("expected 2 ready connects, got %v", got)
	}
	if got := testutil.ToFloat64(m.outcomes.WithLabelValues("Erfolgreich", ResultOK)); got != 1 {
		t.Fatalf("expected 1 outcome, got %v", got)
	}
	if got := testutil.ToFloat64(m.activeSessions); got != 3 {
		t.Fatalf("expected 3 sessions, got %v", got)
	}
}

func TestMetrics_MiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := New()
	r := gin.New()
	r.Use(m.Middleware())
	r.GET("/v1/calls/active", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(m.Handler()))

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/v1/calls/active", nil))

	if got := testutil.ToFloat64(m.httpRequests.WithLabelValues("GET", "/v1/calls/active", "204")); got != 1 {
		t.Fatalf("expected 1 request recorded, got %v", got)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "agent_console_http_requests_total") {
		t.Fatalf("expected console metrics in exposition")
	}
}
