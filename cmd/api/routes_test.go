package main

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"agent-console/internal/metrics"

	"github.com/gin-gonic/gin"
)

func TestHealthz_WithoutDB(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerRoutes(r, routeDeps{
		authMW:  func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) },
		metrics: metrics.New(),
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 from /metrics, got %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/connection", nil))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected protected route to require auth, got %d", w.Code)
	}
}

func TestAllowOrigins(t *testing.T) {
	check := allowOrigins([]string{"https://console.example.com"})

	req := httptest.NewRequest(http.MethodGet, "/v1/events", nil)
	if !check(req) {
		t.Fatalf("expected request without origin to pass")
	}
	req.Header.Set("Origin", "https://console.example.com")
	if !check(req) {
		t.Fatalf("expected configured origin to pass")
	}
	req.Header.Set("Origin", "https://evil.example.com")
	if check(req) {
		t.Fatalf("expected unknown origin to be rejected")
	}
}
