package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agent_console"

// Connect results.
const (
	ResultReady    = "ready"
	ResultFailed   = "failed"
	ResultTimeout  = "timeout"
	ResultCanceled = "canceled"
	ResultRejected = "rejected"
	ResultOK       = "ok"
	ResultPartial  = "partial"
	ResultError    = "error"
)

// Metrics holds the console's collectors on their own registry so tests and
// multiple instances do not collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	connectAttempts *prometheus.CounterVec
	connectDuration *prometheus.HistogramVec
	disconnects     *prometheus.CounterVec
	callsStarted    prometheus.Counter
	callsRejected   *prometheus.CounterVec
	callDuration    prometheus.Histogram
	outcomes        *prometheus.CounterVec
	activeSessions  prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		connectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_attempts_total",
			Help:      "Branch connect attempts by result.",
		}, []string{"result"}),
		connectDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Time from connect request to ready or failure.",
			Buckets:   []float64{0.5, 1, 2, 3, 5, 8, 12, 15, 20, 30},
		}, []string{"result"}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "disconnects_total",
			Help:      "Branch disconnects by result.",
		}, []string{"result"}),
		callsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_started_total",
			Help:      "Calls started.",
		}),
		callsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_rejected_total",
			Help:      "Call starts rejected by gating.",
		}, []string{"reason"}),
		callDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "call_duration_seconds",
			Help:      "Talk time of ended calls.",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcome_submissions_total",
			Help:      "Outcome submissions by outcome and result.",
		}, []string{"outcome", "result"}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Agent console sessions held in memory.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests, m.httpDuration,
		m.connectAttempts, m.connectDuration, m.disconnects,
		m.callsStarted, m.callsRejected, m.callDuration,
		m.outcomes, m.activeSessions,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Middleware records request count and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}

// The recording methods below are no-ops on a nil *Metrics.

func (m *Metrics) ConnectFinished(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.connectAttempts.WithLabelValues(result).Inc()
	m.connectDuration.WithLabelValues(result).Observe(d.Seconds())
}

func (m *Metrics) Disconnected(result string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(result).Inc()
}

func (m *Metrics) CallStarted() {
	if m == nil {
		return
	}
	m.callsStarted.Inc()
}

func (m *Metrics) CallRejected(reason string) {
	if m == nil {
		return
	}
	m.callsRejected.WithLabelValues(reason).Inc()
}

func (m *Metrics) CallEnded(durationSeconds int) {
	if m == nil {
		return
	}
	m.callDuration.Observe(float64(durationSeconds))
}

func (m *Metrics) OutcomeSubmitted(outcome, result string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome, result).Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
