package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vaultline/vaultline/internal/settlement"
)

var (
	vltRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlt_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	vltRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "vlt_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	vltSettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vlt_settlements_total",
		Help: "Total settled transactions by path (manual or auto).",
	}, []string{"path"})

	vltIntegrityFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vlt_integrity_failures_total",
		Help: "Total transactions discarded for seal verification failure.",
	})

	vltSweepDropsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "vlt_sweep_drops_total",
		Help: "Total fast transactions auto-rejected by the sweep.",
	})

	vltQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "vlt_queue_depth",
		Help: "Current number of pending transactions.",
	})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		vltRequestsTotal.WithLabelValues(method, path, status).Inc()
		vltRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordManualSettlement records one manually approved settlement.
func RecordManualSettlement() {
	vltSettlementsTotal.WithLabelValues("manual").Inc()
}

// RecordIntegrityFailure records one discarded transaction.
func RecordIntegrityFailure() {
	vltIntegrityFailuresTotal.Inc()
}

// RecordSweep records the outcome of one automatic sweep pass.
// Wire it to the engine via Engine.SetSweepRecord.
func RecordSweep(report settlement.SweepReport) {
	if report.Settled > 0 {
		vltSettlementsTotal.WithLabelValues("auto").Add(float64(report.Settled))
	}
	if report.Dropped > 0 {
		vltSweepDropsTotal.Add(float64(report.Dropped))
	}
}

// SetQueueDepth sets the pending-queue depth gauge.
func SetQueueDepth(n int) {
	vltQueueDepth.Set(float64(n))
}
