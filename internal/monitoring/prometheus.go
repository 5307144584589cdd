// Package monitoring provides Prometheus metrics for the PAYFLUX monitor
// core.
//
// Usage:
//
//  1. Mount the metrics endpoint in your main function:
//     router := gin.New()
//     monitoring.SetupPrometheusMetrics(router)
//
//  2. Add HTTP metrics middleware:
//     router.Use(monitoring.HTTPMetricsMiddleware())
//
//  3. Record custom metrics where the work happens:
//     monitoring.RecordDetectionCycle("scheduled", time.Since(start), true)
//     monitoring.RecordEventsCreated("duplicate_nfc", 3)
//     monitoring.RecordCacheOperation("get", "hit")
//     monitoring.RecordDBOperation("select", "transactions", time.Since(start), true)
package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflux_core_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payflux_core_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	detectionCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflux_core_detection_cycles_total",
			Help: "Total number of detection cycles by trigger and outcome",
		},
		[]string{"trigger", "status"},
	)

	detectionCycleDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "payflux_core_detection_cycle_duration_seconds",
			Help:    "Detection cycle duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	detectionEventsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflux_core_detection_events_created_total",
			Help: "Monitoring events created, by detection type",
		},
		[]string{"detection_type"},
	)

	circuitBreakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "payflux_core_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half_open, 2=open)",
		},
	)

	cacheOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflux_core_cache_operations_total",
			Help: "Cache operations by operation and result",
		},
		[]string{"operation", "result"},
	)

	dbOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payflux_core_db_operations_total",
			Help: "Database operations by operation, table and status",
		},
		[]string{"operation", "table", "status"},
	)

	dbOperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "payflux_core_db_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"operation", "table"},
	)

	activeSubscriptions = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "payflux_core_active_subscriptions",
			Help: "Active event subscriptions by delivery mode",
		},
		[]string{"mode"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		detectionCyclesTotal,
		detectionCycleDuration,
		detectionEventsCreated,
		circuitBreakerState,
		cacheOperationsTotal,
		dbOperationsTotal,
		dbOperationDuration,
		activeSubscriptions,
	)
}

// SetupPrometheusMetrics mounts /metrics on the router.
func SetupPrometheusMetrics(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// HTTPMetricsMiddleware records request counts and latencies per route.
func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		httpRequestsTotal.WithLabelValues(
			c.Request.Method, endpoint, strconv.Itoa(c.Writer.Status()),
		).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, endpoint).
			Observe(time.Since(start).Seconds())
	}
}

func RecordDetectionCycle(trigger string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	detectionCyclesTotal.WithLabelValues(trigger, status).Inc()
	detectionCycleDuration.Observe(duration.Seconds())
}

func RecordCycleRejected(trigger string) {
	detectionCyclesTotal.WithLabelValues(trigger, "rejected").Inc()
}

func RecordEventsCreated(detectionType string, n int) {
	if n <= 0 {
		return
	}
	detectionEventsCreated.WithLabelValues(detectionType).Add(float64(n))
}

// SetCircuitBreakerState exports the breaker state as a gauge so operators
// can alert on OPEN.
func SetCircuitBreakerState(state string) {
	var v float64
	switch state {
	case "HALF_OPEN":
		v = 1
	case "OPEN":
		v = 2
	}
	circuitBreakerState.Set(v)
}

func RecordCacheOperation(operation, result string) {
	cacheOperationsTotal.WithLabelValues(operation, result).Inc()
}

func RecordDBOperation(operation, table string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	dbOperationsTotal.WithLabelValues(operation, table, status).Inc()
	dbOperationDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

func SetActiveSubscriptions(mode string, n int) {
	activeSubscriptions.WithLabelValues(mode).Set(float64(n))
}
