package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Run trigger outcomes recorded by RunTriggersTotal. Failed means the
// command exited non-zero (422); rejected covers validation and argument
// errors (400); accepted means queued for a worker (202).
const (
	OutcomeSucceeded   = "succeeded"
	OutcomeFailed      = "failed"
	OutcomeRejected    = "rejected"
	OutcomeErrored     = "errored"
	OutcomeAccepted    = "accepted"
	OutcomeUnavailable = "unavailable"
)

const (
	runModeKey    = "metrics.run_mode"
	runOutcomeKey = "metrics.run_outcome"
	unmatchedPath = "unmatched"
)

var (
	// HTTPRequestsTotal counts requests by matched route
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shelltask",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "shelltask",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds. Synchronous runs include the command's runtime.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10), // 5ms to ~22min
		},
		[]string{"method", "route"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "shelltask",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "HTTP requests currently being served",
		},
	)

	// RunTriggersTotal counts POST /api/v1/runs by mode and outcome
	RunTriggersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "shelltask",
			Subsystem: "http",
			Name:      "run_triggers_total",
			Help:      "Run trigger requests by mode (sync, async) and outcome",
		},
		[]string{"mode", "outcome"},
	)
)

// SetRunOutcome marks the request as a run trigger. MetricsMiddleware
// records it once the handler returns.
func SetRunOutcome(c *gin.Context, async bool, outcome string) {
	mode := "sync"
	if async {
		mode = "async"
	}
	c.Set(runModeKey, mode)
	c.Set(runOutcomeKey, outcome)
}

// MetricsMiddleware records request metrics labelled by gin's matched route,
// and run trigger outcomes set through SetRunOutcome. Scrapes and health
// checks are not counted.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if p := c.Request.URL.Path; p == "/metrics" || p == "/health" {
			c.Next()
			return
		}

		start := time.Now()
		HTTPActiveRequests.Inc()
		defer HTTPActiveRequests.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedPath
		}
		method := c.Request.Method

		HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())

		if outcome := c.GetString(runOutcomeKey); outcome != "" {
			RunTriggersTotal.WithLabelValues(c.GetString(runModeKey), outcome).Inc()
		}
	}
}
