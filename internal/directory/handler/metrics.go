package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	satChallengesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "satring_payment_challenges_total",
		Help: "Payment challenges issued, by operation.",
	}, []string{"operation"})

	satVerificationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "satring_credential_verifications_total",
		Help: "Credential verification attempts by operation and result kind.",
	}, []string{"operation", "result"})

	satRecoveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "satring_domain_recoveries_total",
		Help: "Domain ownership verification attempts by result.",
	}, []string{"result"})

	satProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "satring_service_probes_total",
		Help: "Listing liveness probes by result.",
	}, []string{"result"})

	satRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "satring_requests_total",
		Help: "HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	satRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "satring_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// PrometheusMiddleware returns a gin middleware that records per-request metrics.
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

		satRequestsTotal.WithLabelValues(method, path, status).Inc()
		satRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func recordChallenge(operation string) {
	satChallengesTotal.WithLabelValues(operation).Inc()
}

func recordVerification(operation, result string) {
	satVerificationsTotal.WithLabelValues(operation, result).Inc()
}

func recordRecovery(result string) {
	satRecoveriesTotal.WithLabelValues(result).Inc()
}

// RecordProbe records a listing liveness probe result.
func RecordProbe(alive bool) {
	if alive {
		satProbesTotal.WithLabelValues("alive").Inc()
	} else {
		satProbesTotal.WithLabelValues("dead").Inc()
	}
}
