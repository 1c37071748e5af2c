package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTPRequestsTotal counts requests by route template, status and caller role.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatengine",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route, status and caller role",
		},
		[]string{"method", "route", "status", "role"},
	)

	// HTTPRequestDuration covers synchronous election previews, which can run
	// for seconds on large elections.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "seatengine",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "route"},
	)

	// HTTPPayloadSize observes request bodies: election definitions and tally uploads.
	HTTPPayloadSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "seatengine",
			Subsystem: "http",
			Name:      "payload_bytes",
			Help:      "HTTP request body size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6), // 100B to 10MB
		},
		[]string{"route"},
	)

	// HTTPAccessDenied counts 401 and 403 answers per route.
	HTTPAccessDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatengine",
			Subsystem: "http",
			Name:      "access_denied_total",
			Help:      "Requests refused for missing credentials or insufficient role",
		},
		[]string{"route", "status"},
	)

	// HTTPDomainErrors counts handler failures by the domain error they map from
	HTTPDomainErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatengine",
			Subsystem: "http",
			Name:      "domain_errors_total",
			Help:      "Handler failures by domain error kind",
		},
		[]string{"kind"},
	)

	// HTTPActiveRequests tracks in-flight requests
	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "seatengine",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// MetricsMiddleware records HTTP request metrics. It runs before authentication,
// so the caller role is read once the handler chain has finished.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		route := routeLabel(c.FullPath())
		method := c.Request.Method

		HTTPActiveRequests.Inc()
		defer HTTPActiveRequests.Dec()

		if c.Request.ContentLength > 0 {
			HTTPPayloadSize.WithLabelValues(route).Observe(float64(c.Request.ContentLength))
		}

		c.Next()

		code := c.Writer.Status()
		status := strconv.Itoa(code)
		HTTPRequestsTotal.WithLabelValues(method, route, status, callerRole(c)).Inc()
		HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if code == http.StatusUnauthorized || code == http.StatusForbidden {
			HTTPAccessDenied.WithLabelValues(route, status).Inc()
		}
	}
}

// routeLabel uses the route template so election and run ids do not
// explode label cardinality; unmatched routes share one label.
func routeLabel(path string) string {
	if path == "" {
		return "unknown"
	}
	return path
}

func callerRole(c *gin.Context) string {
	if claims, ok := GetUserFromContext(c); ok {
		return string(claims.Role)
	}
	return "anonymous"
}
