// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the Prometheus HTTP instrumentation. Labels stay bounded:
//
//   - surface: submit (POST/GET /:target), pages (confirmation, unsubscribe
//     and thank-you pages), api (owner API) or ops (health, metrics, docs)
//   - route:   the registered Gin route, "unmatched" when none matched; raw
//     paths are never used because they carry target email addresses
//   - method and status
//
// Submission outcomes are counted by the pipeline, not here.
package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "formrelay"

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by surface, route, method and status.",
		},
		[]string{"surface", "route", "method", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by surface and route.",
			// Submissions wait on the mail relay, so the tail reaches seconds.
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20},
		},
		[]string{"surface", "route"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_inflight",
			Help:      "Requests currently being served, by surface.",
		},
		[]string{"surface"},
	)

	// Request sizes inform MAX_BODY_BYTES; unknown lengths are skipped.
	httpReqSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_size_bytes",
			Help:      "Declared request body size by surface.",
			Buckets:   prometheus.ExponentialBuckets(128, 4, 8), // 128B..2MiB
		},
		[]string{"surface"},
	)
)

const unmatchedPath = "unmatched"

const (
	surfaceSubmit = "submit"
	surfacePages  = "pages"
	surfaceAPI    = "api"
	surfaceOps    = "ops"
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, httpReqSize)
}

// MetricsOptions configures Metrics.
type MetricsOptions struct {
	// APIPrefix is the owner API base path, e.g. "/api/v1".
	APIPrefix string
}

// Metrics instruments every request. Mount /metrics next to it:
//
//	r.Use(middleware.Metrics(middleware.MetricsOptions{APIPrefix: "/api/v1"}))
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
func Metrics(opts MetricsOptions) gin.HandlerFunc {
	prefix := strings.TrimRight(opts.APIPrefix, "/")
	return func(c *gin.Context) {
		start := time.Now()
		route := c.FullPath()
		if route == "" {
			route = unmatchedPath
		}
		surface := surfaceOf(route, prefix)

		inflight := httpInflight.WithLabelValues(surface)
		inflight.Inc()
		defer inflight.Dec()
		if n := c.Request.ContentLength; n >= 0 {
			httpReqSize.WithLabelValues(surface).Observe(float64(n))
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpReqs.WithLabelValues(surface, route, c.Request.Method, status).Inc()
		httpLat.WithLabelValues(surface, route).Observe(time.Since(start).Seconds())
	}
}

func surfaceOf(route, apiPrefix string) string {
	switch {
	case route == "/:target":
		return surfaceSubmit
	case apiPrefix != "" && strings.HasPrefix(route, apiPrefix+"/"):
		return surfaceAPI
	case route == "/thanks",
		strings.HasPrefix(route, "/confirm/"),
		strings.HasPrefix(route, "/unconfirm/"):
		return surfacePages
	default:
		return surfaceOps
	}
}
