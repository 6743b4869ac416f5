// Package metrics holds the Prometheus collectors of the API and worker.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "http_requests_total",
		Help:      "HTTP requests by route and status.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "portal",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// Payments counts gateway outcomes. kind is registration or donation.
	Payments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "payments_total",
		Help:      "Payment verifications by kind and result.",
	}, []string{"kind", "result"})

	Webhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "webhooks_total",
		Help:      "Gateway webhooks by event and result.",
	}, []string{"event", "result"})

	Scans = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "token_scans_total",
		Help:      "Check-in scans by result.",
	}, []string{"result"})

	Receipts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "receipt_emails_total",
		Help:      "Receipt e-mails by kind and result.",
	}, []string{"kind", "result"})

	Reconciled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "reconciled_total",
		Help:      "Abandoned checkouts marked failed by the worker.",
	}, []string{"kind"})
)

// Middleware records request count and latency per matched route.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		HTTPRequests.WithLabelValues(c.Request.Method, route, strconv.Itoa(c.Writer.Status())).Inc()
		HTTPDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
