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
	gwDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_decisions_total",
		Help: "Total access decisions by outcome.",
	}, []string{"outcome"})

	gwRiskScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gw_risk_score",
		Help:    "Distribution of computed risk scores.",
		Buckets: prometheus.LinearBuckets(0, 0.1, 11),
	})

	gwRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	gwRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gw_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	gwScorerTrainsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gw_scorer_trains_total",
		Help: "Total successful scorer training runs.",
	})

	gwHealthProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_health_probes_total",
		Help: "Total dependency health probes by result.",
	}, []string{"result"})

	gwNotifyDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gw_notify_deliveries_total",
		Help: "Total decision webhook deliveries by success status.",
	}, []string{"status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request
// metrics.
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

		gwRequestsTotal.WithLabelValues(method, path, status).Inc()
		gwRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordDecision records one access decision outcome.
func RecordDecision(allowed bool) {
	if allowed {
		gwDecisionsTotal.WithLabelValues("allow").Inc()
	} else {
		gwDecisionsTotal.WithLabelValues("deny").Inc()
	}
}

// ObserveRiskScore records a computed risk score.
func ObserveRiskScore(score float64) {
	gwRiskScore.Observe(score)
}

// RecordScorerTrain records a successful scorer training run.
func RecordScorerTrain() {
	gwScorerTrainsTotal.Inc()
}

// RecordHealthProbe records a dependency health probe result.
func RecordHealthProbe(success bool) {
	if success {
		gwHealthProbesTotal.WithLabelValues("success").Inc()
	} else {
		gwHealthProbesTotal.WithLabelValues("failure").Inc()
	}
}

// RecordNotifyDelivery records a decision webhook delivery attempt.
func RecordNotifyDelivery(success bool) {
	if success {
		gwNotifyDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		gwNotifyDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}
