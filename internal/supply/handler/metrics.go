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
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greenledger_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "greenledger_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	stagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greenledger_stages_total",
		Help: "Total stage blocks appended by category.",
	}, []string{"category"})

	stageEmissions = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "greenledger_stage_emissions_kg",
		Help:    "CO2e emissions per appended stage in kilograms.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"category"})

	trustScores = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "greenledger_trust_score",
		Help:    "Trust score attached to appended stages.",
		Buckets: prometheus.LinearBuckets(10, 10, 10),
	})

	chainsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenledger_chains_total",
		Help: "Number of chains seen by the last audit pass.",
	})

	chainsTampered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "greenledger_chains_tampered",
		Help: "Number of chains failing verification in the last audit pass.",
	})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "greenledger_webhook_deliveries_total",
		Help: "Total webhook deliveries by event type and outcome.",
	}, []string{"event", "status"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		method := c.Request.Method
		requestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		requestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// RecordStage records an appended stage. Its signature matches
// service.StageRecorder.
func RecordStage(category string, emissions float64, trustScore int) {
	stagesTotal.WithLabelValues(category).Inc()
	stageEmissions.WithLabelValues(category).Observe(emissions)
	trustScores.Observe(float64(trustScore))
}

// RecordWebhookDelivery records the final outcome of a webhook delivery.
func RecordWebhookDelivery(eventType string, success bool) {
	status := "failure"
	if success {
		status = "success"
	}
	webhookDeliveriesTotal.WithLabelValues(eventType, status).Inc()
}

// RecordAudit sets the chain gauges from an audit pass.
func RecordAudit(chains, tampered int) {
	chainsTotal.Set(float64(chains))
	chainsTampered.Set(float64(tampered))
}
