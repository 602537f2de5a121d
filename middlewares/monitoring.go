package middlewares

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "byteme"

var httpLabels = []string{"service", "method", "path", "status"}

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests served, by route and status.",
	}, httpLabels)

	requestSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "Time spent serving HTTP requests.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, httpLabels)

	requestsInFlight = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_in_flight",
		Help:      "HTTP requests currently being served.",
	}, []string{"service"})

	operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "operations_total",
		Help:      "Business operations handled, by outcome.",
	}, []string{"service", "operation", "status"})
)

// PrometheusMiddleware 收集 Prometheus 指标
//
// Routes that matched nothing share the "unmatched" path label so scanners
// cannot blow up label cardinality.
func PrometheusMiddleware(service string) gin.HandlerFunc {
	inFlight := requestsInFlight.WithLabelValues(service)

	return func(c *gin.Context) {
		inFlight.Inc()
		defer inFlight.Dec()

		started := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		labels := prometheus.Labels{
			"service": service,
			"method":  c.Request.Method,
			"path":    route,
			"status":  strconv.Itoa(c.Writer.Status()),
		}
		requestsTotal.With(labels).Inc()
		requestSeconds.With(labels).Observe(time.Since(started).Seconds())
	}
}

// RecordOperation 记录业务操作指标
func RecordOperation(service, operation string, success bool) {
	outcome := "error"
	if success {
		outcome = "success"
	}
	operationsTotal.WithLabelValues(service, operation, outcome).Inc()
}

// Track records the outcome of the handler it is deferred in, judged by the
// response status.
func Track(c *gin.Context, service, operation string) {
	code := c.Writer.Status()
	RecordOperation(service, operation, code >= 200 && code < 300)
}
