package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the node.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
		[]string{"kind"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"kind", "event"},
	)
	deliveryQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chat_delivery_queue_depth",
			Help: "Messages queued per destination awaiting acknowledgment.",
		},
		[]string{"destination"},
	)
	deliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_delivery_attempts_total",
			Help: "Total delivery attempts by result.",
		},
		[]string{"result"},
	)
	acksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_acks_total",
			Help: "Total message acknowledgments processed.",
		},
	)
	resyncsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_resyncs_total",
			Help: "Total full resyncs triggered by the consistency verifier.",
		},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		deliveryQueueDepth,
		deliveryAttemptsTotal,
		acksTotal,
		resyncsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Inc()
}

func DecWSActive(kind string) {
	wsActiveConnections.WithLabelValues(kind).Dec()
}

func IncWSEvent(kind, event string) {
	wsEventsTotal.WithLabelValues(kind, event).Inc()
}

func SetQueueDepth(destination string, depth int) {
	deliveryQueueDepth.WithLabelValues(destination).Set(float64(depth))
}

func IncDeliveryAttempt(result string) {
	deliveryAttemptsTotal.WithLabelValues(result).Inc()
}

func IncAck() {
	acksTotal.Inc()
}

func IncResync() {
	resyncsTotal.Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
