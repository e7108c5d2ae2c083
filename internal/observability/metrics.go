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
			Name: "conversation_http_requests_total",
			Help: "Total number of HTTP requests processed by the conversation service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "conversation_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "conversation_ws_active_connections",
			Help: "Number of active websocket sessions.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_ws_events_total",
			Help: "Total number of websocket lifecycle and command events.",
		},
		[]string{"event"},
	)
	messagesAppendedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_messages_appended_total",
			Help: "Total number of messages appended to the store.",
		},
	)
	broadcastDroppedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_broadcast_dropped_total",
			Help: "Total number of sessions dropped for failing to keep up with broadcasts.",
		},
	)
	rateLimitDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conversation_rate_limit_denied_total",
			Help: "Total number of requests denied by the rate limiter.",
		},
		[]string{"class"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "conversation_amqp_publish_errors_total",
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
		messagesAppendedTotal,
		broadcastDroppedTotal,
		rateLimitDeniedTotal,
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

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncMessageAppended() {
	messagesAppendedTotal.Inc()
}

func IncBroadcastDropped() {
	broadcastDroppedTotal.Inc()
}

func IncRateLimitDenied(class string) {
	rateLimitDeniedTotal.WithLabelValues(class).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
