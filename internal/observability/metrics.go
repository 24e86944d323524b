package observability

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_http_requests_total",
			Help: "Total number of HTTP requests processed by the chat service.",
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
	grpcServerHandledTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grpc_server_handled_total",
			Help: "Total number of gRPC requests handled by the server.",
		},
		[]string{"grpc_service", "grpc_method", "grpc_code"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_active_connections",
			Help: "Number of active websocket connections on this instance.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_events_total",
			Help: "Total number of websocket lifecycle events.",
		},
		[]string{"event"},
	)
	brokerPublishTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_broker_publish_total",
			Help: "Events published to the broker by channel namespace.",
		},
		[]string{"namespace", "result"},
	)
	brokerReconnectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_broker_reconnects_total",
			Help: "Times the fanout listener had to re-create its subscription.",
		},
	)
	fanoutDeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_fanout_deliveries_total",
			Help: "Per-recipient delivery attempts made by the fanout listener.",
		},
		[]string{"namespace", "result"},
	)
	fanoutMalformedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_fanout_malformed_total",
			Help: "Broker messages dropped because they could not be decoded.",
		},
	)
	statusTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_message_status_transitions_total",
			Help: "Messages moved to a new delivery status.",
		},
		[]string{"status"},
	)
	pushJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_push_jobs_total",
			Help: "Push notification jobs dispatched by device type.",
		},
		[]string{"device_type", "result"},
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
		grpcServerHandledTotal,
		wsActiveConnections,
		wsEventsTotal,
		brokerPublishTotal,
		brokerReconnectsTotal,
		fanoutDeliveriesTotal,
		fanoutMalformedTotal,
		statusTransitionsTotal,
		pushJobsTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func GRPCServerMetricsUnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		statusInfo := status.Convert(err)
		service, method := splitFullMethod(info.FullMethod)
		grpcServerHandledTotal.WithLabelValues(service, method, statusInfo.Code().String()).Inc()
		return resp, err
	}
}

func splitFullMethod(fullMethod string) (string, string) {
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 3 {
		return "unknown", "unknown"
	}
	return parts[1], parts[2]
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

func IncBrokerPublish(namespace, result string) {
	brokerPublishTotal.WithLabelValues(namespace, result).Inc()
}

func IncBrokerReconnect() {
	brokerReconnectsTotal.Inc()
}

func IncFanoutDelivery(namespace, result string) {
	fanoutDeliveriesTotal.WithLabelValues(namespace, result).Inc()
}

func IncFanoutMalformed() {
	fanoutMalformedTotal.Inc()
}

func AddStatusTransitions(status string, n int) {
	statusTransitionsTotal.WithLabelValues(status).Add(float64(n))
}

func IncPushJob(deviceType, result string) {
	pushJobsTotal.WithLabelValues(deviceType, result).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
