package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all application metrics
type Metrics struct {
	// Order metrics
	OrdersCreated      *prometheus.CounterVec
	OrderTransitions   *prometheus.CounterVec
	GatewayCallLatency *prometheus.HistogramVec
	GatewayRetries     *prometheus.CounterVec
	CouponResolutions  *prometheus.CounterVec

	// Webhook metrics
	WebhooksReceived *prometheus.CounterVec

	// Audit metrics
	AuditWriteFailures prometheus.Counter
	AuditDeadLetters   *prometheus.CounterVec

	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Circuit breaker metrics
	CircuitBreakerState *prometheus.GaugeVec

	// Worker metrics
	WorkerMessagesProcessed  *prometheus.CounterVec
	WorkerProcessingDuration *prometheus.HistogramVec
	NotificationsSent        *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics against the given registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := prometheus.WrapRegistererWith(nil, reg)

	m := &Metrics{
		OrdersCreated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "orders_created_total",
				Help:      "Total number of payment orders opened by gateway and path",
			},
			[]string{"gateway", "path"},
		),
		OrderTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_transitions_total",
				Help:      "Total number of order state transitions",
			},
			[]string{"from", "to"},
		),
		GatewayCallLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "gateway_call_duration_seconds",
				Help:      "Gateway create-order latency in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"gateway", "result"},
		),
		GatewayRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "gateway_retries_total",
				Help:      "Total number of retried gateway calls",
			},
			[]string{"gateway"},
		),
		CouponResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "coupon_resolutions_total",
				Help:      "Coupon resolution attempts by result",
			},
			[]string{"result"},
		),
		WebhooksReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "webhooks_received_total",
				Help:      "Webhook deliveries by gateway and outcome",
			},
			[]string{"gateway", "outcome"},
		),
		AuditWriteFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_write_failures_total",
				Help:      "Audit entries that exhausted their write retries",
			},
		),
		AuditDeadLetters: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "audit_dead_letters_total",
				Help:      "Audit entries handed to the dead-letter sink",
			},
			[]string{"result"},
		),
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),
		WorkerMessagesProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "worker_messages_processed_total",
				Help:      "Total number of worker messages processed",
			},
			[]string{"stream", "status"},
		),
		WorkerProcessingDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "worker_processing_duration_seconds",
				Help:      "Worker message processing duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"stream"},
		),
		NotificationsSent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Notifications by channel and result",
			},
			[]string{"channel", "result"},
		),
	}

	// Register all collectors
	factory.MustRegister(
		m.OrdersCreated,
		m.OrderTransitions,
		m.GatewayCallLatency,
		m.GatewayRetries,
		m.CouponResolutions,
		m.WebhooksReceived,
		m.AuditWriteFailures,
		m.AuditDeadLetters,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.CircuitBreakerState,
		m.WorkerMessagesProcessed,
		m.WorkerProcessingDuration,
		m.NotificationsSent,
	)

	return m
}

// The helpers below accept a nil receiver so services can run without metrics.

func (m *Metrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	m.OrderTransitions.WithLabelValues(from, to).Inc()
}

func (m *Metrics) ObserveOrderCreated(gateway, path string) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(gateway, path).Inc()
}

func (m *Metrics) ObserveGatewayCall(gateway, result string, seconds float64) {
	if m == nil {
		return
	}
	m.GatewayCallLatency.WithLabelValues(gateway, result).Observe(seconds)
}

func (m *Metrics) ObserveGatewayRetry(gateway string) {
	if m == nil {
		return
	}
	m.GatewayRetries.WithLabelValues(gateway).Inc()
}

func (m *Metrics) ObserveCoupon(result string) {
	if m == nil {
		return
	}
	m.CouponResolutions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveWebhook(gateway, outcome string) {
	if m == nil {
		return
	}
	m.WebhooksReceived.WithLabelValues(gateway, outcome).Inc()
}

func (m *Metrics) ObserveAuditFailure(deadLettered bool) {
	if m == nil {
		return
	}
	m.AuditWriteFailures.Inc()
	result := "stored"
	if !deadLettered {
		result = "lost"
	}
	m.AuditDeadLetters.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveNotification(channel, result string) {
	if m == nil {
		return
	}
	m.NotificationsSent.WithLabelValues(channel, result).Inc()
}

// ObserveBreaker records a circuit breaker state (0=closed, 1=half-open, 2=open).
func (m *Metrics) ObserveBreaker(name string, state int) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) ObserveWorkerMessage(stream, status string, seconds float64) {
	if m == nil {
		return
	}
	m.WorkerMessagesProcessed.WithLabelValues(stream, status).Inc()
	m.WorkerProcessingDuration.WithLabelValues(stream).Observe(seconds)
}
