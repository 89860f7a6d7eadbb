// Package metrics holds the prometheus collectors exported on /metrics.
// Every method is safe to call on a nil receiver so components can run
// without instrumentation in tests.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "cardiocare"

// HTTPMetrics counts requests and their latency per route.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.requestsTotal, m.requestDuration)
	return m
}

func (m *HTTPMetrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, status).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(seconds)
}

// ConnectionMetrics tracks connection-request lifecycle events.
type ConnectionMetrics struct {
	transitionsTotal *prometheus.CounterVec
	failuresTotal    *prometheus.CounterVec
	supersededTotal  prometheus.Counter
}

func NewConnectionMetrics(reg prometheus.Registerer) *ConnectionMetrics {
	m := &ConnectionMetrics{
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "transitions_total",
			Help:      "Connection request status changes by operation and resulting status",
		}, []string{"operation", "status"}),
		failuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "failures_total",
			Help:      "Rejected connection operations by reason",
		}, []string{"operation", "reason"}),
		supersededTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connection",
			Name:      "superseded_total",
			Help:      "Pending requests auto-rejected because the patient accepted another doctor",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.transitionsTotal, m.failuresTotal, m.supersededTotal)
	return m
}

func (m *ConnectionMetrics) ObserveTransition(operation, status string) {
	if m == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(operation, status).Inc()
}

func (m *ConnectionMetrics) ObserveFailure(operation, reason string) {
	if m == nil {
		return
	}
	m.failuresTotal.WithLabelValues(operation, reason).Inc()
}

func (m *ConnectionMetrics) ObserveSuperseded(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.supersededTotal.Add(float64(n))
}

// NotificationMetrics tracks outbound email delivery.
type NotificationMetrics struct {
	sentTotal    *prometheus.CounterVec
	droppedTotal prometheus.Counter
	queueDepth   prometheus.Gauge
}

func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	m := &NotificationMetrics{
		sentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "sent_total",
			Help:      "Email send attempts by provider and result",
		}, []string{"provider", "result"}),
		droppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "dropped_total",
			Help:      "Notifications dropped because the queue was full or closed",
		}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notification",
			Name:      "queue_depth",
			Help:      "Notifications waiting for a worker",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.sentTotal, m.droppedTotal, m.queueDepth)
	return m
}

func (m *NotificationMetrics) ObserveSend(provider string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.sentTotal.WithLabelValues(provider, result).Inc()
}

func (m *NotificationMetrics) ObserveDropped() {
	if m == nil {
		return
	}
	m.droppedTotal.Inc()
}

func (m *NotificationMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
