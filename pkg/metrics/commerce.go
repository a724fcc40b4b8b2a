package metrics

import "github.com/prometheus/client_golang/prometheus"

// CommerceMetrics counts order lifecycle and payment reconciliation outcomes.
type CommerceMetrics struct {
	ordersCreated     prometheus.Counter
	stockRejections   prometheus.Counter
	statusTransitions *prometheus.CounterVec
	webhookEvents     *prometheus.CounterVec
	autoRefunds       *prometheus.CounterVec
}

// NewCommerceMetrics registers the order and webhook counters on reg.
func NewCommerceMetrics(reg prometheus.Registerer) *CommerceMetrics {
	if reg == nil {
		return &CommerceMetrics{}
	}
	ordersCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "created_total",
		Help:      "Orders committed with their stock reservation.",
	})
	stockRejections := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "insufficient_stock_total",
		Help:      "Order mutations rejected for insufficient stock.",
	})
	statusTransitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "orders",
		Name:      "status_transitions_total",
		Help:      "Order status transitions by target status.",
	}, []string{"status"})
	webhookEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "webhook_events_total",
		Help:      "Payment processor webhook events by type and outcome.",
	}, []string{"type", "outcome"})
	autoRefunds := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "payments",
		Name:      "auto_refunds_total",
		Help:      "Refunds issued for payments that arrived after cancellation.",
	}, []string{"outcome"})
	reg.MustRegister(ordersCreated, stockRejections, statusTransitions, webhookEvents, autoRefunds)
	return &CommerceMetrics{
		ordersCreated:     ordersCreated,
		stockRejections:   stockRejections,
		statusTransitions: statusTransitions,
		webhookEvents:     webhookEvents,
		autoRefunds:       autoRefunds,
	}
}

func (m *CommerceMetrics) IncOrderCreated() {
	if m == nil || m.ordersCreated == nil {
		return
	}
	m.ordersCreated.Inc()
}

func (m *CommerceMetrics) IncInsufficientStock() {
	if m == nil || m.stockRejections == nil {
		return
	}
	m.stockRejections.Inc()
}

func (m *CommerceMetrics) IncTransition(status string) {
	if m == nil || m.statusTransitions == nil {
		return
	}
	m.statusTransitions.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncWebhookEvent records one processed webhook. outcome is e.g. applied, ignored, duplicate, failed.
func (m *CommerceMetrics) IncWebhookEvent(eventType, outcome string) {
	if m == nil || m.webhookEvents == nil {
		return
	}
	m.webhookEvents.WithLabelValues(normalizeLabel(eventType), normalizeLabel(outcome)).Inc()
}

func (m *CommerceMetrics) IncAutoRefund(outcome string) {
	if m == nil || m.autoRefunds == nil {
		return
	}
	m.autoRefunds.WithLabelValues(normalizeLabel(outcome)).Inc()
}
