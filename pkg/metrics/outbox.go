package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OutboxMetrics counts relay deliveries per event type and times each claimed batch.
type OutboxMetrics struct {
	deliveries *prometheus.CounterVec
	batches    prometheus.Histogram
}

func NewOutboxMetrics(reg prometheus.Registerer) *OutboxMetrics {
	if reg == nil {
		return &OutboxMetrics{}
	}
	m := &OutboxMetrics{
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "deliveries_total",
			Help:      "Outbox rows handled by the relay, by event type and outcome.",
		}, []string{"event_type", "outcome"}),
		batches: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "batch_duration_seconds",
			Help:      "Wall time of one claim-publish-mark batch.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.deliveries, m.batches)
	return m
}

func (m *OutboxMetrics) Delivery(eventType, outcome string) {
	if m == nil || m.deliveries == nil {
		return
	}
	m.deliveries.WithLabelValues(normalizeLabel(eventType), outcome).Inc()
}

func (m *OutboxMetrics) ObserveBatch(d time.Duration) {
	if m == nil || m.batches == nil {
		return
	}
	m.batches.Observe(d.Seconds())
}
