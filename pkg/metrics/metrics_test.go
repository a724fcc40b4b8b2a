package metrics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCronJobMetricsCountsRunsByOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.ObserveDuration("pending-order-sweep", 250*time.Millisecond)
	m.IncSuccess("pending-order-sweep")
	m.IncSuccess("pending-order-sweep")
	m.IncFailure("pending-order-sweep")
	m.IncFailure("")

	if got := testutil.ToFloat64(m.runs.WithLabelValues("pending-order-sweep", outcomeSuccess)); got != 2 {
		t.Fatalf("success = %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("unknown", outcomeFailure)); got != 1 {
		t.Fatalf("unnamed job failures = %v", got)
	}
	if n := testutil.CollectAndCount(m.duration, "storefront_cron_job_duration_seconds"); n != 1 {
		t.Fatalf("duration series = %d", n)
	}
}

func TestCommerceMetricsExposition(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCommerceMetrics(reg)
	m.IncWebhookEvent("checkout.session.completed", "applied")
	m.IncWebhookEvent("checkout.session.completed", "applied")
	m.IncTransition("cancelled")

	want := `
# HELP storefront_orders_status_transitions_total Order status transitions by target status.
# TYPE storefront_orders_status_transitions_total counter
storefront_orders_status_transitions_total{status="cancelled"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "storefront_orders_status_transitions_total"); err != nil {
		t.Fatalf("transitions: %v", err)
	}
	if got := testutil.ToFloat64(m.webhookEvents.WithLabelValues("checkout.session.completed", "applied")); got != 2 {
		t.Fatalf("webhook applied = %v", got)
	}
}

func TestOutboxMetricsDeliveries(t *testing.T) {
	m := NewOutboxMetrics(prometheus.NewRegistry())
	m.Delivery("order.created", "published")
	m.Delivery("order.created", "retry")
	m.Delivery("", "dead_lettered")
	m.ObserveBatch(40 * time.Millisecond)

	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("order.created", "published")); got != 1 {
		t.Fatalf("published = %v", got)
	}
	if got := testutil.ToFloat64(m.deliveries.WithLabelValues("unknown", "dead_lettered")); got != 1 {
		t.Fatalf("dead lettered = %v", got)
	}
	if n := testutil.CollectAndCount(m.deliveries); n != 3 {
		t.Fatalf("delivery series = %d", n)
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var c *CommerceMetrics
	c.IncOrderCreated()
	c.IncInsufficientStock()
	c.IncWebhookEvent("x", "y")
	NewCommerceMetrics(nil).IncAutoRefund("issued")

	var o *OutboxMetrics
	o.Delivery("x", "published")
	NewOutboxMetrics(nil).ObserveBatch(time.Second)

	NewCronJobMetrics(nil).IncSuccess("x")
}

func TestOpsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewOutboxMetrics(reg).Delivery("order.created", "published")

	var readyErr error
	h := OpsHandler(reg, func(context.Context) error { return readyErr })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("healthz = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "storefront_outbox_deliveries_total") {
		t.Fatalf("metrics = %d %s", rec.Code, rec.Body.String())
	}

	readyErr = errors.New("db down")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("unready healthz = %d", rec.Code)
	}
}
