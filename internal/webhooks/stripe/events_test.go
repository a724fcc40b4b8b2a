package stripewebhook

import (
	"testing"

	"github.com/stripe/stripe-go/v84"
)

func TestParseEventVariants(t *testing.T) {
	tests := []struct {
		name   string
		event  *stripe.Event
		assert func(t *testing.T, got PaymentEvent)
	}{
		{
			name: "completed session",
			event: event(t, stripe.EventTypeCheckoutSessionCompleted, map[string]any{
				"id":                  "cs_1",
				"payment_intent":      "pi_1",
				"payment_status":      "paid",
				"client_reference_id": "ORD-ABC",
			}),
			assert: func(t *testing.T, got PaymentEvent) {
				e, ok := got.(SessionCompleted)
				if !ok || e.SessionID != "cs_1" || e.PaymentReference != "pi_1" || !e.Paid || e.OrderID != "ORD-ABC" {
					t.Fatalf("unexpected %#v", got)
				}
			},
		},
		{
			name: "async failure is an expiry",
			event: event(t, stripe.EventTypeCheckoutSessionAsyncPaymentFailed, map[string]any{
				"id": "cs_2",
			}),
			assert: func(t *testing.T, got PaymentEvent) {
				if e, ok := got.(SessionExpired); !ok || e.SessionID != "cs_2" {
					t.Fatalf("unexpected %#v", got)
				}
			},
		},
		{
			name: "payment failure keeps processor message",
			event: event(t, stripe.EventTypePaymentIntentPaymentFailed, map[string]any{
				"id":                 "pi_3",
				"last_payment_error": map[string]any{"message": "card declined"},
			}),
			assert: func(t *testing.T, got PaymentEvent) {
				if e, ok := got.(PaymentFailed); !ok || e.Reason != "card declined" {
					t.Fatalf("unexpected %#v", got)
				}
			},
		},
		{
			name:  "failed refund",
			event: refundEvent(t, stripe.EventTypeRefundUpdated, "re_1", "pi_1", 100, "failed"),
			assert: func(t *testing.T, got PaymentEvent) {
				e, ok := got.(RefundUpdated)
				if !ok || !e.Failed() || e.AmountCents != 100 || e.Kind() != string(stripe.EventTypeRefundUpdated) {
					t.Fatalf("unexpected %#v", got)
				}
			},
		},
		{
			name:  "unknown type",
			event: event(t, "invoice.paid", map[string]any{"id": "in_1"}),
			assert: func(t *testing.T, got PaymentEvent) {
				if _, ok := got.(UnknownEvent); !ok {
					t.Fatalf("unexpected %#v", got)
				}
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseEvent(tc.event)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			tc.assert(t, got)
		})
	}
}

func TestParseEventRejectsMalformedData(t *testing.T) {
	evt := &stripe.Event{
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{Raw: []byte(`{"id": 12`)},
	}
	if _, err := ParseEvent(evt); err == nil {
		t.Fatalf("expected decode error")
	}
	if _, err := ParseEvent(nil); err == nil {
		t.Fatalf("expected error for nil event")
	}
}
