package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

func TestResolveDecodesOrderCreated(t *testing.T) {
	reg := testRegistry(t)
	unitID := uuid.New()
	data, err := json.Marshal(payloads.OrderCreatedEvent{
		OrderID:  "ORD-0A1B2C3D",
		OwnerID:  uuid.New(),
		Total:    decimal.RequireFromString("100.00"),
		Currency: "usd",
		Items: []payloads.OrderItem{
			{LineItemID: uuid.New(), StockUnitID: unitID, Quantity: 1, UnitPrice: decimal.RequireFromString("100.00")},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventOrderCreated,
		AggregateType: enums.AggregateOrder,
		AggregateID:   "ORD-0A1B2C3D",
		Payload:       envelope(t, data),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Descriptor.Topic != "orders-topic" {
		t.Fatalf("topic = %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.OrderCreatedEvent)
	if !ok {
		t.Fatalf("payload type %T", resolved.Payload)
	}
	if len(payload.Items) != 1 || payload.Items[0].StockUnitID != unitID || !payload.Total.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" {
		t.Fatalf("envelope lost event id")
	}
}

func TestResolveRoutesRefundFailureToPaymentsTopic(t *testing.T) {
	reg := testRegistry(t)
	resolved, err := reg.Resolve(models.OutboxEvent{
		EventType:     enums.EventPaymentRefundFailed,
		AggregateType: enums.AggregatePaymentTransaction,
		AggregateID:   uuid.NewString(),
		Payload:       envelope(t, []byte(`{"order_id":"ORD-0A1B2C3D","amount":"10","error":"card_declined"}`)),
	})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if resolved.Descriptor.Topic != "payments-topic" {
		t.Fatalf("topic = %q", resolved.Descriptor.Topic)
	}
	if p, ok := resolved.Payload.(*payloads.RefundFailedEvent); !ok || p.Error != "card_declined" {
		t.Fatalf("payload = %#v", resolved.Payload)
	}
}

func TestTopicsSortedAndDistinct(t *testing.T) {
	got := testRegistry(t).Topics()
	if fmt.Sprint(got) != "[orders-topic payments-topic]" {
		t.Fatalf("topics = %v", got)
	}
}

func TestResolveRejectsBadRowsPermanently(t *testing.T) {
	reg := testRegistry(t)
	cases := map[string]models.OutboxEvent{
		"unknown event": {
			EventType:     enums.OutboxEventType("inventory.recounted"),
			AggregateType: enums.AggregateOrder,
			AggregateID:   "ORD-0A1B2C3D",
			Payload:       envelope(t, []byte(`{"reason":"none"}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   "ORD-0A1B2C3D",
			Payload:       envelope(t, []byte(`{"order_id":"ORD-0A1B2C3D"}`)),
		},
		"blank aggregate id": {
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   " ",
			Payload:       envelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   "ORD-0A1B2C3D",
			Payload:       envelope(t, []byte("null")),
		},
		"broken envelope": {
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   "ORD-0A1B2C3D",
			Payload:       json.RawMessage(`{"data":`),
		},
		"payload type mismatch": {
			EventType:     enums.EventPaymentDispute,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   "dp_1",
			Payload:       envelope(t, []byte(`{"amount_cents":"lots"}`)),
		},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			if err == nil {
				t.Fatalf("expected error")
			}
			if !IsNonRetryable(err) {
				t.Fatalf("expected non-retryable, got %T: %v", err, err)
			}
		})
	}
}

func TestIsNonRetryableSeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("publish: %w", NewNonRetryableError(errors.New("bad row")))
	if !IsNonRetryable(err) {
		t.Fatalf("wrapped error not detected")
	}
	if IsNonRetryable(errors.New("timeout")) {
		t.Fatalf("plain error reported as non-retryable")
	}
}

func TestNewEventRegistryRequiresTopics(t *testing.T) {
	if _, err := NewEventRegistry(config.EventingConfig{OrdersTopic: "orders"}); err == nil {
		t.Fatalf("expected missing payments topic to fail")
	}
	if _, err := NewEventRegistry(config.EventingConfig{PaymentsTopic: "payments"}); err == nil {
		t.Fatalf("expected missing orders topic to fail")
	}
}

func testRegistry(t *testing.T) *EventRegistry {
	t.Helper()
	reg, err := NewEventRegistry(config.EventingConfig{
		OrdersTopic:   "orders-topic",
		PaymentsTopic: "payments-topic",
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	return reg
}

func envelope(t *testing.T, data []byte) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}
