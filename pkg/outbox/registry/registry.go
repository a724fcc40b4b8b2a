// Package registry decides where each outbox event type is published and
// which payload schema it must decode into before leaving the service.
package registry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

// EventDescriptor routes one event type.
type EventDescriptor struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	Topic         string

	decode func([]byte) (any, error)
}

// ResolvedEvent is an outbox row after validation and payload decoding.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks a row that will never publish no matter how often
// it is retried.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

// NewNonRetryableError wraps err.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}

// IsNonRetryable reports whether err, or anything it wraps, is a NonRetryableError.
func IsNonRetryable(err error) bool {
	var target NonRetryableError
	return errors.As(err, &target)
}

// EventRegistry is immutable after construction.
type EventRegistry struct {
	routes map[enums.OutboxEventType]EventDescriptor
}

// route binds an event type to a payload schema T.
func route[T any](eventType enums.OutboxEventType, aggregate enums.OutboxAggregateType, topic string) EventDescriptor {
	return EventDescriptor{
		EventType:     eventType,
		AggregateType: aggregate,
		Topic:         topic,
		decode: func(data []byte) (any, error) {
			out := new(T)
			if err := json.Unmarshal(data, out); err != nil {
				return nil, err
			}
			return out, nil
		},
	}
}

// NewEventRegistry builds the routing table. Both topics are required.
func NewEventRegistry(cfg config.EventingConfig) (*EventRegistry, error) {
	orders := strings.TrimSpace(cfg.OrdersTopic)
	pays := strings.TrimSpace(cfg.PaymentsTopic)
	switch {
	case orders == "":
		return nil, fmt.Errorf("orders topic is required")
	case pays == "":
		return nil, fmt.Errorf("payments topic is required")
	}

	const (
		order = enums.AggregateOrder
		txn   = enums.AggregatePaymentTransaction
	)
	table := []EventDescriptor{
		route[payloads.OrderCreatedEvent](enums.EventOrderCreated, order, orders),
		route[payloads.OrderStatusChangedEvent](enums.EventOrderStatusChanged, order, orders),
		route[payloads.OrderItemsChangedEvent](enums.EventOrderItemsChanged, order, orders),
		route[payloads.PaymentStatusEvent](enums.EventPaymentSucceeded, txn, pays),
		route[payloads.PaymentStatusEvent](enums.EventPaymentFailed, txn, pays),
		route[payloads.PaymentStatusEvent](enums.EventPaymentRefunded, txn, pays),
		route[payloads.RefundFailedEvent](enums.EventPaymentRefundFailed, txn, pays),
		route[payloads.DisputeOpenedEvent](enums.EventPaymentDispute, txn, pays),
	}

	reg := &EventRegistry{routes: make(map[enums.OutboxEventType]EventDescriptor, len(table))}
	for _, d := range table {
		reg.routes[d.EventType] = d
	}
	return reg, nil
}

// Topics returns the distinct topics in sorted order.
func (r *EventRegistry) Topics() []string {
	topics := make([]string, 0, 2)
	for _, d := range r.routes {
		if !slices.Contains(topics, d.Topic) {
			topics = append(topics, d.Topic)
		}
	}
	slices.Sort(topics)
	return topics
}

// Resolve checks the row against its route and decodes the payload. Every
// failure is non-retryable: the row content cannot change between attempts.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	d, ok := r.routes[event.EventType]
	switch {
	case !ok:
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	case d.AggregateType != event.AggregateType:
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", d.AggregateType, event.AggregateType))
	case strings.TrimSpace(event.AggregateID) == "":
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var env outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &env); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}
	if data := bytes.TrimSpace(env.Data); len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
	}

	payload, err := d.decode(env.Data)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}
	return &ResolvedEvent{Descriptor: d, Envelope: env, Payload: payload}, nil
}
