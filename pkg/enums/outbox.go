package enums

import "slices"

// OutboxAggregateType is the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateOrder              OutboxAggregateType = "order"
	AggregatePaymentTransaction OutboxAggregateType = "payment_transaction"
)

var aggregateTypes = []OutboxAggregateType{AggregateOrder, AggregatePaymentTransaction}

func (a OutboxAggregateType) IsValid() bool { return slices.Contains(aggregateTypes, a) }

func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	return parse("aggregate type", value, aggregateTypes)
}

// OutboxEventType is the event_type column; it also selects the publish topic.
type OutboxEventType string

const (
	EventOrderCreated        OutboxEventType = "order.created"
	EventOrderStatusChanged  OutboxEventType = "order.status_changed"
	EventOrderItemsChanged   OutboxEventType = "order.items_changed"
	EventPaymentSucceeded    OutboxEventType = "payment.succeeded"
	EventPaymentFailed       OutboxEventType = "payment.failed"
	EventPaymentRefunded     OutboxEventType = "payment.refunded"
	EventPaymentRefundFailed OutboxEventType = "payment.refund_failed"
	EventPaymentDispute      OutboxEventType = "payment.dispute_opened"
)

var eventTypes = []OutboxEventType{
	EventOrderCreated,
	EventOrderStatusChanged,
	EventOrderItemsChanged,
	EventPaymentSucceeded,
	EventPaymentFailed,
	EventPaymentRefunded,
	EventPaymentRefundFailed,
	EventPaymentDispute,
}

func (e OutboxEventType) IsValid() bool { return slices.Contains(eventTypes, e) }

func ParseOutboxEventType(value string) (OutboxEventType, error) {
	return parse("event type", value, eventTypes)
}

// OutboxDLQErrorReason records why an event was parked in outbox_dlq.
type OutboxDLQErrorReason string

const (
	OutboxDLQReasonMaxAttempts  OutboxDLQErrorReason = "max_attempts"
	OutboxDLQReasonNonRetryable OutboxDLQErrorReason = "non_retryable"
)

func (r OutboxDLQErrorReason) IsValid() bool {
	return r == OutboxDLQReasonMaxAttempts || r == OutboxDLQReasonNonRetryable
}
