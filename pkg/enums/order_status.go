package enums

import "slices"

// OrderStatus tracks the lifecycle of a customer order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

var validOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusCompleted,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// OrderStatuses returns every known status in lifecycle order.
func OrderStatuses() []OrderStatus {
	return slices.Clone(validOrderStatuses)
}

func (s OrderStatus) String() string { return string(s) }

func (s OrderStatus) IsValid() bool { return slices.Contains(validOrderStatuses, s) }

func ParseOrderStatus(value string) (OrderStatus, error) {
	return parse("order status", value, validOrderStatuses)
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusShipped:    {OrderStatusCompleted, OrderStatusRefunded},
	OrderStatusCompleted:  {OrderStatusRefunded},
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return slices.Contains(orderTransitions[s], next)
}

// IsCancellable is true for pending and processing orders only.
func (s OrderStatus) IsCancellable() bool {
	return s.CanTransitionTo(OrderStatusCancelled)
}

// IsTerminal reports completed, cancelled and refunded. Completed orders can
// still be refunded.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusCompleted, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// PaidStatus reports whether an order in this status may carry is_paid=true.
func (s OrderStatus) PaidStatus() bool {
	switch s {
	case OrderStatusProcessing, OrderStatusShipped, OrderStatusCompleted:
		return true
	default:
		return false
	}
}
