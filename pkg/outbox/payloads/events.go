package payloads

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OrderItem is the frozen snapshot of one line item.
type OrderItem struct {
	LineItemID  uuid.UUID       `json:"line_item_id"`
	StockUnitID uuid.UUID       `json:"stock_unit_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// OrderCreatedEvent is emitted when an order and its stock decrement commit.
type OrderCreatedEvent struct {
	OrderID  string          `json:"order_id"`
	OwnerID  uuid.UUID       `json:"owner_id"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
	Items    []OrderItem     `json:"items"`
}

// OrderStatusChangedEvent is emitted on every state machine transition.
type OrderStatusChangedEvent struct {
	OrderID string            `json:"order_id"`
	OwnerID uuid.UUID         `json:"owner_id"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
	IsPaid  bool              `json:"is_paid"`
	Reason  string            `json:"reason,omitempty"`
}

// OrderItemsChangedEvent is emitted when a line item quantity changes.
type OrderItemsChangedEvent struct {
	OrderID     string          `json:"order_id"`
	LineItemID  uuid.UUID       `json:"line_item_id"`
	StockUnitID uuid.UUID       `json:"stock_unit_id"`
	OldQuantity int             `json:"old_quantity"`
	NewQuantity int             `json:"new_quantity"`
	Total       decimal.Decimal `json:"total"`
}

// PaymentStatusEvent describes a payment transaction reaching success, failure or refund.
type PaymentStatusEvent struct {
	TransactionID    uuid.UUID           `json:"transaction_id"`
	OrderID          string              `json:"order_id"`
	SessionID        string              `json:"session_id"`
	PaymentReference string              `json:"payment_reference,omitempty"`
	RefundID         string              `json:"refund_id,omitempty"`
	Amount           decimal.Decimal     `json:"amount"`
	Status           enums.PaymentStatus `json:"status"`
	Reason           string              `json:"reason,omitempty"`
}

// RefundFailedEvent asks operators to reconcile a refund the processor did not complete.
type RefundFailedEvent struct {
	TransactionID    uuid.UUID       `json:"transaction_id"`
	OrderID          string          `json:"order_id"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	RefundID         string          `json:"refund_id,omitempty"`
	Amount           decimal.Decimal `json:"amount"`
	Error            string          `json:"error"`
}

// DisputeOpenedEvent surfaces a chargeback for manual handling.
type DisputeOpenedEvent struct {
	DisputeID        string `json:"dispute_id"`
	ChargeID         string `json:"charge_id,omitempty"`
	PaymentReference string `json:"payment_reference,omitempty"`
	OrderID          string `json:"order_id,omitempty"`
	AmountCents      int64  `json:"amount_cents"`
	Currency         string `json:"currency,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Status           string `json:"status,omitempty"`
}
