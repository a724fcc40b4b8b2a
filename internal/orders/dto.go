package orders

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// ItemRequest is one requested (unit, quantity) pair from the cart.
type ItemRequest struct {
	StockUnitID uuid.UUID `json:"stock_unit_id" validate:"required"`
	Quantity    int       `json:"quantity" validate:"required,gt=0"`
}

// CreateOrderInput carries everything needed to freeze an order.
type CreateOrderInput struct {
	OwnerID         uuid.UUID
	Items           []ItemRequest
	ShippingAddress *types.Address
	ShippingMethod  string
}

// Actor identifies who is acting on an order. Admins bypass ownership checks.
type Actor struct {
	UserID uuid.UUID
	Role   enums.Role
}

func (a Actor) IsAdmin() bool { return a.Role == enums.RoleAdmin }

func (a Actor) ref() *outbox.ActorRef {
	return &outbox.ActorRef{UserID: a.UserID, Role: string(a.Role)}
}

// ListFilters narrow the owner's order list.
type ListFilters struct {
	Status *enums.OrderStatus
}

// OrderSummary is the list projection of an order.
type OrderSummary struct {
	ID         string            `json:"id"`
	Status     enums.OrderStatus `json:"status"`
	IsPaid     bool              `json:"is_paid"`
	Total      decimal.Decimal   `json:"total"`
	Currency   string            `json:"currency"`
	TotalItems int               `json:"total_items"`
	CreatedAt  time.Time         `json:"created_at"`
}

// OrderList wraps the paginated orders plus the next page cursor.
type OrderList struct {
	Orders     []OrderSummary `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// OrderStats counts an owner's orders per status.
type OrderStats struct {
	TotalOrders int64                       `json:"total_orders"`
	ByStatus    map[enums.OrderStatus]int64 `json:"by_status"`
	TotalSpent  decimal.Decimal             `json:"total_spent"`
}

// RefundFailure is a captured payment whose processor refund did not go through.
// Local state already reflects the refund; operators follow up.
type RefundFailure struct {
	TransactionID    uuid.UUID `json:"transaction_id"`
	PaymentReference string    `json:"payment_reference"`
	Error            string    `json:"error"`
}

// CancelResult is the cancelled order plus any refunds needing follow-up.
type CancelResult struct {
	Order          *models.Order   `json:"order"`
	RefundedIDs    []string        `json:"refund_ids,omitempty"`
	RefundFailures []RefundFailure `json:"refund_failures,omitempty"`
}

// RefundOutcome describes a completed full refund.
type RefundOutcome struct {
	Order            *models.Order `json:"order"`
	TransactionID    uuid.UUID     `json:"transaction_id"`
	ExternalRefundID string        `json:"external_refund_id,omitempty"`
	LocalOnly        bool          `json:"local_only"`
}
