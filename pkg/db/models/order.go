package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Order is the aggregate root for line items, cancellation and refunds.
type Order struct {
	ID                 string            `gorm:"column:id;type:varchar(16);primaryKey" json:"id"`
	OwnerID            uuid.UUID         `gorm:"column:owner_id;type:uuid;not null;index" json:"owner_id"`
	Status             enums.OrderStatus `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	IsPaid             bool              `gorm:"column:is_paid;not null" json:"is_paid"`
	Total              decimal.Decimal   `gorm:"column:total;type:numeric(12,2);not null" json:"total"`
	Currency           string            `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	ShippingAddress    *types.Address    `gorm:"column:shipping_address;type:jsonb" json:"shipping_address,omitempty"`
	ShippingMethod     string            `gorm:"column:shipping_method;not null" json:"shipping_method"`
	CheckoutSessionURL *string           `gorm:"column:checkout_session_url" json:"checkout_url,omitempty"`
	CancelReason       *string           `gorm:"column:cancel_reason" json:"cancel_reason,omitempty"`
	CreatedAt          time.Time         `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time         `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`

	LineItems []OrderLineItem `gorm:"foreignKey:OrderID;references:ID" json:"line_items,omitempty"`
}

func (Order) TableName() string { return "orders" }

// ComputeTotal sums the frozen line item prices.
func (o Order) ComputeTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.LineItems {
		total = total.Add(item.Subtotal())
	}
	return total
}
