package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// OrderLineItem captures the unit and price frozen at order time.
type OrderLineItem struct {
	ID          uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID     string          `gorm:"column:order_id;type:varchar(16);not null;index" json:"order_id"`
	StockUnitID uuid.UUID       `gorm:"column:stock_unit_id;type:uuid;not null;index" json:"stock_unit_id"`
	Name        string          `gorm:"column:name;not null" json:"name"`
	Quantity    int             `gorm:"column:quantity;not null" json:"quantity"`
	UnitPrice   decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null" json:"unit_price"`
	CreatedAt   time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (OrderLineItem) TableName() string { return "order_line_items" }

func (i *OrderLineItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}

func (i OrderLineItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
