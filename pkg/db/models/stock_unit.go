package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// StockUnit holds the counters for one purchasable variant.
type StockUnit struct {
	ID                uuid.UUID       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	SKU               string          `gorm:"column:sku;not null;uniqueIndex" json:"sku"`
	Name              string          `gorm:"column:name;not null" json:"name"`
	UnitPrice         decimal.Decimal `gorm:"column:unit_price;type:numeric(12,2);not null" json:"unit_price"`
	AvailableQuantity int             `gorm:"column:available_quantity;not null" json:"available_quantity"`
	ReservedQuantity  int             `gorm:"column:reserved_quantity;not null" json:"reserved_quantity"`
	InStock           bool            `gorm:"column:in_stock;not null" json:"in_stock"`
	CreatedAt         time.Time       `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (StockUnit) TableName() string { return "stock_units" }

func (u *StockUnit) BeforeCreate(*gorm.DB) error {
	ensureID(&u.ID)
	u.InStock = u.AvailableQuantity > 0
	return nil
}
