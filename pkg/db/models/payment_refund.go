package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PaymentRefund is one processor refund applied against a transaction.
// ExternalRefundID is unique so a redelivered refund event is recognized.
type PaymentRefund struct {
	ID               uuid.UUID `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	TransactionID    uuid.UUID `gorm:"column:transaction_id;type:uuid;not null;index" json:"transaction_id"`
	ExternalRefundID string    `gorm:"column:external_refund_id;not null;uniqueIndex" json:"external_refund_id"`
	AmountCents      int64     `gorm:"column:amount_cents;not null" json:"amount_cents"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (PaymentRefund) TableName() string { return "payment_refunds" }

func (r *PaymentRefund) BeforeCreate(*gorm.DB) error {
	ensureID(&r.ID)
	return nil
}
