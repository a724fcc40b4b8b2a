package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// PaymentTransaction records one hosted checkout attempt for an order.
type PaymentTransaction struct {
	ID                       uuid.UUID           `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	OrderID                  string              `gorm:"column:order_id;type:varchar(16);not null;index" json:"order_id"`
	ExternalSessionID        string              `gorm:"column:external_session_id;not null;uniqueIndex" json:"external_session_id"`
	ExternalPaymentReference *string             `gorm:"column:external_payment_reference;index" json:"external_payment_reference,omitempty"`
	ExternalRefundID         *string             `gorm:"column:external_refund_id" json:"external_refund_id,omitempty"`
	Amount                   decimal.Decimal     `gorm:"column:amount;type:numeric(12,2);not null" json:"amount"`
	Currency                 string              `gorm:"column:currency;type:varchar(3);not null" json:"currency"`
	Status                   enums.PaymentStatus `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	FailureReason            *string             `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	CreatedAt                time.Time           `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt                time.Time           `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (PaymentTransaction) TableName() string { return "payment_transactions" }

func (t *PaymentTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// PaymentReference returns the captured processor reference or "".
func (t PaymentTransaction) PaymentReference() string {
	if t.ExternalPaymentReference == nil {
		return ""
	}
	return *t.ExternalPaymentReference
}
