package enums

import "slices"

// PaymentStatus tracks a payment_transactions row against the processor.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusSuccess  PaymentStatus = "success"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusCanceled PaymentStatus = "canceled"
)

var paymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusSuccess,
	PaymentStatusFailed,
	PaymentStatusRefunded,
	PaymentStatusCanceled,
}

func (p PaymentStatus) String() string { return string(p) }

func (p PaymentStatus) IsValid() bool { return slices.Contains(paymentStatuses, p) }

// Captured reports whether money was taken at some point, refunded or not.
func (p PaymentStatus) Captured() bool {
	return p == PaymentStatusSuccess || p == PaymentStatusRefunded
}

func ParsePaymentStatus(value string) (PaymentStatus, error) {
	return parse("payment status", value, paymentStatuses)
}
