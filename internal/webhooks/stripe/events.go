package stripewebhook

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/internal/payments"
)

// PaymentEvent is one of the processor notifications the reconciler understands.
type PaymentEvent interface {
	Kind() string
}

type SessionCompleted struct {
	EventID          string
	SessionID        string
	PaymentReference string
	OrderID          string
	Paid             bool
}

type SessionExpired struct {
	EventID   string
	SessionID string
	OrderID   string
}

type PaymentSucceeded struct {
	EventID          string
	PaymentReference string
	OrderID          string
	TransactionID    string
}

type PaymentFailed struct {
	EventID          string
	PaymentReference string
	OrderID          string
	TransactionID    string
	Reason           string
}

// RefundDetails is shared by refund.created and refund.updated.
type RefundDetails struct {
	EventID          string
	RefundID         string
	PaymentReference string
	AmountCents      int64
	Status           stripe.RefundStatus
	FailureReason    string
}

type RefundCreated struct{ RefundDetails }

type RefundUpdated struct{ RefundDetails }

type DisputeCreated struct {
	EventID          string
	DisputeID        string
	ChargeID         string
	PaymentReference string
	AmountCents      int64
	Currency         string
	Reason           string
	Status           string
}

// UnknownEvent is any type the reconciler does not act on.
type UnknownEvent struct {
	EventID string
	Type    stripe.EventType
}

func (SessionCompleted) Kind() string { return string(stripe.EventTypeCheckoutSessionCompleted) }
func (SessionExpired) Kind() string   { return string(stripe.EventTypeCheckoutSessionExpired) }
func (PaymentSucceeded) Kind() string { return string(stripe.EventTypePaymentIntentSucceeded) }
func (PaymentFailed) Kind() string    { return string(stripe.EventTypePaymentIntentPaymentFailed) }
func (RefundCreated) Kind() string    { return string(stripe.EventTypeRefundCreated) }
func (RefundUpdated) Kind() string    { return string(stripe.EventTypeRefundUpdated) }
func (DisputeCreated) Kind() string   { return string(stripe.EventTypeChargeDisputeCreated) }
func (e UnknownEvent) Kind() string   { return string(e.Type) }

// Failed reports whether the processor gave up on the refund.
func (e RefundDetails) Failed() bool {
	return e.Status == stripe.RefundStatusFailed || e.Status == stripe.RefundStatusCanceled
}

// ParseEvent decodes the event object into its typed variant.
func ParseEvent(event *stripe.Event) (PaymentEvent, error) {
	if event == nil || event.Data == nil {
		return nil, fmt.Errorf("event data required")
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		var sess stripe.CheckoutSession
		if err := decode(event, &sess); err != nil {
			return nil, err
		}
		return SessionCompleted{
			EventID:          event.ID,
			SessionID:        sess.ID,
			PaymentReference: paymentIntentID(sess.PaymentIntent),
			OrderID:          orderIDFrom(sess.Metadata, sess.ClientReferenceID),
			Paid:             SessionPaid(&sess),
		}, nil
	case stripe.EventTypeCheckoutSessionExpired,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		var sess stripe.CheckoutSession
		if err := decode(event, &sess); err != nil {
			return nil, err
		}
		return SessionExpired{
			EventID:   event.ID,
			SessionID: sess.ID,
			OrderID:   orderIDFrom(sess.Metadata, sess.ClientReferenceID),
		}, nil
	case stripe.EventTypePaymentIntentSucceeded:
		var pi stripe.PaymentIntent
		if err := decode(event, &pi); err != nil {
			return nil, err
		}
		return PaymentSucceeded{
			EventID:          event.ID,
			PaymentReference: pi.ID,
			OrderID:          pi.Metadata[payments.MetadataOrderID],
			TransactionID:    pi.Metadata[payments.MetadataTransactionID],
		}, nil
	case stripe.EventTypePaymentIntentPaymentFailed:
		var pi stripe.PaymentIntent
		if err := decode(event, &pi); err != nil {
			return nil, err
		}
		reason := "payment failed"
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			reason = pi.LastPaymentError.Msg
		}
		return PaymentFailed{
			EventID:          event.ID,
			PaymentReference: pi.ID,
			OrderID:          pi.Metadata[payments.MetadataOrderID],
			TransactionID:    pi.Metadata[payments.MetadataTransactionID],
			Reason:           reason,
		}, nil
	case stripe.EventTypeRefundCreated, stripe.EventTypeRefundUpdated:
		var refund stripe.Refund
		if err := decode(event, &refund); err != nil {
			return nil, err
		}
		details := RefundDetails{
			EventID:          event.ID,
			RefundID:         refund.ID,
			PaymentReference: paymentIntentID(refund.PaymentIntent),
			AmountCents:      refund.Amount,
			Status:           refund.Status,
			FailureReason:    string(refund.FailureReason),
		}
		if event.Type == stripe.EventTypeRefundCreated {
			return RefundCreated{details}, nil
		}
		return RefundUpdated{details}, nil
	case stripe.EventTypeChargeDisputeCreated:
		var dispute stripe.Dispute
		if err := decode(event, &dispute); err != nil {
			return nil, err
		}
		out := DisputeCreated{
			EventID:          event.ID,
			DisputeID:        dispute.ID,
			PaymentReference: paymentIntentID(dispute.PaymentIntent),
			AmountCents:      dispute.Amount,
			Currency:         string(dispute.Currency),
			Reason:           string(dispute.Reason),
			Status:           string(dispute.Status),
		}
		if dispute.Charge != nil {
			out.ChargeID = dispute.Charge.ID
		}
		return out, nil
	default:
		return UnknownEvent{EventID: event.ID, Type: event.Type}, nil
	}
}

// SessionPaid reports whether a completed session actually captured money.
// Delayed methods complete the session first and pay later.
func SessionPaid(sess *stripe.CheckoutSession) bool {
	return sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid ||
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusNoPaymentRequired
}

func decode(event *stripe.Event, dest any) error {
	if err := json.Unmarshal(event.Data.Raw, dest); err != nil {
		return fmt.Errorf("decode %s: %w", event.Type, err)
	}
	return nil
}

func paymentIntentID(pi *stripe.PaymentIntent) string {
	if pi == nil {
		return ""
	}
	return pi.ID
}

func orderIDFrom(metadata map[string]string, clientReference string) string {
	if id := metadata[payments.MetadataOrderID]; id != "" {
		return id
	}
	return clientReference
}
