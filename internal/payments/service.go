package payments

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

const (
	defaultSessionLockTTL = 30 * time.Second
	sessionIDPlaceholder  = "{CHECKOUT_SESSION_ID}"

	MetadataOrderID       = "order_id"
	MetadataUserID        = "user_id"
	MetadataTransactionID = "transaction_id"
)

var tracer = otel.Tracer("storefront/payments")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// OrderLinker writes the transient checkout URL onto the order row.
type OrderLinker interface {
	SetCheckoutURL(ctx context.Context, tx *gorm.DB, orderID, checkoutURL string) error
	ClearCheckoutURL(ctx context.Context, tx *gorm.DB, orderID string) error
	Invalidate(ctx context.Context, orderID string)
}

type lockKeyer interface {
	redis.LockStore
	LockKey(scope, id string) string
}

// SessionResult is what the client needs to continue on the hosted page.
type SessionResult struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	SessionID     string    `json:"session_id"`
	CheckoutURL   string    `json:"checkout_url"`
	Reused        bool      `json:"reused"`
}

// RefundResult reports the outcome of asking the processor for a refund.
// LocalOnly means nothing had been captured so there was nothing to refund remotely.
type RefundResult struct {
	Success          bool
	ExternalRefundID string
	LocalOnly        bool
	Err              error
}

type ServiceParams struct {
	Gateway      Gateway
	DB           txRunner
	Transactions TransactionRepository
	Orders       OrderLinker
	Locks        lockKeyer
	Stripe       config.StripeConfig
	LockTTL      time.Duration
	Logger       *logger.Logger
}

type Service struct {
	gateway  Gateway
	db       txRunner
	txns     TransactionRepository
	orders   OrderLinker
	locks    lockKeyer
	currency string
	success  string
	cancel   string
	lockTTL  time.Duration
	logg     *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Gateway == nil {
		return nil, fmt.Errorf("payment gateway required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("transaction repository required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order linker required")
	}
	if params.Locks == nil {
		return nil, fmt.Errorf("lock store required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.Stripe.Currency))
	if currency == "" {
		currency = "usd"
	}
	lockTTL := params.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultSessionLockTTL
	}
	return &Service{
		gateway:  params.Gateway,
		db:       params.DB,
		txns:     params.Transactions,
		orders:   params.Orders,
		locks:    params.Locks,
		currency: currency,
		success:  params.Stripe.SuccessURL,
		cancel:   params.Stripe.CancelURL,
		lockTTL:  lockTTL,
		logg:     params.Logger,
	}, nil
}

// CreateSession returns a hosted checkout session for a pending order, reusing
// the order's open session when one exists.
func (s *Service) CreateSession(ctx context.Context, order *models.Order) (*SessionResult, error) {
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if order.Status != enums.OrderStatusPending || order.IsPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").
			WithDetails(map[string]any{"current_status": order.Status})
	}
	if len(order.LineItems) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order has no line items")
	}

	ctx, span := tracer.Start(ctx, "payments.CreateSession")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", order.ID))
	ctx = s.logg.WithOrderID(ctx, order.ID)

	lock, err := redis.NewLock(s.locks, s.locks.LockKey("checkout-session", order.ID), s.lockTTL)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build session lock")
	}
	acquired, err := lock.Acquire(ctx)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire session lock")
	}
	if !acquired {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "checkout session is already being created for this order")
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "release session lock failed")
		}
	}()

	reused, err := s.reusePending(ctx, order)
	if err != nil || reused != nil {
		return reused, err
	}

	txnID := uuid.New()
	params := s.sessionParams(order, txnID)
	remote, err := s.gateway.CreateCheckoutSession(ctx, params)
	if err != nil {
		return nil, asExternal(err, "create checkout session")
	}

	txn := models.PaymentTransaction{
		ID:                txnID,
		OrderID:           order.ID,
		ExternalSessionID: remote.ID,
		Amount:            order.Total,
		Currency:          s.currency,
		Status:            enums.PaymentStatusPending,
	}
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.txns.WithTx(tx).Create(ctx, &txn); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "checkout session already recorded")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist payment transaction")
		}
		return s.orders.SetCheckoutURL(ctx, tx, order.ID, remote.URL)
	})
	if err != nil {
		// The remote session would otherwise stay payable without a local record.
		if _, expireErr := s.gateway.ExpireCheckoutSession(context.WithoutCancel(ctx), remote.ID); expireErr != nil {
			s.logg.Error(s.logg.WithField(ctx, "session_id", remote.ID), "expire orphaned checkout session", expireErr)
		}
		return nil, err
	}
	s.orders.Invalidate(ctx, order.ID)

	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"session_id":     remote.ID,
		"transaction_id": txnID.String(),
	}), "checkout session created")

	return &SessionResult{
		TransactionID: txnID,
		SessionID:     remote.ID,
		CheckoutURL:   remote.URL,
	}, nil
}

// reusePending returns the open session of the order's pending transaction.
// A stale pending transaction is closed out so a fresh one can be created.
func (s *Service) reusePending(ctx context.Context, order *models.Order) (*SessionResult, error) {
	pending, err := s.txns.FindPendingByOrder(ctx, order.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending transaction")
	}

	remote, err := s.gateway.GetCheckoutSession(ctx, pending.ExternalSessionID)
	if err != nil {
		return nil, asExternal(err, "retrieve checkout session")
	}

	switch remote.Status {
	case stripe.CheckoutSessionStatusOpen:
		if remote.AmountTotal == ToMinorUnits(order.Total) {
			s.logg.Info(s.logg.WithField(ctx, "session_id", remote.ID), "reusing open checkout session")
			return &SessionResult{
				TransactionID: pending.ID,
				SessionID:     remote.ID,
				CheckoutURL:   remote.URL,
				Reused:        true,
			}, nil
		}
		if _, err := s.gateway.ExpireCheckoutSession(ctx, remote.ID); err != nil {
			return nil, asExternal(err, "expire outdated checkout session")
		}
		return nil, s.closePending(ctx, order.ID, pending.ID, enums.PaymentStatusCanceled, "order total changed")
	case stripe.CheckoutSessionStatusComplete:
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "payment for this order already completed, verify the payment instead").
			WithDetails(map[string]any{"session_id": remote.ID})
	default:
		return nil, s.closePending(ctx, order.ID, pending.ID, enums.PaymentStatusFailed, "checkout session expired")
	}
}

func (s *Service) closePending(ctx context.Context, orderID string, txnID uuid.UUID, status enums.PaymentStatus, reason string) error {
	return s.db.WithTx(ctx, func(tx *gorm.DB) error {
		err := s.txns.WithTx(tx).Update(ctx, txnID, map[string]any{
			"status":         status,
			"failure_reason": reason,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "close pending transaction")
		}
		return s.orders.ClearCheckoutURL(ctx, tx, orderID)
	})
}

func (s *Service) sessionParams(order *models.Order, txnID uuid.UUID) *stripe.CheckoutSessionParams {
	lineItems := make([]*stripe.CheckoutSessionLineItemParams, 0, len(order.LineItems))
	for _, item := range order.LineItems {
		lineItems = append(lineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(s.currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
				UnitAmount: stripe.Int64(ToMinorUnits(item.UnitPrice)),
			},
			Quantity: stripe.Int64(int64(item.Quantity)),
		})
	}
	metadata := map[string]string{
		MetadataOrderID:       order.ID,
		MetadataUserID:        order.OwnerID.String(),
		MetadataTransactionID: txnID.String(),
	}
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems:         lineItems,
		SuccessURL:        stripe.String(successURL(s.success)),
		CancelURL:         stripe.String(withOrder(s.cancel, order.ID)),
		ClientReferenceID: stripe.String(order.ID),
		Metadata:          metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: metadata,
		},
	}
	params.SetIdempotencyKey("checkout-" + txnID.String())
	return params
}

// IssueRefund asks the processor to refund a captured transaction in full.
func (s *Service) IssueRefund(ctx context.Context, txn models.PaymentTransaction, reason string) RefundResult {
	ref := txn.PaymentReference()
	if ref == "" {
		return RefundResult{Success: true, LocalOnly: true}
	}

	ctx, span := tracer.Start(ctx, "payments.IssueRefund")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", txn.OrderID))

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(ref),
		Reason:        stripe.String(refundReason(reason)),
		Metadata: map[string]string{
			MetadataOrderID:       txn.OrderID,
			MetadataTransactionID: txn.ID.String(),
			"reason":              reason,
		},
	}
	params.SetIdempotencyKey("refund-" + txn.ID.String())

	refunded, err := s.gateway.CreateRefund(ctx, params)
	if err != nil {
		s.logg.Error(s.logg.WithFields(ctx, map[string]any{
			"order_id":          txn.OrderID,
			"transaction_id":    txn.ID.String(),
			"payment_reference": ref,
		}), "refund request failed", err)
		return RefundResult{Err: asExternal(err, "refund payment")}
	}
	if refunded.Status == stripe.RefundStatusFailed || refunded.Status == stripe.RefundStatusCanceled {
		return RefundResult{
			ExternalRefundID: refunded.ID,
			Err:              pkgerrors.New(pkgerrors.CodeExternalService, "refund was "+string(refunded.Status)+" by the processor"),
		}
	}
	return RefundResult{Success: true, ExternalRefundID: refunded.ID}
}

// ExpireSession closes a still-open hosted session so it can no longer be paid.
func (s *Service) ExpireSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	if _, err := s.gateway.ExpireCheckoutSession(ctx, sessionID); err != nil {
		return asExternal(err, "expire checkout session")
	}
	return nil
}

// Session fetches the remote state of a checkout session.
func (s *Service) Session(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error) {
	remote, err := s.gateway.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, asExternal(err, "retrieve checkout session")
	}
	return remote, nil
}

// StatusView summarises payment state for the order's owner.
type StatusView struct {
	OrderID           string              `json:"order_id"`
	OrderStatus       enums.OrderStatus   `json:"order_status"`
	IsPaid            bool                `json:"is_paid"`
	TransactionID     *uuid.UUID          `json:"transaction_id,omitempty"`
	TransactionStatus enums.PaymentStatus `json:"transaction_status,omitempty"`
	SessionID         string              `json:"session_id,omitempty"`
	CheckoutURL       *string             `json:"checkout_url,omitempty"`
	Amount            decimal.Decimal     `json:"amount"`
	FailureReason     *string             `json:"failure_reason,omitempty"`
	UpdatedAt         *time.Time          `json:"updated_at,omitempty"`
}

// PaymentStatus reads local state only; callers authorize access to order first.
func (s *Service) PaymentStatus(ctx context.Context, order *models.Order) (*StatusView, error) {
	view := &StatusView{
		OrderID:     order.ID,
		OrderStatus: order.Status,
		IsPaid:      order.IsPaid,
		CheckoutURL: order.CheckoutSessionURL,
		Amount:      order.Total,
	}
	txn, err := s.txns.FindLatestByOrder(ctx, order.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return view, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment transaction")
	}
	view.TransactionID = &txn.ID
	view.TransactionStatus = txn.Status
	view.SessionID = txn.ExternalSessionID
	view.FailureReason = txn.FailureReason
	view.UpdatedAt = &txn.UpdatedAt
	return view, nil
}

// RefundView reports the local refund record plus the processor's view of it.
type RefundView struct {
	OrderID         string          `json:"order_id"`
	Refunded        bool            `json:"refunded"`
	TransactionID   *uuid.UUID      `json:"transaction_id,omitempty"`
	RefundID        string          `json:"refund_id,omitempty"`
	ProcessorStatus string          `json:"processor_status,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
}

func (s *Service) RefundStatus(ctx context.Context, order *models.Order) (*RefundView, error) {
	view := &RefundView{OrderID: order.ID, Amount: decimal.Zero}
	txn, err := s.txns.FindLatestRefundedByOrder(ctx, order.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return view, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refunded transaction")
	}
	view.Refunded = true
	view.TransactionID = &txn.ID
	view.Amount = txn.Amount
	if txn.ExternalRefundID == nil || *txn.ExternalRefundID == "" {
		return view, nil
	}
	view.RefundID = *txn.ExternalRefundID
	remote, err := s.gateway.GetRefund(ctx, view.RefundID)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"refund_id": view.RefundID, "error": err.Error()}), "refund lookup failed")
		return view, nil
	}
	view.ProcessorStatus = string(remote.Status)
	return view, nil
}

func refundReason(reason string) string {
	switch strings.ToLower(strings.TrimSpace(reason)) {
	case string(stripe.RefundReasonDuplicate):
		return string(stripe.RefundReasonDuplicate)
	case string(stripe.RefundReasonFraudulent):
		return string(stripe.RefundReasonFraudulent)
	default:
		return string(stripe.RefundReasonRequestedByCustomer)
	}
}

func successURL(base string) string {
	if strings.Contains(base, sessionIDPlaceholder) {
		return base
	}
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "session_id=" + sessionIDPlaceholder
}

func withOrder(base, orderID string) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("order_id", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}

func asExternal(err error, message string) error {
	if typed := pkgerrors.As(err); typed != nil {
		return typed
	}
	return pkgerrors.External(err, message)
}
