package stripewebhook

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

// ErrDuplicateEvent marks a notification whose effect is already recorded.
var ErrDuplicateEvent = errors.New("payment event already applied")

// errUnmatched marks a notification for a session or payment this system never created.
var errUnmatched = errors.New("payment event does not match a transaction")

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type orderTransitions interface {
	LockOrder(ctx context.Context, tx *gorm.DB, orderID string) (*models.Order, error)
	MarkPaid(ctx context.Context, tx *gorm.DB, orderID string) (*models.Order, orders.PaidOutcome, error)
	MarkRefunded(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error
	ClearCheckoutURL(ctx context.Context, tx *gorm.DB, orderID string) error
	Invalidate(ctx context.Context, orderID string)
}

type paymentAdapter interface {
	Session(ctx context.Context, sessionID string) (*stripe.CheckoutSession, error)
	IssueRefund(ctx context.Context, txn models.PaymentTransaction, reason string) payments.RefundResult
}

type ReconcilerParams struct {
	DB           txRunner
	Transactions payments.TransactionRepository
	Orders       orderTransitions
	Payments     paymentAdapter
	Outbox       outbox.Emitter
	Metrics      *metrics.CommerceMetrics
	Logger       *logger.Logger
}

// Reconciler applies processor notifications to transactions and orders.
// Every handler is idempotent: replays and out-of-order delivery converge.
type Reconciler struct {
	db       txRunner
	txns     payments.TransactionRepository
	orders   orderTransitions
	payments paymentAdapter
	outbox   outbox.Emitter
	metrics  *metrics.CommerceMetrics
	logg     *logger.Logger
}

func NewReconciler(params ReconcilerParams) (*Reconciler, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Transactions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction repository required")
	}
	if params.Orders == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "order transitions required")
	}
	if params.Payments == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment adapter required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox emitter required")
	}
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	return &Reconciler{
		db:       params.DB,
		txns:     params.Transactions,
		orders:   params.Orders,
		payments: params.Payments,
		outbox:   params.Outbox,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// VerifyResult is the local state after a session was reconciled.
type VerifyResult struct {
	OrderID           string              `json:"order_id"`
	SessionID         string              `json:"session_id"`
	TransactionID     uuid.UUID           `json:"transaction_id"`
	TransactionStatus enums.PaymentStatus `json:"transaction_status"`
	OrderStatus       enums.OrderStatus   `json:"order_status"`
	IsPaid            bool                `json:"is_paid"`
}

// lateRefund is a capture that must be returned once the transaction commits.
type lateRefund struct {
	txn    models.PaymentTransaction
	reason string
}

// HandleEvent dispatches a verified processor event. Duplicates and events for
// unknown payments return nil so the processor stops retrying.
func (r *Reconciler) HandleEvent(ctx context.Context, event *stripe.Event) error {
	parsed, err := ParseEvent(event)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment event")
	}
	ctx = r.logg.WithFields(ctx, map[string]any{
		"event_id":   event.ID,
		"event_type": parsed.Kind(),
	})

	switch e := parsed.(type) {
	case SessionCompleted:
		if !e.Paid {
			r.logg.Info(ctx, "checkout completed without payment; waiting for async result")
			err = nil
			break
		}
		_, err = r.applyCompleted(ctx, e.SessionID, e.PaymentReference)
	case PaymentSucceeded:
		err = r.applyPaymentIntent(ctx, e.TransactionID, e.PaymentReference, "")
	case SessionExpired:
		_, err = r.applyFailed(ctx, e.SessionID, "", "checkout session expired")
	case PaymentFailed:
		err = r.applyPaymentIntent(ctx, e.TransactionID, e.PaymentReference, e.Reason)
	case RefundCreated:
		err = r.applyRefund(ctx, e.RefundDetails)
	case RefundUpdated:
		err = r.applyRefund(ctx, e.RefundDetails)
	case DisputeCreated:
		err = r.applyDispute(ctx, e)
	default:
		r.logg.Debug(ctx, "ignoring payment event")
		r.metrics.IncWebhookEvent(parsed.Kind(), "ignored")
		return nil
	}

	switch {
	case err == nil:
		r.metrics.IncWebhookEvent(parsed.Kind(), "applied")
		return nil
	case errors.Is(err, ErrDuplicateEvent):
		r.logg.Debug(ctx, "payment event already applied")
		r.metrics.IncWebhookEvent(parsed.Kind(), "duplicate")
		return nil
	case errors.Is(err, errUnmatched):
		r.logg.Warn(ctx, "payment event does not match a local transaction")
		r.metrics.IncWebhookEvent(parsed.Kind(), "unmatched")
		return nil
	default:
		r.metrics.IncWebhookEvent(parsed.Kind(), "error")
		return err
	}
}

// VerifySession reconciles a session on the customer's return from checkout,
// for when the notification has not arrived yet.
func (r *Reconciler) VerifySession(ctx context.Context, ownerID uuid.UUID, sessionID string) (*VerifyResult, error) {
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	remote, err := r.payments.Session(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if remote.Metadata[payments.MetadataUserID] != ownerID.String() {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
	}

	result, err := r.reconcileSession(ctx, remote)
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, ErrDuplicateEvent):
		return r.current(ctx, sessionID)
	case errors.Is(err, errUnmatched):
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found")
	default:
		return nil, err
	}
}

// ReconcilePending polls the processor for transactions still pending after
// olderThan, covering lost notifications. It returns how many were settled.
func (r *Reconciler) ReconcilePending(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	stale, err := r.txns.ListStalePending(ctx, olderThan, limit)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale transactions")
	}

	var (
		settled int
		errs    error
	)
	for _, txn := range stale {
		if err := ctx.Err(); err != nil {
			return settled, multierr.Append(errs, err)
		}
		remote, err := r.payments.Session(ctx, txn.ExternalSessionID)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if _, err := r.reconcileSession(ctx, remote); err != nil {
			if errors.Is(err, ErrDuplicateEvent) || errors.Is(err, errUnmatched) {
				continue
			}
			errs = multierr.Append(errs, err)
			continue
		}
		if remote.Status != stripe.CheckoutSessionStatusOpen {
			settled++
		}
	}
	return settled, errs
}

func (r *Reconciler) reconcileSession(ctx context.Context, remote *stripe.CheckoutSession) (*VerifyResult, error) {
	switch remote.Status {
	case stripe.CheckoutSessionStatusComplete:
		if !SessionPaid(remote) {
			return r.current(ctx, remote.ID)
		}
		return r.applyCompleted(ctx, remote.ID, paymentIntentID(remote.PaymentIntent))
	case stripe.CheckoutSessionStatusExpired:
		return r.applyFailed(ctx, remote.ID, "", "checkout session expired")
	default:
		return r.current(ctx, remote.ID)
	}
}

// applyCompleted records a capture. A capture landing on an order that was
// cancelled or already paid by another session is refunded after commit.
func (r *Reconciler) applyCompleted(ctx context.Context, sessionID, reference string) (*VerifyResult, error) {
	var (
		result *VerifyResult
		refund *lateRefund
	)
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		txns := r.txns.WithTx(tx)
		txn, err := lockSession(ctx, txns, sessionID)
		if err != nil {
			return err
		}
		if txn.Status.Captured() {
			return ErrDuplicateEvent
		}

		updates := map[string]any{
			"status":         enums.PaymentStatusSuccess,
			"failure_reason": nil,
		}
		if reference != "" {
			updates["external_payment_reference"] = reference
			txn.ExternalPaymentReference = &reference
		}
		if err := txns.Update(ctx, txn.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction paid")
		}
		priorStatus := txn.Status
		txn.Status = enums.PaymentStatusSuccess

		order, err := r.orders.LockOrder(ctx, tx, txn.OrderID)
		if err != nil {
			return err
		}
		live, err := liveAttempt(ctx, txns, txn, priorStatus, order)
		if err != nil {
			return err
		}
		if live {
			var outcome orders.PaidOutcome
			if order, outcome, err = r.orders.MarkPaid(ctx, tx, txn.OrderID); err != nil {
				return err
			}
			switch outcome {
			case orders.PaidAfterCancel:
				refund = &lateRefund{txn: *txn, reason: "order cancelled before payment completed"}
			case orders.PaidAlready:
				refund = &lateRefund{txn: *txn, reason: "duplicate"}
			}
		} else {
			refund = &lateRefund{txn: *txn, reason: "checkout attempt superseded"}
			if order.Status == enums.OrderStatusCancelled || order.Status == enums.OrderStatusRefunded {
				refund.reason = "order cancelled before payment completed"
			}
		}
		if err := r.emit(ctx, tx, enums.EventPaymentSucceeded, *txn, ""); err != nil {
			return err
		}
		if refund != nil {
			if err := txns.Update(ctx, txn.ID, map[string]any{"status": enums.PaymentStatusRefunded}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark late payment refunded")
			}
			txn.Status = enums.PaymentStatusRefunded
		}

		result = &VerifyResult{
			OrderID:           order.ID,
			SessionID:         sessionID,
			TransactionID:     txn.ID,
			TransactionStatus: txn.Status,
			OrderStatus:       order.Status,
			IsPaid:            order.IsPaid,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.orders.Invalidate(ctx, result.OrderID)
	if refund != nil {
		r.refundLatePayment(ctx, *refund)
	}
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"order_id":   result.OrderID,
		"session_id": sessionID,
	}), "payment captured")
	return result, nil
}

// liveAttempt reports whether a capture on txn may pay for order. The attempt
// must charge the order's current total and must not have been closed by this
// system. A failed attempt still counts while no newer attempt is open, since
// the customer can retry a declined card on the same session.
func liveAttempt(ctx context.Context, txns payments.TransactionRepository, txn *models.PaymentTransaction, prior enums.PaymentStatus, order *models.Order) (bool, error) {
	if !txn.Amount.Equal(order.Total) {
		return false, nil
	}
	switch prior {
	case enums.PaymentStatusPending:
		return true, nil
	case enums.PaymentStatusFailed:
		_, err := txns.FindPendingByOrder(ctx, order.ID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true, nil
		}
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load open attempts")
		}
		return false, nil
	default:
		return false, nil
	}
}

func (r *Reconciler) refundLatePayment(ctx context.Context, late lateRefund) {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"order_id":       late.txn.OrderID,
		"transaction_id": late.txn.ID.String(),
	})
	r.logg.Warn(ctx, "refunding payment for an order that can no longer accept it")

	res := r.payments.IssueRefund(ctx, late.txn, late.reason)
	if res.Success {
		r.metrics.IncAutoRefund("success")
		if res.ExternalRefundID == "" {
			return
		}
		if err := r.txns.Update(ctx, late.txn.ID, map[string]any{"external_refund_id": res.ExternalRefundID}); err != nil {
			r.logg.Error(ctx, "store automatic refund id failed", err)
		}
		return
	}

	r.metrics.IncAutoRefund("failure")
	r.logg.Error(ctx, "automatic refund failed", res.Err)
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRefundFailed,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   late.txn.OrderID,
			Data: payloads.RefundFailedEvent{
				TransactionID:    late.txn.ID,
				OrderID:          late.txn.OrderID,
				PaymentReference: late.txn.PaymentReference(),
				Amount:           late.txn.Amount,
				Error:            errorText(res.Err),
			},
		})
	})
	if err != nil {
		r.logg.Error(ctx, "record refund failure failed", err)
	}
}

// applyFailed closes a pending attempt. A captured transaction is never reverted.
func (r *Reconciler) applyFailed(ctx context.Context, sessionID, reference, reason string) (*VerifyResult, error) {
	var result *VerifyResult
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		txns := r.txns.WithTx(tx)
		txn, err := lockSession(ctx, txns, sessionID)
		if err != nil {
			return err
		}
		if txn.Status != enums.PaymentStatusPending {
			return ErrDuplicateEvent
		}

		updates := map[string]any{
			"status":         enums.PaymentStatusFailed,
			"failure_reason": reason,
		}
		if reference != "" {
			updates["external_payment_reference"] = reference
			txn.ExternalPaymentReference = &reference
		}
		if err := txns.Update(ctx, txn.ID, updates); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction failed")
		}
		txn.Status = enums.PaymentStatusFailed

		if err := r.orders.ClearCheckoutURL(ctx, tx, txn.OrderID); err != nil {
			return err
		}
		if err := r.emit(ctx, tx, enums.EventPaymentFailed, *txn, reason); err != nil {
			return err
		}
		order, err := r.orders.LockOrder(ctx, tx, txn.OrderID)
		if err != nil {
			return err
		}
		result = &VerifyResult{
			OrderID:           order.ID,
			SessionID:         sessionID,
			TransactionID:     txn.ID,
			TransactionStatus: txn.Status,
			OrderStatus:       order.Status,
			IsPaid:            order.IsPaid,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.orders.Invalidate(ctx, result.OrderID)
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"order_id":   result.OrderID,
		"session_id": sessionID,
		"reason":     reason,
	}), "payment attempt failed")
	return result, nil
}

// applyPaymentIntent routes payment intent events through the session they
// belong to. The transaction id travels in the intent metadata because the
// intent reference is only stored once the session completes.
func (r *Reconciler) applyPaymentIntent(ctx context.Context, transactionID, reference, failure string) error {
	sessionID, err := r.sessionFor(ctx, transactionID, reference)
	if err != nil {
		return err
	}
	if failure != "" {
		_, err = r.applyFailed(ctx, sessionID, reference, failure)
		return err
	}
	_, err = r.applyCompleted(ctx, sessionID, reference)
	return err
}

func (r *Reconciler) sessionFor(ctx context.Context, transactionID, reference string) (string, error) {
	if id, err := uuid.Parse(transactionID); err == nil {
		txn, err := r.txns.FindByID(ctx, id)
		if err == nil {
			return txn.ExternalSessionID, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
	}
	if reference == "" {
		return "", errUnmatched
	}
	var sessionID string
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := r.txns.WithTx(tx).LockByPaymentReference(ctx, reference)
		if err != nil {
			return err
		}
		sessionID = txn.ExternalSessionID
		return nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", errUnmatched
	}
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return sessionID, nil
}

// applyRefund records a refund started outside this system, or confirms one
// started here. Refunds accumulate per transaction; once they cover the
// capture the transaction is refunded, and the order follows only when that
// transaction was the one paying for it.
func (r *Reconciler) applyRefund(ctx context.Context, e RefundDetails) error {
	if e.PaymentReference == "" {
		return errUnmatched
	}
	if e.Failed() {
		return r.refundFailed(ctx, e)
	}
	if e.RefundID == "" || e.AmountCents <= 0 {
		return errUnmatched
	}

	var (
		orderID  string
		refunded int64
		full     bool
	)
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		txns := r.txns.WithTx(tx)
		txn, err := txns.LockByPaymentReference(ctx, e.PaymentReference)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errUnmatched
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
		orderID = txn.OrderID

		seen, err := refundSeen(ctx, txns, txn, e.RefundID)
		if err != nil {
			return err
		}
		if seen {
			return ErrDuplicateEvent
		}
		if txn.Status != enums.PaymentStatusSuccess && txn.Status != enums.PaymentStatusRefunded {
			return errUnmatched
		}
		if err := txns.RecordRefund(ctx, &models.PaymentRefund{
			TransactionID:    txn.ID,
			ExternalRefundID: e.RefundID,
			AmountCents:      e.AmountCents,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record refund")
		}

		// Already refunded here: a late or duplicate capture, or a refund
		// this system issued before the processor reported its id.
		if txn.Status == enums.PaymentStatusRefunded {
			if txn.ExternalRefundID != nil {
				return nil
			}
			if err := txns.Update(ctx, txn.ID, map[string]any{"external_refund_id": e.RefundID}); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store refund id")
			}
			return nil
		}

		if refunded, err = txns.RefundedCents(ctx, txn.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "sum refunds")
		}
		if refunded < payments.ToMinorUnits(txn.Amount) {
			return nil
		}
		full = true

		if err := txns.Update(ctx, txn.ID, map[string]any{
			"status":             enums.PaymentStatusRefunded,
			"external_refund_id": e.RefundID,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction refunded")
		}
		txn.Status = enums.PaymentStatusRefunded
		txn.ExternalRefundID = &e.RefundID
		if err := r.emit(ctx, tx, enums.EventPaymentRefunded, *txn, "refund reported by processor"); err != nil {
			return err
		}

		paidElsewhere, err := txns.HasOtherCapture(ctx, txn.OrderID, txn.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order captures")
		}
		if paidElsewhere {
			return nil
		}
		order, err := r.orders.LockOrder(ctx, tx, txn.OrderID)
		if err != nil {
			return err
		}
		if !order.IsPaid || !order.Status.CanTransitionTo(enums.OrderStatusRefunded) {
			return nil
		}
		return r.orders.MarkRefunded(ctx, tx, order, "refund reported by processor")
	})
	if err != nil {
		return err
	}
	r.orders.Invalidate(ctx, orderID)
	if !full && refunded > 0 {
		r.logg.Info(r.logg.WithFields(ctx, map[string]any{
			"order_id":       orderID,
			"refund_id":      e.RefundID,
			"refunded_cents": refunded,
		}), "partial refund recorded")
	}
	return nil
}

func refundSeen(ctx context.Context, txns payments.TransactionRepository, txn *models.PaymentTransaction, refundID string) (bool, error) {
	if txn.ExternalRefundID != nil && *txn.ExternalRefundID == refundID {
		return true, nil
	}
	seen, err := txns.RefundApplied(ctx, refundID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load refund")
	}
	return seen, nil
}

func (r *Reconciler) refundFailed(ctx context.Context, e RefundDetails) error {
	return r.db.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := r.txns.WithTx(tx).LockByPaymentReference(ctx, e.PaymentReference)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errUnmatched
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
		reason := e.FailureReason
		if reason == "" {
			reason = string(e.Status)
		}
		r.logg.Error(r.logg.WithField(ctx, "refund_id", e.RefundID), "processor reported refund failure", errors.New(reason))
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRefundFailed,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   txn.OrderID,
			Data: payloads.RefundFailedEvent{
				TransactionID:    txn.ID,
				OrderID:          txn.OrderID,
				PaymentReference: e.PaymentReference,
				RefundID:         e.RefundID,
				Amount:           payments.FromMinorUnits(e.AmountCents),
				Error:            reason,
			},
		})
	})
}

// applyDispute surfaces chargebacks; state is left for an operator to decide.
func (r *Reconciler) applyDispute(ctx context.Context, e DisputeCreated) error {
	data := payloads.DisputeOpenedEvent{
		DisputeID:        e.DisputeID,
		ChargeID:         e.ChargeID,
		PaymentReference: e.PaymentReference,
		AmountCents:      e.AmountCents,
		Currency:         e.Currency,
		Reason:           e.Reason,
		Status:           e.Status,
	}
	aggregateID := e.DisputeID
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		if e.PaymentReference != "" {
			txn, err := r.txns.WithTx(tx).LockByPaymentReference(ctx, e.PaymentReference)
			switch {
			case err == nil:
				data.OrderID = txn.OrderID
				aggregateID = txn.OrderID
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
			}
		}
		return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentDispute,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   aggregateID,
			Data:          data,
		})
	})
	if err != nil {
		return err
	}
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"dispute_id": e.DisputeID,
		"order_id":   data.OrderID,
		"reason":     e.Reason,
	}), "payment dispute opened")
	return nil
}

func (r *Reconciler) current(ctx context.Context, sessionID string) (*VerifyResult, error) {
	var result *VerifyResult
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		txn, err := r.txns.WithTx(tx).FindBySessionID(ctx, sessionID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errUnmatched
		}
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
		}
		order, err := r.orders.LockOrder(ctx, tx, txn.OrderID)
		if err != nil {
			return err
		}
		result = &VerifyResult{
			OrderID:           order.ID,
			SessionID:         sessionID,
			TransactionID:     txn.ID,
			TransactionStatus: txn.Status,
			OrderStatus:       order.Status,
			IsPaid:            order.IsPaid,
		}
		return nil
	})
	return result, err
}

func (r *Reconciler) emit(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, txn models.PaymentTransaction, reason string) error {
	refundID := ""
	if txn.ExternalRefundID != nil {
		refundID = *txn.ExternalRefundID
	}
	return r.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePaymentTransaction,
		AggregateID:   txn.OrderID,
		Data: payloads.PaymentStatusEvent{
			TransactionID:    txn.ID,
			OrderID:          txn.OrderID,
			SessionID:        txn.ExternalSessionID,
			PaymentReference: txn.PaymentReference(),
			RefundID:         refundID,
			Amount:           txn.Amount,
			Status:           txn.Status,
			Reason:           reason,
		},
	})
}

func lockSession(ctx context.Context, txns payments.TransactionRepository, sessionID string) (*models.PaymentTransaction, error) {
	if sessionID == "" {
		return nil, errUnmatched
	}
	txn, err := txns.LockBySessionID(ctx, sessionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errUnmatched
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return txn, nil
}

func errorText(err error) string {
	if err == nil {
		return "refund failed"
	}
	return err.Error()
}
