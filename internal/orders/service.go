package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/stock"
	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

const (
	orderIDPrefix       = "ORD-"
	orderIDAttempts     = 5
	defaultCacheTTL     = 5 * time.Minute
	defaultShipping     = "standard"
	expiredCancelReason = "payment window expired"
)

var tracer = otel.Tracer("storefront/orders")

type ManagerParams struct {
	Repo         Repository
	DB           txRunner
	Ledger       StockLedger
	Transitions  *Transitions
	Transactions payments.TransactionRepository
	Payments     PaymentProcessor
	Outbox       outbox.Emitter
	Cache        cache.Cache
	CacheKey     func(parts ...string) string
	CacheTTL     time.Duration
	Currency     string
	Metrics      *metrics.CommerceMetrics
	Logger       *logger.Logger
}

// Manager orchestrates order creation, quantity changes, cancellation and refunds.
type Manager struct {
	repo        Repository
	db          txRunner
	ledger      StockLedger
	transitions *Transitions
	txns        payments.TransactionRepository
	payments    PaymentProcessor
	outbox      outbox.Emitter
	cache       cache.Cache
	cacheTTL    time.Duration
	currency    string
	metrics     *metrics.CommerceMetrics
	logg        *logger.Logger
	newID       func() string
}

func NewManager(params ManagerParams) (*Manager, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
	}
	if params.Transitions == nil {
		return nil, fmt.Errorf("order transitions required")
	}
	if params.Transactions == nil {
		return nil, fmt.Errorf("payment transaction repository required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment processor required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	c := params.Cache
	if c == nil {
		c = cache.Noop{}
	}
	ttl := params.CacheTTL
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Manager{
		repo:        params.Repo,
		db:          params.DB,
		ledger:      params.Ledger,
		transitions: params.Transitions,
		txns:        params.Transactions,
		payments:    params.Payments,
		outbox:      params.Outbox,
		cache:       c,
		cacheTTL:    ttl,
		currency:    currency,
		metrics:     params.Metrics,
		logg:        params.Logger,
		newID:       randomOrderID,
	}, nil
}

// CreateOrder validates availability, then in one transaction freezes prices,
// writes the order and reduces stock for every line.
func (m *Manager) CreateOrder(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	ctx, span := tracer.Start(ctx, "orders.CreateOrder")
	defer span.End()

	if input.OwnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner required")
	}
	requested, unitIDs, err := mergeItems(input.Items)
	if err != nil {
		return nil, err
	}
	shipping := strings.TrimSpace(input.ShippingMethod)
	if shipping == "" {
		shipping = defaultShipping
	}
	ctx = m.logg.WithUserID(ctx, input.OwnerID.String())

	for _, id := range unitIDs {
		if err := m.precheck(ctx, id, requested[id]); err != nil {
			m.recordFailure(err)
			return nil, err
		}
	}

	orderID, err := m.generateOrderID(ctx)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", orderID))

	order := &models.Order{
		ID:             orderID,
		OwnerID:        input.OwnerID,
		Status:         enums.OrderStatusPending,
		Currency:       m.currency,
		ShippingMethod: shipping,
	}
	if input.ShippingAddress != nil {
		addr := input.ShippingAddress.Normalize()
		order.ShippingAddress = &addr
	}

	err = m.db.WithTx(ctx, func(tx *gorm.DB) error {
		units, err := m.ledger.Snapshot(ctx, tx, unitIDs)
		if err != nil {
			return err
		}
		order.LineItems = make([]models.OrderLineItem, 0, len(unitIDs))
		for _, id := range unitIDs {
			unit := units[id]
			order.LineItems = append(order.LineItems, models.OrderLineItem{
				StockUnitID: id,
				Name:        unit.Name,
				Quantity:    requested[id],
				UnitPrice:   unit.UnitPrice,
			})
		}
		order.Total = order.ComputeTotal()

		if err := m.repo.WithTx(tx).CreateOrder(ctx, order); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "order id already taken, retry")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create order")
		}
		for _, id := range unitIDs {
			if _, err := m.ledger.Reduce(ctx, tx, id, requested[id]); err != nil {
				return err
			}
		}
		return m.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data:          orderCreatedPayload(order),
		})
	})
	if err != nil {
		m.recordFailure(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return nil, passThrough(err, "create order")
	}

	m.metrics.IncOrderCreated()
	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"order_id": order.ID,
		"total":    order.Total.StringFixed(2),
		"items":    len(order.LineItems),
	}), "order created")
	return order, nil
}

func (m *Manager) precheck(ctx context.Context, unitID uuid.UUID, qty int) error {
	ok, err := m.ledger.CheckAvailability(ctx, nil, unitID, qty)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	unit, err := m.ledger.Get(ctx, unitID)
	if err != nil {
		return err
	}
	return pkgerrors.InsufficientStock(unitID.String(), unit.AvailableQuantity, qty)
}

func (m *Manager) generateOrderID(ctx context.Context) (string, error) {
	for attempt := 0; attempt < orderIDAttempts; attempt++ {
		id := m.newID()
		exists, err := m.repo.OrderIDExists(ctx, id)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check order id")
		}
		if !exists {
			return id, nil
		}
		m.logg.Debug(m.logg.WithField(ctx, "order_id", id), "order id collision, regenerating")
	}
	return "", pkgerrors.New(pkgerrors.CodeInternal, "could not allocate a unique order id")
}

// UpdateLineItemQuantity moves stock by the delta between the old and new quantity.
// Any open checkout session is cancelled since its total no longer matches.
func (m *Manager) UpdateLineItemQuantity(ctx context.Context, actor Actor, orderID string, itemID uuid.UUID, quantity int) (*models.Order, error) {
	if quantity <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero, cancel the order to remove all items")
	}
	if itemID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "line item id required")
	}

	var (
		order        *models.Order
		staleSession string
	)
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = m.lockOwned(ctx, tx, actor, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPending || order.IsPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "line items can only change while the order is awaiting payment").
				WithDetails(map[string]any{"current_status": order.Status})
		}

		idx := -1
		for i := range order.LineItems {
			if order.LineItems[i].ID == itemID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return pkgerrors.New(pkgerrors.CodeNotFound, "line item not found").
				WithDetails(map[string]any{"line_item_id": itemID.String()})
		}
		item := &order.LineItems[idx]
		oldQty := item.Quantity
		delta := quantity - oldQty
		if delta == 0 {
			return nil
		}
		if delta > 0 {
			if _, err := m.ledger.Reduce(ctx, tx, item.StockUnitID, delta); err != nil {
				return err
			}
		} else {
			if _, err := m.ledger.Increase(ctx, tx, item.StockUnitID, -delta); err != nil {
				return err
			}
		}

		repo := m.repo.WithTx(tx)
		if err := repo.UpdateLineItemQuantity(ctx, item.ID, quantity); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update line item")
		}
		item.Quantity = quantity
		order.Total = order.ComputeTotal()
		if err := repo.UpdateOrder(ctx, order.ID, map[string]any{
			"total":                order.Total,
			"checkout_session_url": nil,
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order total")
		}
		order.CheckoutSessionURL = nil

		staleSession, err = m.cancelPendingTransaction(ctx, tx, order.ID, "order items changed")
		if err != nil {
			return err
		}
		return m.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderItemsChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor.ref(),
			Data: payloads.OrderItemsChangedEvent{
				OrderID:     order.ID,
				LineItemID:  item.ID,
				StockUnitID: item.StockUnitID,
				OldQuantity: oldQty,
				NewQuantity: quantity,
				Total:       order.Total,
			},
		})
	})
	if err != nil {
		m.recordFailure(err)
		return nil, passThrough(err, "update line item")
	}

	m.expireSessions(ctx, staleSession)
	m.transitions.Invalidate(ctx, order.ID)
	return order, nil
}

// CancelOrder cancels a pending or processing order. Local state commits first;
// refunds for captured payments are requested afterwards and failures are
// reported on the result rather than undoing the cancellation.
func (m *Manager) CancelOrder(ctx context.Context, actor Actor, orderID, reason string) (*CancelResult, error) {
	ctx, span := tracer.Start(ctx, "orders.CancelOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))
	ctx = m.logg.WithOrderID(ctx, orderID)

	reason = strings.TrimSpace(reason)
	var (
		order    *models.Order
		sessions []string
		captured []models.PaymentTransaction
	)
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = m.lockOwned(ctx, tx, actor, orderID)
		if err != nil {
			return err
		}
		if err := m.transitions.Cancel(ctx, tx, order, reason); err != nil {
			return err
		}

		txns := m.txns.WithTx(tx)
		list, err := txns.ListByOrder(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment transactions")
		}
		for _, txn := range list {
			switch txn.Status {
			case enums.PaymentStatusPending:
				if err := txns.Update(ctx, txn.ID, map[string]any{
					"status":         enums.PaymentStatusCanceled,
					"failure_reason": "order cancelled",
				}); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel pending transaction")
				}
				sessions = append(sessions, txn.ExternalSessionID)
			case enums.PaymentStatusSuccess:
				if err := txns.Update(ctx, txn.ID, map[string]any{"status": enums.PaymentStatusRefunded}); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction refunded")
				}
				if err := m.emitPayment(ctx, tx, enums.EventPaymentRefunded, txn, enums.PaymentStatusRefunded, "order cancelled"); err != nil {
					return err
				}
				captured = append(captured, txn)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, passThrough(err, "cancel order")
	}

	m.expireSessions(ctx, sessions...)
	result := &CancelResult{Order: order}
	for _, txn := range captured {
		m.refundAfterCommit(ctx, txn, reason, result)
	}
	m.transitions.Invalidate(ctx, order.ID)

	m.logg.Info(m.logg.WithFields(ctx, map[string]any{
		"refunds":         len(result.RefundedIDs),
		"refund_failures": len(result.RefundFailures),
	}), "order cancelled")
	return result, nil
}

func (m *Manager) refundAfterCommit(ctx context.Context, txn models.PaymentTransaction, reason string, result *CancelResult) {
	res := m.payments.IssueRefund(ctx, txn, reason)
	if res.Success {
		if res.ExternalRefundID != "" {
			result.RefundedIDs = append(result.RefundedIDs, res.ExternalRefundID)
			if err := m.txns.Update(ctx, txn.ID, map[string]any{"external_refund_id": res.ExternalRefundID}); err != nil {
				m.logg.Error(ctx, "record external refund id", err)
			}
		}
		return
	}

	msg := "refund failed"
	if res.Err != nil {
		msg = res.Err.Error()
	}
	result.RefundFailures = append(result.RefundFailures, RefundFailure{
		TransactionID:    txn.ID,
		PaymentReference: txn.PaymentReference(),
		Error:            msg,
	})
	err := m.db.WithTx(context.WithoutCancel(ctx), func(tx *gorm.DB) error {
		return m.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRefundFailed,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   txn.OrderID,
			Data: payloads.RefundFailedEvent{
				TransactionID:    txn.ID,
				OrderID:          txn.OrderID,
				PaymentReference: txn.PaymentReference(),
				RefundID:         res.ExternalRefundID,
				Amount:           txn.Amount,
				Error:            msg,
			},
		})
	})
	if err != nil {
		m.logg.Error(m.logg.WithField(ctx, "transaction_id", txn.ID.String()), "emit refund failure", err)
	}
}

// UpdateStatus applies an admin fulfillment transition.
func (m *Manager) UpdateStatus(ctx context.Context, orderID string, to enums.OrderStatus) (*models.Order, error) {
	if to != enums.OrderStatusShipped && to != enums.OrderStatusCompleted {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "status can only be set to shipped or completed").
			WithDetails(map[string]any{"requested_status": to})
	}
	var order *models.Order
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		order, err = m.transitions.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		return m.transitions.Advance(ctx, tx, order, to)
	})
	if err != nil {
		return nil, passThrough(err, "update order status")
	}
	m.transitions.Invalidate(ctx, order.ID)
	return order, nil
}

// RefundOrder refunds the captured payment in full. The processor is asked
// first; local state only changes once the refund is accepted.
func (m *Manager) RefundOrder(ctx context.Context, actor Actor, orderID, reason string) (*RefundOutcome, error) {
	ctx, span := tracer.Start(ctx, "orders.RefundOrder")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))
	ctx = m.logg.WithOrderID(ctx, orderID)

	order, err := m.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	if !order.Status.CanTransitionTo(enums.OrderStatusRefunded) {
		return nil, pkgerrors.InvalidTransition(order.Status.String(), enums.OrderStatusRefunded.String())
	}
	txn, err := m.txns.FindCapturedByOrder(ctx, order.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order has no captured payment to refund")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load captured transaction")
	}

	res := m.payments.IssueRefund(ctx, *txn, reason)
	if !res.Success {
		span.RecordError(res.Err)
		return nil, res.Err
	}

	outcome := &RefundOutcome{TransactionID: txn.ID, ExternalRefundID: res.ExternalRefundID, LocalOnly: res.LocalOnly}
	err = m.db.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := m.transitions.LockOrder(ctx, tx, order.ID)
		if err != nil {
			return err
		}
		outcome.Order = locked

		txns := m.txns.WithTx(tx)
		current, err := txns.LockBySessionID(ctx, txn.ExternalSessionID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock payment transaction")
		}
		if current.Status == enums.PaymentStatusSuccess {
			updates := map[string]any{"status": enums.PaymentStatusRefunded}
			if res.ExternalRefundID != "" {
				updates["external_refund_id"] = res.ExternalRefundID
				current.ExternalRefundID = &res.ExternalRefundID
			}
			if err := txns.Update(ctx, current.ID, updates); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark transaction refunded")
			}
			if err := m.emitPayment(ctx, tx, enums.EventPaymentRefunded, *current, enums.PaymentStatusRefunded, reason); err != nil {
				return err
			}
		}
		return m.transitions.MarkRefunded(ctx, tx, locked, "refund issued")
	})
	if err != nil {
		// The processor already accepted the refund; a webhook will converge local state.
		m.logg.Error(m.logg.WithField(ctx, "refund_id", res.ExternalRefundID), "refund accepted but local update failed", err)
		return nil, passThrough(err, "refund order")
	}
	m.transitions.Invalidate(ctx, order.ID)
	return outcome, nil
}

// GetOrder returns an order visible to the actor, reading through the cache.
func (m *Manager) GetOrder(ctx context.Context, actor Actor, orderID string) (*models.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	key := m.transitions.orderKey(orderID)

	var cached models.Order
	hit, err := m.cache.Get(ctx, key, &cached)
	if err != nil {
		m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "order cache read failed")
	}
	order := &cached
	if !hit {
		order, err = m.repo.FindOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, orderNotFound(orderID)
			}
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
		}
		if err := m.cache.Set(ctx, key, order, m.cacheTTL); err != nil {
			m.logg.Warn(m.logg.WithField(ctx, "error", err.Error()), "order cache write failed")
		}
	}
	if !actor.IsAdmin() && order.OwnerID != actor.UserID {
		return nil, orderNotFound(orderID)
	}
	return order, nil
}

func (m *Manager) ListOrders(ctx context.Context, ownerID uuid.UUID, filters ListFilters, params pagination.Params) (*OrderList, error) {
	if filters.Status != nil && !filters.Status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid status filter")
	}
	if _, err := pagination.ParseCursor(params.Cursor); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	list, err := m.repo.ListOrders(ctx, ownerID, filters, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list orders")
	}
	return list, nil
}

func (m *Manager) Stats(ctx context.Context, ownerID uuid.UUID) (*OrderStats, error) {
	stats, err := m.repo.Stats(ctx, ownerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "order stats")
	}
	return stats, nil
}

// RecentPending lists the owner's unpaid pending orders created since the given time.
func (m *Manager) RecentPending(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]models.Order, error) {
	rows, err := m.repo.ListPendingSince(ctx, ownerID, since)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list pending orders")
	}
	return rows, nil
}

func (m *Manager) ExpiredPendingOrderIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	ids, err := m.repo.ListExpiredPending(ctx, cutoff, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list expired orders")
	}
	return ids, nil
}

// ExpirePendingOrder cancels an unpaid order still pending at cutoff and
// releases its stock. It reports false when the order moved on meanwhile.
func (m *Manager) ExpirePendingOrder(ctx context.Context, orderID string, cutoff time.Time) (bool, error) {
	var (
		expired  bool
		sessions []string
	)
	err := m.db.WithTx(ctx, func(tx *gorm.DB) error {
		order, err := m.transitions.LockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.Status != enums.OrderStatusPending || order.IsPaid || !order.CreatedAt.Before(cutoff) {
			return nil
		}
		if err := m.transitions.Cancel(ctx, tx, order, expiredCancelReason); err != nil {
			return err
		}
		session, err := m.cancelPendingTransaction(ctx, tx, order.ID, expiredCancelReason)
		if err != nil {
			return err
		}
		if session != "" {
			sessions = append(sessions, session)
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, passThrough(err, "expire pending order")
	}
	if expired {
		m.expireSessions(ctx, sessions...)
		m.transitions.Invalidate(ctx, orderID)
	}
	return expired, nil
}

func (m *Manager) lockOwned(ctx context.Context, tx *gorm.DB, actor Actor, orderID string) (*models.Order, error) {
	order, err := m.transitions.LockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && order.OwnerID != actor.UserID {
		return nil, orderNotFound(orderID)
	}
	return order, nil
}

// cancelPendingTransaction closes the order's pending transaction and returns its session id.
func (m *Manager) cancelPendingTransaction(ctx context.Context, tx *gorm.DB, orderID, reason string) (string, error) {
	txns := m.txns.WithTx(tx)
	pending, err := txns.FindPendingByOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load pending transaction")
	}
	if err := txns.Update(ctx, pending.ID, map[string]any{
		"status":         enums.PaymentStatusCanceled,
		"failure_reason": reason,
	}); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "cancel pending transaction")
	}
	return pending.ExternalSessionID, nil
}

// expireSessions is best-effort; an unexpired session that gets paid is
// refunded by the reconciler.
func (m *Manager) expireSessions(ctx context.Context, sessionIDs ...string) {
	for _, id := range sessionIDs {
		if id == "" {
			continue
		}
		if err := m.payments.ExpireSession(ctx, id); err != nil {
			m.logg.Warn(m.logg.WithFields(ctx, map[string]any{"session_id": id, "error": err.Error()}), "expire checkout session failed")
		}
	}
}

func (m *Manager) emitPayment(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, txn models.PaymentTransaction, status enums.PaymentStatus, reason string) error {
	refundID := ""
	if txn.ExternalRefundID != nil {
		refundID = *txn.ExternalRefundID
	}
	return m.outbox.Emit(ctx, tx, outbox.DomainEvent{
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
			Status:           status,
			Reason:           reason,
		},
	})
}

func (m *Manager) recordFailure(err error) {
	if pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
		m.metrics.IncInsufficientStock()
	}
}

// mergeItems validates the request and folds repeated units into one line.
func mergeItems(items []ItemRequest) (map[uuid.UUID]int, []uuid.UUID, error) {
	if len(items) == 0 {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one line item is required")
	}
	requested := make(map[uuid.UUID]int, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for i, item := range items {
		if item.StockUnitID == uuid.Nil {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "stock unit id required").
				WithDetails(map[string]any{"index": i})
		}
		if item.Quantity <= 0 {
			return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero").
				WithDetails(map[string]any{"index": i, "stock_unit_id": item.StockUnitID.String()})
		}
		if _, ok := requested[item.StockUnitID]; !ok {
			ids = append(ids, item.StockUnitID)
		}
		requested[item.StockUnitID] += item.Quantity
	}
	return requested, stock.SortedIDs(ids), nil
}

func orderCreatedPayload(order *models.Order) payloads.OrderCreatedEvent {
	items := make([]payloads.OrderItem, 0, len(order.LineItems))
	for _, item := range order.LineItems {
		items = append(items, payloads.OrderItem{
			LineItemID:  item.ID,
			StockUnitID: item.StockUnitID,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
		})
	}
	return payloads.OrderCreatedEvent{
		OrderID:  order.ID,
		OwnerID:  order.OwnerID,
		Total:    order.Total,
		Currency: order.Currency,
		Items:    items,
	}
}

func randomOrderID() string {
	return orderIDPrefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// passThrough keeps typed errors intact and wraps anything else.
func passThrough(err error, message string) error {
	if pkgerrors.As(err) != nil {
		return err
	}
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, message)
}
