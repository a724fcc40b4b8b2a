package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/stock"
	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/payloads"
)

// PaidOutcome says what MarkPaid did with a captured payment.
type PaidOutcome int

const (
	// PaidApplied moved a pending order to processing.
	PaidApplied PaidOutcome = iota
	// PaidAlready means the order was already paid.
	PaidAlready
	// PaidAfterCancel means the money arrived for a cancelled or refunded order.
	PaidAfterCancel
)

type TransitionsParams struct {
	Repo     Repository
	Ledger   StockLedger
	Outbox   outbox.Emitter
	Cache    cache.Cache
	CacheKey func(parts ...string) string
	Metrics  *metrics.CommerceMetrics
	Logger   *logger.Logger
}

// Transitions owns every status change of an order. All methods taking a tx
// run inside the caller's transaction and never commit on their own.
type Transitions struct {
	repo     Repository
	ledger   StockLedger
	outbox   outbox.Emitter
	cache    cache.Cache
	cacheKey func(parts ...string) string
	metrics  *metrics.CommerceMetrics
	logg     *logger.Logger
}

func NewTransitions(params TransitionsParams) (*Transitions, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("stock ledger required")
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
	keyFn := params.CacheKey
	if keyFn == nil {
		keyFn = func(parts ...string) string { return strings.Join(parts, ":") }
	}
	return &Transitions{
		repo:     params.Repo,
		ledger:   params.Ledger,
		outbox:   params.Outbox,
		cache:    c,
		cacheKey: keyFn,
		metrics:  params.Metrics,
		logg:     params.Logger,
	}, nil
}

// LockOrder loads the order FOR UPDATE with its line items.
func (t *Transitions) LockOrder(ctx context.Context, tx *gorm.DB, orderID string) (*models.Order, error) {
	order, err := t.repo.WithTx(tx).LockOrder(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, orderNotFound(orderID)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lock order")
	}
	return order, nil
}

// MarkPaid records a captured payment on the order.
func (t *Transitions) MarkPaid(ctx context.Context, tx *gorm.DB, orderID string) (*models.Order, PaidOutcome, error) {
	order, err := t.LockOrder(ctx, tx, orderID)
	if err != nil {
		return nil, PaidApplied, err
	}
	switch {
	case order.IsPaid:
		return order, PaidAlready, nil
	case order.Status == enums.OrderStatusCancelled || order.Status == enums.OrderStatusRefunded:
		return order, PaidAfterCancel, nil
	}

	err = t.transition(ctx, tx, order, enums.OrderStatusProcessing, map[string]any{
		"is_paid":              true,
		"checkout_session_url": nil,
	}, "payment captured")
	if err != nil {
		return nil, PaidApplied, err
	}
	order.IsPaid = true
	order.CheckoutSessionURL = nil
	return order, PaidApplied, nil
}

// MarkRefunded moves a locked, paid order to refunded and returns its stock.
// Already refunded orders are left alone.
func (t *Transitions) MarkRefunded(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error {
	if order.Status == enums.OrderStatusRefunded {
		return nil
	}
	if err := t.transition(ctx, tx, order, enums.OrderStatusRefunded, map[string]any{
		"is_paid": false,
	}, reason); err != nil {
		return err
	}
	order.IsPaid = false
	return t.RestoreStock(ctx, tx, order.LineItems)
}

// Cancel moves a locked order to cancelled and returns its stock. Payment
// transactions are the caller's concern.
func (t *Transitions) Cancel(ctx context.Context, tx *gorm.DB, order *models.Order, reason string) error {
	if !order.Status.IsCancellable() {
		return pkgerrors.InvalidTransition(order.Status.String(), enums.OrderStatusCancelled.String())
	}
	updates := map[string]any{
		"is_paid":              false,
		"checkout_session_url": nil,
	}
	if reason != "" {
		updates["cancel_reason"] = reason
	}
	if err := t.transition(ctx, tx, order, enums.OrderStatusCancelled, updates, reason); err != nil {
		return err
	}
	order.IsPaid = false
	order.CheckoutSessionURL = nil
	if reason != "" {
		order.CancelReason = &reason
	}
	return t.RestoreStock(ctx, tx, order.LineItems)
}

// Advance applies a fulfillment transition (shipped, completed).
func (t *Transitions) Advance(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus) error {
	return t.transition(ctx, tx, order, to, map[string]any{}, "")
}

// RestoreStock increases every line item's unit in ascending id order.
func (t *Transitions) RestoreStock(ctx context.Context, tx *gorm.DB, items []models.OrderLineItem) error {
	totals := make(map[uuid.UUID]int, len(items))
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		if _, ok := totals[item.StockUnitID]; !ok {
			ids = append(ids, item.StockUnitID)
		}
		totals[item.StockUnitID] += item.Quantity
	}
	for _, id := range stock.SortedIDs(ids) {
		if totals[id] <= 0 {
			continue
		}
		if _, err := t.ledger.Increase(ctx, tx, id, totals[id]); err != nil {
			return err
		}
	}
	return nil
}

func (t *Transitions) SetCheckoutURL(ctx context.Context, tx *gorm.DB, orderID, checkoutURL string) error {
	if err := t.repo.WithTx(tx).UpdateOrder(ctx, orderID, map[string]any{"checkout_session_url": checkoutURL}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "store checkout url")
	}
	return nil
}

func (t *Transitions) ClearCheckoutURL(ctx context.Context, tx *gorm.DB, orderID string) error {
	if err := t.repo.WithTx(tx).UpdateOrder(ctx, orderID, map[string]any{"checkout_session_url": nil}); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "clear checkout url")
	}
	return nil
}

// Invalidate drops the cached order after a committed change.
func (t *Transitions) Invalidate(ctx context.Context, orderID string) {
	if err := t.cache.InvalidatePattern(ctx, t.orderKey(orderID)); err != nil {
		t.logg.Warn(t.logg.WithFields(ctx, map[string]any{"order_id": orderID, "error": err.Error()}), "order cache invalidation failed")
	}
}

func (t *Transitions) orderKey(orderID string) string {
	return t.cacheKey("orders", orderID)
}

func (t *Transitions) transition(ctx context.Context, tx *gorm.DB, order *models.Order, to enums.OrderStatus, updates map[string]any, reason string) error {
	from := order.Status
	if !from.CanTransitionTo(to) {
		return pkgerrors.InvalidTransition(from.String(), to.String())
	}
	updates["status"] = to
	if err := t.repo.WithTx(tx).UpdateOrder(ctx, order.ID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update order status")
	}
	order.Status = to

	isPaid := order.IsPaid
	if v, ok := updates["is_paid"].(bool); ok {
		isPaid = v
	}
	err := t.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventOrderStatusChanged,
		AggregateType: enums.AggregateOrder,
		AggregateID:   order.ID,
		Data: payloads.OrderStatusChangedEvent{
			OrderID: order.ID,
			OwnerID: order.OwnerID,
			From:    from,
			To:      to,
			IsPaid:  isPaid,
			Reason:  reason,
		},
	})
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "emit status change")
	}
	t.metrics.IncTransition(to.String())
	t.logg.Info(t.logg.WithFields(ctx, map[string]any{
		"order_id": order.ID,
		"from":     from,
		"to":       to,
	}), "order status changed")
	return nil
}

func orderNotFound(orderID string) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "order not found").
		WithDetails(map[string]any{"order_id": orderID})
}
