package stripewebhook

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/stock"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

type fakePayments struct {
	mu       sync.Mutex
	sessions map[string]*stripe.CheckoutSession
	refunds  []models.PaymentTransaction
	reasons  []string
	result   *payments.RefundResult
}

func (f *fakePayments) Session(_ context.Context, id string) (*stripe.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sess, ok := f.sessions[id]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no such session")
	}
	return sess, nil
}

func (f *fakePayments) IssueRefund(_ context.Context, txn models.PaymentTransaction, reason string) payments.RefundResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, txn)
	f.reasons = append(f.reasons, reason)
	if f.result != nil {
		return *f.result
	}
	return payments.RefundResult{Success: true, ExternalRefundID: "re_auto"}
}

type harness struct {
	db         *gorm.DB
	txns       payments.TransactionRepository
	payments   *fakePayments
	reconciler *Reconciler
	owner      uuid.UUID
	seq        int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb := newTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "webhooks-test", Output: io.Discard})
	emitter := outbox.NewService(outbox.NewRepository(gdb), logg)
	transitions, err := orders.NewTransitions(orders.TransitionsParams{
		Repo:   orders.NewRepository(gdb),
		Ledger: stock.NewLedger(gdb),
		Outbox: emitter,
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("new transitions: %v", err)
	}
	h := &harness{
		db:       gdb,
		txns:     payments.NewTransactionRepository(gdb),
		payments: &fakePayments{sessions: map[string]*stripe.CheckoutSession{}},
		owner:    uuid.New(),
	}
	h.reconciler, err = NewReconciler(ReconcilerParams{
		DB:           db.FromConn(gdb),
		Transactions: h.txns,
		Orders:       transitions,
		Payments:     h.payments,
		Outbox:       emitter,
		Logger:       logg,
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	return h
}

// seedOrder stores a pending order for two units at 10.00 whose stock was
// already taken, leaving three on hand.
func (h *harness) seedOrder(t *testing.T, status enums.OrderStatus, paid bool) (models.Order, models.StockUnit) {
	t.Helper()
	h.seq++
	unit := models.StockUnit{
		SKU:               "SKU-" + uuid.NewString()[:8],
		Name:              "Widget",
		UnitPrice:         decimal.RequireFromString("10"),
		AvailableQuantity: 3,
	}
	if err := h.db.Create(&unit).Error; err != nil {
		t.Fatalf("seed unit: %v", err)
	}
	url := "https://checkout.stripe.test/session"
	order := models.Order{
		ID:                 "ORD-TEST000" + string(rune('0'+h.seq)),
		OwnerID:            h.owner,
		Status:             status,
		IsPaid:             paid,
		Total:              decimal.RequireFromString("20"),
		Currency:           "usd",
		ShippingMethod:     "standard",
		CheckoutSessionURL: &url,
		LineItems: []models.OrderLineItem{{
			StockUnitID: unit.ID,
			Name:        unit.Name,
			Quantity:    2,
			UnitPrice:   unit.UnitPrice,
		}},
	}
	if err := h.db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order, unit
}

func (h *harness) addTransaction(t *testing.T, orderID string, status enums.PaymentStatus, reference string) models.PaymentTransaction {
	t.Helper()
	txn := models.PaymentTransaction{
		OrderID:           orderID,
		ExternalSessionID: "cs_" + uuid.NewString()[:12],
		Amount:            decimal.RequireFromString("20"),
		Currency:          "usd",
		Status:            status,
	}
	if reference != "" {
		txn.ExternalPaymentReference = &reference
	}
	if err := h.txns.Create(context.Background(), &txn); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return txn
}

func (h *harness) setAmount(t *testing.T, id uuid.UUID, amount string) {
	t.Helper()
	err := h.db.Model(&models.PaymentTransaction{}).Where("id = ?", id).Update("amount", decimal.RequireFromString(amount)).Error
	if err != nil {
		t.Fatalf("set amount: %v", err)
	}
}

func (h *harness) remoteSession(txn models.PaymentTransaction, status stripe.CheckoutSessionStatus, paid bool) {
	sess := &stripe.CheckoutSession{
		ID:            txn.ExternalSessionID,
		Status:        status,
		PaymentStatus: stripe.CheckoutSessionPaymentStatusUnpaid,
		Metadata: map[string]string{
			payments.MetadataOrderID:       txn.OrderID,
			payments.MetadataUserID:        h.owner.String(),
			payments.MetadataTransactionID: txn.ID.String(),
		},
	}
	if paid {
		sess.PaymentStatus = stripe.CheckoutSessionPaymentStatusPaid
		sess.PaymentIntent = &stripe.PaymentIntent{ID: "pi_" + txn.ID.String()[:8]}
	}
	h.payments.mu.Lock()
	h.payments.sessions[sess.ID] = sess
	h.payments.mu.Unlock()
}

func (h *harness) order(t *testing.T, id string) models.Order {
	t.Helper()
	var order models.Order
	if err := h.db.First(&order, "id = ?", id).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return order
}

func (h *harness) txn(t *testing.T, id uuid.UUID) models.PaymentTransaction {
	t.Helper()
	var txn models.PaymentTransaction
	if err := h.db.First(&txn, "id = ?", id).Error; err != nil {
		t.Fatalf("reload transaction: %v", err)
	}
	return txn
}

func (h *harness) available(t *testing.T, id uuid.UUID) int {
	t.Helper()
	var unit models.StockUnit
	if err := h.db.First(&unit, "id = ?", id).Error; err != nil {
		t.Fatalf("reload unit: %v", err)
	}
	return unit.AvailableQuantity
}

func (h *harness) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	if err := h.db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return count
}

func event(t *testing.T, eventType stripe.EventType, object map[string]any) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(object)
	if err != nil {
		t.Fatalf("marshal event object: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString()[:12],
		Type: eventType,
		Data: &stripe.EventData{Raw: raw},
	}
}

func completedEvent(t *testing.T, txn models.PaymentTransaction, reference string) *stripe.Event {
	return event(t, stripe.EventTypeCheckoutSessionCompleted, map[string]any{
		"id":             txn.ExternalSessionID,
		"object":         "checkout.session",
		"status":         "complete",
		"payment_status": "paid",
		"payment_intent": reference,
		"metadata":       map[string]string{payments.MetadataOrderID: txn.OrderID},
	})
}

func refundEvent(t *testing.T, eventType stripe.EventType, refundID, reference string, amount int64, status string) *stripe.Event {
	return event(t, eventType, map[string]any{
		"id":             refundID,
		"object":         "refund",
		"amount":         amount,
		"payment_intent": reference,
		"status":         status,
	})
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:webhooks_" + uuid.NewString() + "?mode=memory&cache=shared"
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := gdb.AutoMigrate(
		&models.StockUnit{},
		&models.Order{},
		&models.OrderLineItem{},
		&models.PaymentTransaction{},
		&models.PaymentRefund{},
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}
