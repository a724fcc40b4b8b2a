package orders

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/stock"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
)

type fakeProcessor struct {
	mu      sync.Mutex
	refunds []models.PaymentTransaction
	expired []string
	result  *payments.RefundResult
}

func (f *fakeProcessor) IssueRefund(_ context.Context, txn models.PaymentTransaction, _ string) payments.RefundResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refunds = append(f.refunds, txn)
	if f.result != nil {
		return *f.result
	}
	if txn.PaymentReference() == "" {
		return payments.RefundResult{Success: true, LocalOnly: true}
	}
	return payments.RefundResult{Success: true, ExternalRefundID: "re_" + txn.ID.String()[:8]}
}

func (f *fakeProcessor) ExpireSession(_ context.Context, sessionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = append(f.expired, sessionID)
	return nil
}

type harness struct {
	db          *gorm.DB
	ledger      *stock.Ledger
	txns        payments.TransactionRepository
	processor   *fakeProcessor
	transitions *Transitions
	manager     *Manager
	owner       Actor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gdb := newTestDB(t)
	logg := logger.New(logger.Options{ServiceName: "orders-test", Output: io.Discard})
	repo := NewRepository(gdb)
	ledger := stock.NewLedger(gdb)
	emitter := outbox.NewService(outbox.NewRepository(gdb), logg)

	transitions, err := NewTransitions(TransitionsParams{
		Repo:   repo,
		Ledger: ledger,
		Outbox: emitter,
		Logger: logg,
	})
	if err != nil {
		t.Fatalf("new transitions: %v", err)
	}
	h := &harness{
		db:          gdb,
		ledger:      ledger,
		txns:        payments.NewTransactionRepository(gdb),
		processor:   &fakeProcessor{},
		transitions: transitions,
		owner:       Actor{UserID: uuid.New(), Role: enums.RoleCustomer},
	}
	h.manager, err = NewManager(ManagerParams{
		Repo:         repo,
		DB:           db.FromConn(gdb),
		Ledger:       ledger,
		Transitions:  transitions,
		Transactions: h.txns,
		Payments:     h.processor,
		Outbox:       emitter,
		Logger:       logg,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	return h
}

func (h *harness) seedUnit(t *testing.T, sku string, price string, available int) models.StockUnit {
	t.Helper()
	unit := models.StockUnit{
		SKU:               sku,
		Name:              "Item " + sku,
		UnitPrice:         decimal.RequireFromString(price),
		AvailableQuantity: available,
	}
	if err := h.db.Create(&unit).Error; err != nil {
		t.Fatalf("seed unit: %v", err)
	}
	return unit
}

func (h *harness) unit(t *testing.T, id uuid.UUID) models.StockUnit {
	t.Helper()
	var unit models.StockUnit
	if err := h.db.First(&unit, "id = ?", id).Error; err != nil {
		t.Fatalf("reload unit: %v", err)
	}
	return unit
}

func (h *harness) order(t *testing.T, id string) models.Order {
	t.Helper()
	var order models.Order
	if err := h.db.Preload("LineItems").First(&order, "id = ?", id).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return order
}

func (h *harness) createOrder(t *testing.T, items ...ItemRequest) *models.Order {
	t.Helper()
	order, err := h.manager.CreateOrder(context.Background(), CreateOrderInput{
		OwnerID:        h.owner.UserID,
		Items:          items,
		ShippingMethod: "standard",
	})
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return order
}

func (h *harness) addTransaction(t *testing.T, orderID string, status enums.PaymentStatus, reference string) models.PaymentTransaction {
	t.Helper()
	txn := models.PaymentTransaction{
		OrderID:           orderID,
		ExternalSessionID: "cs_" + uuid.NewString()[:12],
		Amount:            decimal.RequireFromString("100"),
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

// pay records a captured transaction and moves the order to processing.
func (h *harness) pay(t *testing.T, orderID string) models.PaymentTransaction {
	t.Helper()
	txn := h.addTransaction(t, orderID, enums.PaymentStatusSuccess, "pi_"+uuid.NewString()[:12])
	err := db.FromConn(h.db).WithTx(context.Background(), func(tx *gorm.DB) error {
		_, outcome, err := h.transitions.MarkPaid(context.Background(), tx, orderID)
		if err == nil && outcome != PaidApplied {
			t.Fatalf("expected payment applied, got %v", outcome)
		}
		return err
	})
	if err != nil {
		t.Fatalf("mark paid: %v", err)
	}
	return txn
}

func (h *harness) countEvents(t *testing.T, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	if err := h.db.Model(&models.OutboxEvent{}).Where("event_type = ?", eventType).Count(&count).Error; err != nil {
		t.Fatalf("count events: %v", err)
	}
	return count
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
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
		&models.OutboxEvent{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gdb
}
