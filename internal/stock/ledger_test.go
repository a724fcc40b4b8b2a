package stock

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

func TestReduceMovesQuantityToReserved(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ledger := NewLedger(db)
	unit := seedUnit(t, db, "SKU-A", 5)

	err := db.Transaction(func(tx *gorm.DB) error {
		updated, err := ledger.Reduce(context.Background(), tx, unit.ID, 3)
		if err != nil {
			return err
		}
		if updated.AvailableQuantity != 2 || updated.ReservedQuantity != 3 || !updated.InStock {
			t.Fatalf("unexpected returned unit %+v", updated)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("reduce: %v", err)
	}

	got := reload(t, db, unit.ID)
	if got.AvailableQuantity != 2 || got.ReservedQuantity != 3 || !got.InStock {
		t.Fatalf("unexpected persisted unit %+v", got)
	}
}

func TestReduceToZeroClearsInStock(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ledger := NewLedger(db)
	unit := seedUnit(t, db, "SKU-A", 2)

	if err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.Reduce(context.Background(), tx, unit.ID, 2)
		return err
	}); err != nil {
		t.Fatalf("reduce: %v", err)
	}
	if got := reload(t, db, unit.ID); got.InStock || got.AvailableQuantity != 0 {
		t.Fatalf("expected unit out of stock, got %+v", got)
	}
}

func TestReduceInsufficientReportsShortfall(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ledger := NewLedger(db)
	unit := seedUnit(t, db, "SKU-A", 1)

	err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.Reduce(context.Background(), tx, unit.ID, 2)
		return err
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	shortfall, ok := typed.Details().(pkgerrors.StockShortfall)
	if !ok {
		t.Fatalf("expected shortfall details, got %T", typed.Details())
	}
	if shortfall.StockUnitID != unit.ID.String() || shortfall.Available != 1 || shortfall.Requested != 2 {
		t.Fatalf("unexpected shortfall %+v", shortfall)
	}
	if got := reload(t, db, unit.ID); got.AvailableQuantity != 1 || got.ReservedQuantity != 0 {
		t.Fatalf("stock must be unchanged, got %+v", got)
	}
}

func TestReduceValidatesInput(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ledger := NewLedger(db)
	unit := seedUnit(t, db, "SKU-A", 1)

	_ = db.Transaction(func(tx *gorm.DB) error {
		if _, err := ledger.Reduce(context.Background(), tx, unit.ID, 0); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("expected validation error for zero qty, got %v", err)
		}
		if _, err := ledger.Reduce(context.Background(), tx, uuid.New(), 1); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			t.Fatalf("expected not found for unknown unit, got %v", err)
		}
		return nil
	})
	if _, err := ledger.Reduce(context.Background(), nil, unit.ID, 1); err == nil {
		t.Fatalf("expected reduce outside a transaction to fail")
	}
}

func TestIncreaseFloorsReservedAtZero(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ledger := NewLedger(db)
	unit := seedUnit(t, db, "SKU-A", 0)
	if err := db.Model(&models.StockUnit{}).Where("id = ?", unit.ID).Update("reserved_quantity", 1).Error; err != nil {
		t.Fatalf("seed reserved: %v", err)
	}

	if err := db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.Increase(context.Background(), tx, unit.ID, 3)
		return err
	}); err != nil {
		t.Fatalf("increase: %v", err)
	}

	got := reload(t, db, unit.ID)
	if got.AvailableQuantity != 3 || got.ReservedQuantity != 0 || !got.InStock {
		t.Fatalf("unexpected unit after over-restore %+v", got)
	}
}

func TestCheckAvailability(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ledger := NewLedger(db)
	unit := seedUnit(t, db, "SKU-A", 4)

	ok, err := ledger.CheckAvailability(context.Background(), nil, unit.ID, 4)
	if err != nil || !ok {
		t.Fatalf("expected 4 available, got %v %v", ok, err)
	}
	ok, err = ledger.CheckAvailability(context.Background(), nil, unit.ID, 5)
	if err != nil || ok {
		t.Fatalf("expected 5 unavailable, got %v %v", ok, err)
	}
}

func TestConcurrentReduceNeverOversells(t *testing.T) {
	t.Parallel()

	const (
		workers = 5
		qty     = 2
	)
	db := newTestDB(t)
	ledger := NewLedger(db)
	unit := seedUnit(t, db, "SKU-HOT", (workers-1)*qty)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		succeeded    int
		insufficient int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := db.Transaction(func(tx *gorm.DB) error {
				_, err := ledger.Reduce(context.Background(), tx, unit.ID, qty)
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if succeeded != workers-1 || insufficient != 1 {
		t.Fatalf("expected %d successes and 1 rejection, got %d and %d", workers-1, succeeded, insufficient)
	}
	got := reload(t, db, unit.ID)
	if got.AvailableQuantity != 0 || got.ReservedQuantity != (workers-1)*qty {
		t.Fatalf("unexpected final unit %+v", got)
	}
}

func TestSnapshotLocksAllUnits(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ledger := NewLedger(db)
	a := seedUnit(t, db, "SKU-A", 1)
	b := seedUnit(t, db, "SKU-B", 2)

	err := db.Transaction(func(tx *gorm.DB) error {
		snap, err := ledger.Snapshot(context.Background(), tx, []uuid.UUID{b.ID, a.ID, b.ID})
		if err != nil {
			return err
		}
		if len(snap) != 2 || snap[a.ID].SKU != "SKU-A" || snap[b.ID].AvailableQuantity != 2 {
			t.Fatalf("unexpected snapshot %+v", snap)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		_, err := ledger.Snapshot(context.Background(), tx, []uuid.UUID{a.ID, uuid.New()})
		return err
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for unknown unit, got %v", err)
	}
}

func TestDeleteRefusesUnitsWithOrderHistory(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ledger := NewLedger(db)
	ordered := seedUnit(t, db, "SKU-A", 1)
	fresh := seedUnit(t, db, "SKU-B", 1)

	item := models.OrderLineItem{OrderID: "ORD-00000001", StockUnitID: ordered.ID, Name: "A", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seed line item: %v", err)
	}

	if err := ledger.Delete(context.Background(), ordered.ID); !pkgerrors.IsCode(err, pkgerrors.CodeConflict) {
		t.Fatalf("expected conflict deleting ordered unit, got %v", err)
	}
	if err := ledger.Delete(context.Background(), fresh.ID); err != nil {
		t.Fatalf("delete fresh unit: %v", err)
	}
	if _, err := ledger.Get(context.Background(), fresh.ID); !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected deleted unit to be gone, got %v", err)
	}
}

func TestLowStockOrdersEmptiestFirst(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	ledger := NewLedger(db)
	seedUnit(t, db, "SKU-A", 3)
	seedUnit(t, db, "SKU-B", 0)
	seedUnit(t, db, "SKU-C", 10)

	units, err := ledger.LowStock(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("low stock: %v", err)
	}
	if len(units) != 2 || units[0].SKU != "SKU-B" || units[1].SKU != "SKU-A" {
		t.Fatalf("unexpected low stock list %+v", units)
	}
}

func seedUnit(t *testing.T, db *gorm.DB, sku string, available int) models.StockUnit {
	t.Helper()
	unit := models.StockUnit{SKU: sku, Name: sku, UnitPrice: decimal.NewFromInt(100), AvailableQuantity: available}
	if err := db.Create(&unit).Error; err != nil {
		t.Fatalf("seed unit: %v", err)
	}
	return unit
}

func reload(t *testing.T, db *gorm.DB, id uuid.UUID) models.StockUnit {
	t.Helper()
	var unit models.StockUnit
	if err := db.First(&unit, "id = ?", id).Error; err != nil {
		t.Fatalf("reload unit: %v", err)
	}
	return unit
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:stock_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&models.StockUnit{}, &models.OrderLineItem{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
