package stock

import (
	"context"
	"errors"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// Ledger is the only code path allowed to change stock quantities.
// Mutations take the caller's transaction and lock the unit row first.
type Ledger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) *Ledger {
	return &Ledger{db: db}
}

func (l *Ledger) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return l.db.WithContext(ctx)
}

// CheckAvailability is a lock-free read; callers must re-check under Reduce.
func (l *Ledger) CheckAvailability(ctx context.Context, tx *gorm.DB, unitID uuid.UUID, qty int) (bool, error) {
	if qty <= 0 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero")
	}
	unit, err := l.find(l.conn(ctx, tx), unitID)
	if err != nil {
		return false, err
	}
	return unit.AvailableQuantity >= qty, nil
}

// Reduce moves qty from available to reserved under a row lock.
func (l *Ledger) Reduce(ctx context.Context, tx *gorm.DB, unitID uuid.UUID, qty int) (*models.StockUnit, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required for stock reduce")
	}
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero")
	}

	db := tx.WithContext(ctx)
	unit, err := l.lock(db, unitID)
	if err != nil {
		return nil, err
	}
	if unit.AvailableQuantity < qty {
		return nil, pkgerrors.InsufficientStock(unit.ID.String(), unit.AvailableQuantity, qty)
	}

	unit.AvailableQuantity -= qty
	unit.ReservedQuantity += qty
	unit.InStock = unit.AvailableQuantity > 0

	// The guard makes the write fail rather than go negative even where the
	// dialect ignores FOR UPDATE.
	res := db.Model(&models.StockUnit{}).
		Where("id = ? AND available_quantity >= ?", unit.ID, qty).
		Updates(map[string]any{
			"available_quantity": gorm.Expr("available_quantity - ?", qty),
			"reserved_quantity":  gorm.Expr("reserved_quantity + ?", qty),
			"in_stock":           unit.InStock,
		})
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "reduce stock")
	}
	if res.RowsAffected == 0 {
		return nil, pkgerrors.InsufficientStock(unit.ID.String(), unit.AvailableQuantity+qty, qty)
	}
	return unit, nil
}

// Increase returns qty to available. Reserved is floored at zero so an
// over-restoring compensation never drives it negative.
func (l *Ledger) Increase(ctx context.Context, tx *gorm.DB, unitID uuid.UUID, qty int) (*models.StockUnit, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required for stock increase")
	}
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be greater than zero")
	}

	db := tx.WithContext(ctx)
	unit, err := l.lock(db, unitID)
	if err != nil {
		return nil, err
	}

	unit.AvailableQuantity += qty
	unit.ReservedQuantity -= qty
	if unit.ReservedQuantity < 0 {
		unit.ReservedQuantity = 0
	}
	unit.InStock = unit.AvailableQuantity > 0

	res := db.Model(&models.StockUnit{}).
		Where("id = ?", unit.ID).
		Updates(map[string]any{
			"available_quantity": unit.AvailableQuantity,
			"reserved_quantity":  unit.ReservedQuantity,
			"in_stock":           unit.InStock,
		})
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "increase stock")
	}
	return unit, nil
}

// Snapshot locks the given units in ascending id order and returns them keyed by id.
// Multi-line orders call it before any Reduce so two orders over the same units
// always acquire row locks in the same order.
func (l *Ledger) Snapshot(ctx context.Context, tx *gorm.DB, unitIDs []uuid.UUID) (map[uuid.UUID]models.StockUnit, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction required for stock snapshot")
	}
	db := tx.WithContext(ctx)
	out := make(map[uuid.UUID]models.StockUnit, len(unitIDs))
	for _, id := range SortedIDs(unitIDs) {
		unit, err := l.lock(db, id)
		if err != nil {
			return nil, err
		}
		out[id] = *unit
	}
	return out, nil
}

func (l *Ledger) Get(ctx context.Context, unitID uuid.UUID) (*models.StockUnit, error) {
	return l.find(l.db.WithContext(ctx), unitID)
}

// LowStock lists units at or below threshold, emptiest first.
func (l *Ledger) LowStock(ctx context.Context, threshold, limit int) ([]models.StockUnit, error) {
	if threshold < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "threshold must be zero or greater")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var units []models.StockUnit
	err := l.db.WithContext(ctx).
		Where("available_quantity <= ?", threshold).
		Order("available_quantity ASC").
		Order("sku ASC").
		Limit(limit).
		Find(&units).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list low stock")
	}
	return units, nil
}

// Delete removes a unit that was never ordered. Units with order history stay.
func (l *Ledger) Delete(ctx context.Context, unitID uuid.UUID) error {
	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := l.lock(tx, unitID); err != nil {
			return err
		}
		var refs int64
		if err := tx.Model(&models.OrderLineItem{}).Where("stock_unit_id = ?", unitID).Count(&refs).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count order history")
		}
		if refs > 0 {
			return pkgerrors.New(pkgerrors.CodeConflict, "stock unit has order history and cannot be deleted")
		}
		if err := tx.Delete(&models.StockUnit{}, "id = ?", unitID).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete stock unit")
		}
		return nil
	})
}

func (l *Ledger) lock(db *gorm.DB, unitID uuid.UUID) (*models.StockUnit, error) {
	return l.find(db.Clauses(clause.Locking{Strength: "UPDATE"}), unitID)
}

func (l *Ledger) find(db *gorm.DB, unitID uuid.UUID) (*models.StockUnit, error) {
	if unitID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stock unit id required")
	}
	var unit models.StockUnit
	if err := db.Where("id = ?", unitID).First(&unit).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock unit not found").
				WithDetails(map[string]any{"stock_unit_id": unitID.String()})
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load stock unit")
	}
	return &unit, nil
}

// SortedIDs returns a de-duplicated copy of ids in ascending order.
func SortedIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}
