package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

type repository struct {
	db *gorm.DB
}

// NewRepository builds an orders repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) OrderIDExists(ctx context.Context, id string) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateOrder inserts the order and its line items.
func (r *repository) CreateOrder(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *repository) FindOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("created_at ASC, id ASC") }).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LockOrder reads the order row FOR UPDATE. Line items load afterwards
// without a lock; they only change while the order row is held.
func (r *repository) LockOrder(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", id).
		Order("created_at ASC, id ASC").
		Find(&order.LineItems).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *repository) UpdateOrder(ctx context.Context, id string, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *repository) UpdateLineItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error {
	return r.db.WithContext(ctx).
		Model(&models.OrderLineItem{}).
		Where("id = ?", itemID).
		Update("quantity", quantity).Error
}

func (r *repository) ListOrders(ctx context.Context, ownerID uuid.UUID, filters ListFilters, params pagination.Params) (*OrderList, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}

	query := r.db.WithContext(ctx).Model(&models.Order{}).Where("owner_id = ?", ownerID)
	if filters.Status != nil {
		query = query.Where("status = ?", *filters.Status)
	}
	var rows []models.Order
	err = query.
		Scopes(pagination.After(cursor, "created_at", "id")).
		Preload("LineItems").
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	rows, next := pagination.Split(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	list := &OrderList{Orders: make([]OrderSummary, 0, len(rows)), NextCursor: next}
	for _, row := range rows {
		list.Orders = append(list.Orders, summarize(row))
	}
	return list, nil
}

// ListPendingSince returns the owner's unpaid pending orders created at or after since, newest first.
func (r *repository) ListPendingSince(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]models.Order, error) {
	var rows []models.Order
	err := r.db.WithContext(ctx).
		Preload("LineItems").
		Where("owner_id = ? AND status = ? AND is_paid = ? AND created_at >= ?", ownerID, enums.OrderStatusPending, false, since).
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("status = ? AND is_paid = ? AND created_at < ?", enums.OrderStatusPending, false, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

func (r *repository) Stats(ctx context.Context, ownerID uuid.UUID) (*OrderStats, error) {
	var counts []struct {
		Status enums.OrderStatus
		Count  int64
	}
	err := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Select("status, COUNT(*) AS count").
		Where("owner_id = ?", ownerID).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return nil, err
	}

	var paid []models.Order
	err = r.db.WithContext(ctx).
		Select("total").
		Where("owner_id = ? AND is_paid = ?", ownerID, true).
		Find(&paid).Error
	if err != nil {
		return nil, err
	}

	stats := &OrderStats{ByStatus: make(map[enums.OrderStatus]int64, len(counts)), TotalSpent: decimal.Zero}
	for _, row := range counts {
		stats.ByStatus[row.Status] = row.Count
		stats.TotalOrders += row.Count
	}
	for _, order := range paid {
		stats.TotalSpent = stats.TotalSpent.Add(order.Total)
	}
	return stats, nil
}

func summarize(order models.Order) OrderSummary {
	items := 0
	for _, item := range order.LineItems {
		items += item.Quantity
	}
	return OrderSummary{
		ID:         order.ID,
		Status:     order.Status,
		IsPaid:     order.IsPaid,
		Total:      order.Total,
		Currency:   order.Currency,
		TotalItems: items,
		CreatedAt:  order.CreatedAt,
	}
}
