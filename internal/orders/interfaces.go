package orders

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// Repository defines persistence operations for orders and their line items.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	OrderIDExists(ctx context.Context, id string) (bool, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	FindOrder(ctx context.Context, id string) (*models.Order, error)
	LockOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrder(ctx context.Context, id string, updates map[string]any) error
	UpdateLineItemQuantity(ctx context.Context, itemID uuid.UUID, quantity int) error
	ListOrders(ctx context.Context, ownerID uuid.UUID, filters ListFilters, params pagination.Params) (*OrderList, error)
	ListPendingSince(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]models.Order, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	Stats(ctx context.Context, ownerID uuid.UUID) (*OrderStats, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// StockLedger is the only path for quantity changes.
type StockLedger interface {
	CheckAvailability(ctx context.Context, tx *gorm.DB, unitID uuid.UUID, qty int) (bool, error)
	Reduce(ctx context.Context, tx *gorm.DB, unitID uuid.UUID, qty int) (*models.StockUnit, error)
	Increase(ctx context.Context, tx *gorm.DB, unitID uuid.UUID, qty int) (*models.StockUnit, error)
	Snapshot(ctx context.Context, tx *gorm.DB, unitIDs []uuid.UUID) (map[uuid.UUID]models.StockUnit, error)
	Get(ctx context.Context, unitID uuid.UUID) (*models.StockUnit, error)
}

// PaymentProcessor is the slice of the payment adapter that compensations call
// after the local transaction commits.
type PaymentProcessor interface {
	IssueRefund(ctx context.Context, txn models.PaymentTransaction, reason string) payments.RefundResult
	ExpireSession(ctx context.Context, sessionID string) error
}
