package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// TransactionRepository persists payment_transactions rows.
type TransactionRepository interface {
	WithTx(tx *gorm.DB) TransactionRepository
	Create(ctx context.Context, txn *models.PaymentTransaction) error
	Update(ctx context.Context, id uuid.UUID, updates map[string]any) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error)
	FindBySessionID(ctx context.Context, sessionID string) (*models.PaymentTransaction, error)
	LockBySessionID(ctx context.Context, sessionID string) (*models.PaymentTransaction, error)
	LockByPaymentReference(ctx context.Context, reference string) (*models.PaymentTransaction, error)
	FindPendingByOrder(ctx context.Context, orderID string) (*models.PaymentTransaction, error)
	FindLatestByOrder(ctx context.Context, orderID string) (*models.PaymentTransaction, error)
	FindLatestRefundedByOrder(ctx context.Context, orderID string) (*models.PaymentTransaction, error)
	FindCapturedByOrder(ctx context.Context, orderID string) (*models.PaymentTransaction, error)
	ListByOrder(ctx context.Context, orderID string) ([]models.PaymentTransaction, error)
	ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.PaymentTransaction, error)
	HasOtherCapture(ctx context.Context, orderID string, exclude uuid.UUID) (bool, error)
	RefundApplied(ctx context.Context, refundID string) (bool, error)
	RecordRefund(ctx context.Context, refund *models.PaymentRefund) error
	RefundedCents(ctx context.Context, transactionID uuid.UUID) (int64, error)
}

type transactionRepository struct {
	db *gorm.DB
}

func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) WithTx(tx *gorm.DB) TransactionRepository {
	if tx == nil {
		return r
	}
	return &transactionRepository{db: tx}
}

func (r *transactionRepository) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *transactionRepository) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *transactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*models.PaymentTransaction, error) {
	return r.first(r.db.WithContext(ctx).Where("id = ?", id))
}

func (r *transactionRepository) FindBySessionID(ctx context.Context, sessionID string) (*models.PaymentTransaction, error) {
	return r.first(r.db.WithContext(ctx).Where("external_session_id = ?", sessionID))
}

func (r *transactionRepository) LockBySessionID(ctx context.Context, sessionID string) (*models.PaymentTransaction, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_session_id = ?", sessionID))
}

func (r *transactionRepository) LockByPaymentReference(ctx context.Context, reference string) (*models.PaymentTransaction, error) {
	return r.first(r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("external_payment_reference = ?", reference).
		Order("created_at DESC"))
}

func (r *transactionRepository) FindPendingByOrder(ctx context.Context, orderID string) (*models.PaymentTransaction, error) {
	return r.first(r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusPending).
		Order("created_at DESC"))
}

func (r *transactionRepository) FindLatestByOrder(ctx context.Context, orderID string) (*models.PaymentTransaction, error) {
	return r.first(r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at DESC"))
}

func (r *transactionRepository) FindLatestRefundedByOrder(ctx context.Context, orderID string) (*models.PaymentTransaction, error) {
	return r.first(r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusRefunded).
		Order("updated_at DESC"))
}

func (r *transactionRepository) FindCapturedByOrder(ctx context.Context, orderID string) (*models.PaymentTransaction, error) {
	return r.first(r.db.WithContext(ctx).
		Where("order_id = ? AND status = ?", orderID, enums.PaymentStatusSuccess).
		Order("created_at DESC"))
}

func (r *transactionRepository) ListByOrder(ctx context.Context, orderID string) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&txns).Error
	return txns, err
}

func (r *transactionRepository) ListStalePending(ctx context.Context, before time.Time, limit int) ([]models.PaymentTransaction, error) {
	var txns []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.PaymentStatusPending, before).
		Order("created_at ASC").
		Limit(limit).
		Find(&txns).Error
	return txns, err
}

// HasOtherCapture reports whether a transaction other than exclude still holds
// a successful capture for the order.
func (r *transactionRepository) HasOtherCapture(ctx context.Context, orderID string, exclude uuid.UUID) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("order_id = ? AND status = ? AND id <> ?", orderID, enums.PaymentStatusSuccess, exclude).
		Count(&count).Error
	return count > 0, err
}

func (r *transactionRepository) RefundApplied(ctx context.Context, refundID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentRefund{}).
		Where("external_refund_id = ?", refundID).
		Count(&count).Error
	return count > 0, err
}

func (r *transactionRepository) RecordRefund(ctx context.Context, refund *models.PaymentRefund) error {
	return r.db.WithContext(ctx).Create(refund).Error
}

// RefundedCents sums the refunds recorded against a transaction.
func (r *transactionRepository) RefundedCents(ctx context.Context, transactionID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentRefund{}).
		Where("transaction_id = ?", transactionID).
		Select("COALESCE(SUM(amount_cents), 0)").
		Scan(&total).Error
	return total, err
}

func (r *transactionRepository) first(q *gorm.DB) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	if err := q.First(&txn).Error; err != nil {
		return nil, err
	}
	return &txn, nil
}
