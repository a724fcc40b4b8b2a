package outbox

import (
	"context"
	"errors"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
)

// maxErrorLen caps last_error so a huge broker message cannot bloat the row.
const maxErrorLen = 2000

var errNoTx = errors.New("transaction required")

// Repository reads and writes outbox_events. Every write except DeleteExpired
// runs inside the caller's transaction.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Insert(tx *gorm.DB, event models.OutboxEvent) error {
	if tx == nil {
		return errNoTx
	}
	return tx.Create(&event).Error
}

// ClaimBatch selects up to limit unpublished rows, oldest first. On postgres
// the rows stay locked FOR UPDATE SKIP LOCKED until tx ends, so parallel
// relays split the backlog instead of double-publishing it.
func (r *Repository) ClaimBatch(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error) {
	if tx == nil {
		return nil, errNoTx
	}
	q := tx.Where("published_at IS NULL")
	if maxAttempts > 0 {
		q = q.Where("attempt_count < ?", maxAttempts)
	}
	if tx.Dialector.Name() == "postgres" {
		q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
	}
	var rows []models.OutboxEvent
	err := q.Order("created_at ASC, id ASC").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repository) MarkPublished(tx *gorm.DB, id uuid.UUID) error {
	return update(tx, id, map[string]any{"published_at": time.Now().UTC()})
}

// MarkFailed records cause and spends one attempt.
func (r *Repository) MarkFailed(tx *gorm.DB, id uuid.UUID, cause error) error {
	return update(tx, id, map[string]any{
		"last_error":    truncateError(cause),
		"attempt_count": gorm.Expr("attempt_count + 1"),
	})
}

// MarkTerminal parks a row at the attempt ceiling so it is never claimed again.
func (r *Repository) MarkTerminal(tx *gorm.DB, id uuid.UUID, cause error, ceiling int) error {
	return update(tx, id, map[string]any{
		"last_error":    truncateError(cause),
		"attempt_count": ceiling,
	})
}

func update(tx *gorm.DB, id uuid.UUID, fields map[string]any) error {
	if tx == nil {
		return errNoTx
	}
	return tx.Model(&models.OutboxEvent{}).Where("id = ?", id).Updates(fields).Error
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}
	return clip(err.Error(), maxErrorLen)
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// DeleteExpired removes up to batch rows created before cutoff that were
// either published or abandoned at the attempt ceiling. Callers loop until it
// returns fewer than batch.
func (r *Repository) DeleteExpired(ctx context.Context, cutoff time.Time, minAttempts, batch int) (int64, error) {
	db := r.db.WithContext(ctx)
	expired := db.Model(&models.OutboxEvent{}).
		Select("id").
		Where("created_at < ?", cutoff).
		Where("published_at IS NOT NULL OR attempt_count >= ?", minAttempts).
		Order("created_at ASC").
		Limit(batch)
	res := db.Where("id IN (?)", expired).Delete(&models.OutboxEvent{})
	return res.RowsAffected, res.Error
}
