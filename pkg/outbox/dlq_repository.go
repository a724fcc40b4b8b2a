package outbox

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// dlqErrorLimit bounds error_message; broker errors can embed whole payloads.
const dlqErrorLimit = 1024

var ErrDLQEntryNotFound = errors.New("dead-letter entry not found")

// DLQRepository stores outbox events the publisher gave up on, and lets an
// operator push them back into outbox_events once the cause is fixed.
type DLQRepository struct {
	db *gorm.DB
}

func NewDLQRepository(db *gorm.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

// DLQPage is one newest-first page of dead-lettered events.
type DLQPage struct {
	Entries    []models.OutboxDLQ `json:"entries"`
	NextCursor string             `json:"next_cursor,omitempty"`
}

func (r *DLQRepository) InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error {
	if tx == nil {
		return errNoTx
	}
	if entry.ErrorMessage != nil {
		msg := clip(*entry.ErrorMessage, dlqErrorLimit)
		entry.ErrorMessage = &msg
	}
	if entry.FailedAt.IsZero() {
		entry.FailedAt = time.Now().UTC()
	}
	return tx.Create(&entry).Error
}

func (r *DLQRepository) List(ctx context.Context, params pagination.Params) (*DLQPage, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, err
	}
	var rows []models.OutboxDLQ
	err = r.db.WithContext(ctx).
		Scopes(pagination.After(cursor, "created_at", "id")).
		Limit(pagination.LimitWithBuffer(params.Limit)).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	rows, next := pagination.Split(rows, params.Limit, func(d models.OutboxDLQ) pagination.Cursor {
		return pagination.Cursor{CreatedAt: d.CreatedAt, ID: d.ID.String()}
	})
	return &DLQPage{Entries: rows, NextCursor: next}, nil
}

// Requeue moves a dead-lettered event back into outbox_events with a fresh
// attempt budget, in one transaction. The original event id is kept in the
// payload envelope so consumers can still dedupe.
func (r *DLQRepository) Requeue(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error) {
	var requeued models.OutboxEvent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.OutboxDLQ
		if err := tx.Where("id = ?", id).Take(&entry).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrDLQEntryNotFound
			}
			return err
		}
		requeued = models.OutboxEvent{
			EventType:     entry.EventType,
			AggregateType: entry.AggregateType,
			AggregateID:   entry.AggregateID,
			Payload:       entry.Payload,
		}
		if err := tx.Create(&requeued).Error; err != nil {
			return err
		}
		return tx.Delete(&models.OutboxDLQ{}, "id = ?", entry.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &requeued, nil
}

// DeleteFailedBefore drops up to batch dead letters that failed before cutoff.
func (r *DLQRepository) DeleteFailedBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error) {
	ids := r.db.WithContext(ctx).
		Model(&models.OutboxDLQ{}).
		Select("id").
		Where("failed_at < ?", cutoff).
		Order("failed_at ASC").
		Limit(batch)
	res := r.db.WithContext(ctx).Where("id IN (?)", ids).Delete(&models.OutboxDLQ{})
	return res.RowsAffected, res.Error
}
