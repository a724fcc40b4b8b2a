package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

// OutboxEvent is written in the same transaction as the state change it
// announces and published later by the relay. PublishedAt stays nil until
// the broker acknowledges.
type OutboxEvent struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	EventType     enums.OutboxEventType     `gorm:"column:event_type;type:varchar(64);not null"`
	AggregateType enums.OutboxAggregateType `gorm:"column:aggregate_type;type:varchar(32);not null"`
	AggregateID   string                    `gorm:"column:aggregate_id;type:varchar(64);not null;index"`
	Payload       json.RawMessage           `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
	PublishedAt   *time.Time                `gorm:"column:published_at"`
	AttemptCount  int                       `gorm:"column:attempt_count;not null;default:0"`
	LastError     *string                   `gorm:"column:last_error"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }

func (e *OutboxEvent) BeforeCreate(*gorm.DB) error {
	ensureID(&e.ID)
	return nil
}

// OutboxDLQ holds a row the relay gave up on. EventID points at the original
// outbox_events row, which stays parked at the attempt ceiling until retention
// removes it.
type OutboxDLQ struct {
	ID            uuid.UUID                  `gorm:"column:id;type:uuid;primaryKey"`
	EventID       uuid.UUID                  `gorm:"column:event_id;type:uuid;not null"`
	EventType     enums.OutboxEventType      `gorm:"column:event_type;type:varchar(64);not null"`
	AggregateType enums.OutboxAggregateType  `gorm:"column:aggregate_type;type:varchar(32);not null"`
	AggregateID   string                     `gorm:"column:aggregate_id;type:varchar(64);not null"`
	Payload       json.RawMessage            `gorm:"column:payload_json;type:jsonb;not null"`
	ErrorReason   enums.OutboxDLQErrorReason `gorm:"column:error_reason;type:varchar(32);not null"`
	ErrorMessage  *string                    `gorm:"column:error_message"`
	AttemptCount  int                        `gorm:"column:attempt_count;not null;default:0"`
	FailedAt      time.Time                  `gorm:"column:failed_at;index"`
	CreatedAt     time.Time                  `gorm:"column:created_at;autoCreateTime"`
}

func (OutboxDLQ) TableName() string { return "outbox_dlq" }

func (d *OutboxDLQ) BeforeCreate(*gorm.DB) error {
	ensureID(&d.ID)
	return nil
}
