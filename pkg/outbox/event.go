package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const envelopeVersion = 1

// ActorRef is the user whose request produced the event.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope wraps every stored payload. EventID doubles as the
// consumer-side dedupe key.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DomainEvent is what services hand to Emit.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	Actor         *ActorRef
	Data          any
	OccurredAt    time.Time
}

func (e DomainEvent) validate() error {
	switch {
	case strings.TrimSpace(e.AggregateID) == "":
		return errors.New("aggregate id required")
	case e.Data == nil:
		return fmt.Errorf("%s: payload required", e.EventType)
	}
	return nil
}

func (e DomainEvent) occurred() time.Time {
	if e.OccurredAt.IsZero() {
		return time.Now().UTC()
	}
	return e.OccurredAt.UTC()
}

// Seal encodes event into the row that will be inserted. Each call mints a
// fresh EventID.
func Seal(event DomainEvent) (row models.OutboxEvent, env PayloadEnvelope, err error) {
	if err = event.validate(); err != nil {
		return row, env, err
	}
	env = PayloadEnvelope{
		Version:    envelopeVersion,
		EventID:    uuid.NewString(),
		OccurredAt: event.occurred(),
		Actor:      event.Actor,
	}
	if env.Data, err = json.Marshal(event.Data); err != nil {
		return row, PayloadEnvelope{}, fmt.Errorf("encode %s payload: %w", event.EventType, err)
	}
	row = models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
	}
	if row.Payload, err = json.Marshal(env); err != nil {
		return models.OutboxEvent{}, PayloadEnvelope{}, err
	}
	return row, env, nil
}

// Emitter writes events inside the caller's transaction so they commit or
// roll back with the state change that produced them.
type Emitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	row, env, err := Seal(event)
	if err != nil {
		return err
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return err
	}
	if s.logg != nil {
		s.logg.Debug(s.logg.WithFields(ctx, map[string]any{
			"event_id":     env.EventID,
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID,
		}), "outbox event queued")
	}
	return nil
}
