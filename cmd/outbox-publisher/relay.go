package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
)

const (
	publishTimeout = 15 * time.Second
	maxIdleBackoff = 10 * time.Second
	jitterWindow   = 250 * time.Millisecond
)

type txRunner interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

// sink is the broker rows are forwarded to (kafka or pubsub).
type sink interface {
	Publish(ctx context.Context, topic string, msg outbox.Message) error
	Ping(context.Context) error
}

type eventStore interface {
	ClaimBatch(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublished(tx *gorm.DB, id uuid.UUID) error
	MarkFailed(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminal(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetterStore interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// outcome is what happened to one claimed row.
type outcome string

const (
	outcomePublished    outcome = "published"
	outcomeRetry        outcome = "retry"
	outcomeDeadLettered outcome = "dead_lettered"
)

type RelayParams struct {
	Outbox      config.OutboxConfig
	Logger      *logger.Logger
	DB          txRunner
	Sink        sink
	SinkName    string
	Events      eventStore
	Registry    resolver
	DeadLetters deadLetterStore
	Metrics     *metrics.OutboxMetrics
}

// Relay drains outbox_events to the broker. Rows are claimed with SKIP LOCKED
// inside one transaction per batch, so several replicas can run side by side
// and a crash mid-batch leaves every row claimable again.
type Relay struct {
	logg        *logger.Logger
	db          txRunner
	sink        sink
	sinkName    string
	events      eventStore
	registry    resolver
	dlq         deadLetterStore
	metrics     *metrics.OutboxMetrics
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func NewRelay(p RelayParams) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.DB == nil:
		return nil, errors.New("database client is required")
	case p.Sink == nil:
		return nil, errors.New("outbox sink is required")
	case p.Events == nil:
		return nil, errors.New("outbox repository is required")
	case p.Registry == nil:
		return nil, errors.New("event registry is required")
	case p.DeadLetters == nil:
		return nil, errors.New("dlq repository is required")
	}
	name := p.SinkName
	if name == "" {
		name = p.Outbox.SinkName()
	}
	return &Relay{
		logg:        p.Logger,
		db:          p.DB,
		sink:        p.Sink,
		sinkName:    name,
		events:      p.Events,
		registry:    p.Registry,
		dlq:         p.DeadLetters,
		metrics:     p.Metrics,
		batchSize:   positive(p.Outbox.BatchSize, 50),
		maxAttempts: positive(p.Outbox.MaxAttempts, 10),
		poll:        time.Duration(positive(p.Outbox.PollIntervalMS, 500)) * time.Millisecond,
	}, nil
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

// Run pings both ends, then loops until ctx is cancelled. A full batch is
// followed immediately by the next one; an empty batch waits one poll
// interval; a failed batch backs off exponentially up to maxIdleBackoff.
func (r *Relay) Run(ctx context.Context) error {
	for name, ping := range map[string]func(context.Context) error{"database": r.db.Ping, r.sinkName: r.sink.Ping} {
		if err := ping(ctx); err != nil {
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}

	wait := r.poll
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.drainOnce(ctx)
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox batch failed", err)
			wait = min(wait*2, maxIdleBackoff)
		case n > 0:
			wait = r.poll
			continue
		default:
			wait = r.poll
		}
		if err := sleep(ctx, wait+rand.N(jitterWindow)); err != nil {
			return err
		}
	}
}

// drainOnce claims and handles one batch, returning how many rows it saw. An
// error means a bookkeeping write failed and the whole batch rolled back.
func (r *Relay) drainOnce(ctx context.Context) (int, error) {
	started := time.Now()
	var n int
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.events.ClaimBatch(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim batch: %w", err)
		}
		n = len(rows)
		for _, row := range rows {
			res, err := r.deliver(ctx, tx, row)
			if err != nil {
				return err
			}
			r.metrics.Delivery(string(row.EventType), string(res))
		}
		return nil
	})
	if n > 0 {
		r.metrics.ObserveBatch(time.Since(started))
	}
	return n, err
}

func (r *Relay) deliver(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) (outcome, error) {
	ctx = r.logg.WithFields(ctx, map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    row.EventType,
		"aggregate_id":  row.AggregateID,
		"attempt_count": row.AttemptCount,
		"sink":          r.sinkName,
	})

	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return outcomeDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	}
	ctx = r.logg.WithFields(ctx, map[string]any{
		"event_id": resolved.Envelope.EventID,
		"topic":    resolved.Descriptor.Topic,
	})

	err = r.publish(ctx, row, resolved)
	switch {
	case err == nil:
		if err := r.events.MarkPublished(tx, row.ID); err != nil {
			return "", fmt.Errorf("mark published %s: %w", row.ID, err)
		}
		r.logg.Info(ctx, "outbox event published")
		return outcomePublished, nil
	case registry.IsNonRetryable(err):
		return outcomeDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonNonRetryable, err)
	case row.AttemptCount+1 >= r.maxAttempts:
		err = fmt.Errorf("gave up after %d attempts: %w", row.AttemptCount+1, err)
		return outcomeDeadLettered, r.deadLetter(ctx, tx, row, enums.OutboxDLQReasonMaxAttempts, err)
	}

	r.logg.Warn(r.logg.WithField(ctx, "error", err.Error()), "outbox publish failed, will retry")
	if err := r.events.MarkFailed(tx, row.ID, err); err != nil {
		return "", fmt.Errorf("mark failed %s: %w", row.ID, err)
	}
	return outcomeRetry, nil
}

// publish sends the stored envelope untouched, keyed by aggregate so one
// order's events stay ordered within a partition.
func (r *Relay) publish(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	topic := resolved.Descriptor.Topic
	if topic == "" {
		return registry.NewNonRetryableError(fmt.Errorf("no topic for event type %s", row.EventType))
	}
	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	return r.sink.Publish(ctx, topic, outbox.Message{
		Key:  row.AggregateID,
		Data: row.Payload,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID,
			"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	})
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"error":        cause.Error(),
		"error_reason": reason,
	}), "outbox event dead-lettered")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       row.ID,
		EventType:     row.EventType,
		AggregateType: row.AggregateType,
		AggregateID:   row.AggregateID,
		Payload:       row.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  row.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := r.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", row.ID, err)
	}
	if err := r.events.MarkTerminal(tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", row.ID, err)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
