package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	defaultOutboxRetention = 30 * 24 * time.Hour
	defaultDLQRetention    = 90 * 24 * time.Hour
	defaultOutboxAttempts  = 10
	retentionBatchSize     = 500
)

type expiredEventPurger interface {
	DeleteExpired(ctx context.Context, cutoff time.Time, minAttempts, batch int) (int64, error)
}

type deadLetterPurger interface {
	DeleteFailedBefore(ctx context.Context, cutoff time.Time, batch int) (int64, error)
}

// OutboxRetentionJobParams configure outbox cleanup. MinAttempts should equal
// the publisher's attempt ceiling so only abandoned unpublished rows go.
// DeadLetters is optional; without it the DLQ is never pruned.
type OutboxRetentionJobParams struct {
	Logger        *logger.Logger
	Events        expiredEventPurger
	DeadLetters   deadLetterPurger
	RetentionDays int
	DLQDays       int
	MinAttempts   int
	BatchSize     int
}

type outboxRetentionJob struct {
	logg         *logger.Logger
	events       expiredEventPurger
	deadLetters  deadLetterPurger
	retention    time.Duration
	dlqRetention time.Duration
	minAttempts  int
	batch        int
	now          func() time.Time
}

func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:         params.Logger,
		events:       params.Events,
		deadLetters:  params.DeadLetters,
		retention:    days(params.RetentionDays, defaultOutboxRetention),
		dlqRetention: days(params.DLQDays, defaultDLQRetention),
		minAttempts:  params.MinAttempts,
		batch:        params.BatchSize,
		now:          time.Now,
	}
	if job.minAttempts <= 0 {
		job.minAttempts = defaultOutboxAttempts
	}
	if job.batch <= 0 {
		job.batch = retentionBatchSize
	}
	return job, nil
}

func days(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * 24 * time.Hour
}

func (j *outboxRetentionJob) Name() string { return "outbox-retention" }

// Run deletes in batches so no single statement holds locks on a large range
// of the outbox while the publisher is claiming rows.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	now := j.now().UTC()
	eventCutoff := now.Add(-j.retention)
	events, err := drain(ctx, j.batch, func(ctx context.Context) (int64, error) {
		return j.events.DeleteExpired(ctx, eventCutoff, j.minAttempts, j.batch)
	})
	if err != nil {
		return fmt.Errorf("purge outbox events: %w", err)
	}

	var dead int64
	dlqCutoff := now.Add(-j.dlqRetention)
	if j.deadLetters != nil {
		dead, err = drain(ctx, j.batch, func(ctx context.Context) (int64, error) {
			return j.deadLetters.DeleteFailedBefore(ctx, dlqCutoff, j.batch)
		})
		if err != nil {
			return fmt.Errorf("purge dead letters: %w", err)
		}
	}

	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"event_cutoff":    eventCutoff,
		"dlq_cutoff":      dlqCutoff,
		"min_attempts":    j.minAttempts,
		"events_deleted":  events,
		"letters_deleted": dead,
	}), "outbox retention cleanup complete")
	return nil
}

// drain repeats step until a short batch comes back or ctx ends.
func drain(ctx context.Context, batch int, step func(context.Context) (int64, error)) (int64, error) {
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := step(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if n < int64(batch) {
			return total, nil
		}
	}
}
