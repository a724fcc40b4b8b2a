package cron

import (
	"context"
	"errors"
	"testing"
	"time"
)

// batchPurger pretends to hold remaining rows and hands them out batch by batch.
type batchPurger struct {
	remaining   int64
	err         error
	calls       int
	cutoff      time.Time
	minAttempts int
}

func (p *batchPurger) take(batch int) (int64, error) {
	p.calls++
	if p.err != nil {
		return 0, p.err
	}
	n := min(p.remaining, int64(batch))
	p.remaining -= n
	return n, nil
}

func (p *batchPurger) DeleteExpired(_ context.Context, cutoff time.Time, minAttempts, batch int) (int64, error) {
	p.cutoff, p.minAttempts = cutoff, minAttempts
	return p.take(batch)
}

func (p *batchPurger) DeleteFailedBefore(_ context.Context, cutoff time.Time, batch int) (int64, error) {
	p.cutoff = cutoff
	return p.take(batch)
}

func newRetentionJob(t *testing.T, params OutboxRetentionJobParams) *outboxRetentionJob {
	t.Helper()
	params.Logger = testLogger()
	job, err := NewOutboxRetentionJob(params)
	if err != nil {
		t.Fatalf("NewOutboxRetentionJob: %v", err)
	}
	return job.(*outboxRetentionJob)
}

func TestOutboxRetentionDrainsInBatches(t *testing.T) {
	now := time.Date(2026, 2, 10, 0, 0, 0, 0, time.UTC)
	events := &batchPurger{remaining: 25}
	letters := &batchPurger{remaining: 3}
	job := newRetentionJob(t, OutboxRetentionJobParams{
		Events:        events,
		DeadLetters:   letters,
		RetentionDays: 7,
		DLQDays:       30,
		MinAttempts:   5,
		BatchSize:     10,
	})
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if events.remaining != 0 || events.calls != 3 {
		t.Fatalf("expected 3 batches draining all events, got calls=%d remaining=%d", events.calls, events.remaining)
	}
	if !events.cutoff.Equal(now.Add(-7*24*time.Hour)) || events.minAttempts != 5 {
		t.Fatalf("unexpected event purge args cutoff=%s attempts=%d", events.cutoff, events.minAttempts)
	}
	if letters.remaining != 0 || !letters.cutoff.Equal(now.Add(-30*24*time.Hour)) {
		t.Fatalf("unexpected dlq purge state %+v", letters)
	}
}

func TestOutboxRetentionDefaults(t *testing.T) {
	job := newRetentionJob(t, OutboxRetentionJobParams{Events: &batchPurger{}})
	if job.retention != defaultOutboxRetention || job.minAttempts != defaultOutboxAttempts || job.batch != retentionBatchSize {
		t.Fatalf("unexpected defaults %+v", job)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run without dead letters: %v", err)
	}
}

func TestOutboxRetentionPropagatesError(t *testing.T) {
	job := newRetentionJob(t, OutboxRetentionJobParams{Events: &batchPurger{err: errors.New("boom")}})
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestOutboxRetentionStopsOnCancelledContext(t *testing.T) {
	events := &batchPurger{remaining: 100}
	job := newRetentionJob(t, OutboxRetentionJobParams{Events: events, BatchSize: 10})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := job.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if events.calls != 0 {
		t.Fatalf("expected no batches after cancel, got %d", events.calls)
	}
}
