// Package cron runs the periodic maintenance jobs: payment reconciliation,
// abandoned-order reclamation and outbox retention.
package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
)

const defaultInterval = 5 * time.Minute

// Job is one unit of periodic maintenance. Run should return once its batch
// is done; the scheduler calls it again next cycle.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Lock makes a cycle exclusive across worker replicas.
type Lock interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type SchedulerParams struct {
	Logger   *logger.Logger
	Lock     Lock
	Metrics  *metrics.CronJobMetrics
	Interval time.Duration
	// JobTimeout bounds a single job run. Zero means the cycle interval.
	JobTimeout time.Duration
	// Jobs run in slice order every cycle.
	Jobs []Job
}

// Scheduler runs its jobs in order, once per interval, on whichever replica
// holds the lock. A failing or panicking job does not stop the ones after it.
type Scheduler struct {
	logg     *logger.Logger
	lock     Lock
	metrics  *metrics.CronJobMetrics
	interval time.Duration
	timeout  time.Duration
	jobs     []Job
}

func NewScheduler(p SchedulerParams) (*Scheduler, error) {
	if p.Logger == nil {
		return nil, errors.New("logger required")
	}
	if p.Lock == nil {
		return nil, errors.New("lock required")
	}
	seen := make(map[string]bool, len(p.Jobs))
	jobs := make([]Job, 0, len(p.Jobs))
	for _, job := range p.Jobs {
		if job == nil {
			continue
		}
		if seen[job.Name()] {
			return nil, fmt.Errorf("cron job %q registered twice", job.Name())
		}
		seen[job.Name()] = true
		jobs = append(jobs, job)
	}
	interval := p.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	timeout := p.JobTimeout
	if timeout <= 0 {
		timeout = interval
	}
	return &Scheduler{
		logg:     p.Logger,
		lock:     p.Lock,
		metrics:  p.Metrics,
		interval: interval,
		timeout:  timeout,
		jobs:     jobs,
	}, nil
}

// Run ticks until ctx is cancelled, starting with an immediate cycle.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		if err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logg.Error(ctx, "cron cycle finished with errors", err)
		}
		select {
		case <-ctx.Done():
			s.logg.Info(ctx, "cron scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunOnce executes one cycle and returns every job failure combined. It is a
// no-op when another replica holds the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	locked, err := s.lock.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("lock acquire: %w", err)
	}
	if !locked {
		s.logg.Debug(ctx, "cron lock held elsewhere, skipping cycle")
		return nil
	}
	defer func() {
		if relErr := s.lock.Release(context.WithoutCancel(ctx)); relErr != nil {
			s.logg.Error(ctx, "failed to release cron lock", relErr)
		}
	}()

	for _, job := range s.jobs {
		if ctx.Err() != nil {
			return multierr.Append(err, ctx.Err())
		}
		err = multierr.Append(err, s.runJob(ctx, job))
	}
	return err
}

func (s *Scheduler) runJob(ctx context.Context, job Job) error {
	name := job.Name()
	ctx = s.logg.WithField(ctx, "job", name)
	jobCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	err := invoke(jobCtx, job)
	took := time.Since(start)
	s.metrics.ObserveDuration(name, took)

	ctx = s.logg.WithField(ctx, "duration_ms", took.Milliseconds())
	if err != nil {
		s.metrics.IncFailure(name)
		s.logg.Error(ctx, "cron job failed", err)
		return fmt.Errorf("%s: %w", name, err)
	}
	s.metrics.IncSuccess(name)
	s.logg.Debug(ctx, "cron job completed")
	return nil
}

func invoke(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(ctx)
}
