package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	defaultReclaimAfter = 24 * time.Hour
	defaultBatchSize    = 100
)

type expiredOrderSweeper interface {
	ExpiredPendingOrderIDs(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	ExpirePendingOrder(ctx context.Context, orderID string, cutoff time.Time) (bool, error)
}

// PendingOrderJobParams configure the sweep that returns stock held by
// abandoned orders.
type PendingOrderJobParams struct {
	Logger       *logger.Logger
	Orders       expiredOrderSweeper
	ReclaimAfter time.Duration
	BatchSize    int
}

func NewPendingOrderJob(params PendingOrderJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Orders == nil {
		return nil, fmt.Errorf("order sweeper required")
	}
	reclaim := params.ReclaimAfter
	if reclaim <= 0 {
		reclaim = defaultReclaimAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &pendingOrderJob{
		logg:    params.Logger,
		orders:  params.Orders,
		reclaim: reclaim,
		batch:   batch,
		now:     time.Now,
	}, nil
}

type pendingOrderJob struct {
	logg    *logger.Logger
	orders  expiredOrderSweeper
	reclaim time.Duration
	batch   int
	now     func() time.Time
}

func (j *pendingOrderJob) Name() string { return "pending-order-sweep" }

// Run expires one batch per cycle; a backlog drains over successive cycles.
func (j *pendingOrderJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.reclaim)
	ids, err := j.orders.ExpiredPendingOrderIDs(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list expired pending orders: %w", err)
	}

	var (
		expired int
		errs    error
	)
	for _, id := range ids {
		ok, err := j.orders.ExpirePendingOrder(ctx, id, cutoff)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("expire %s: %w", id, err))
			continue
		}
		if ok {
			expired++
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":     cutoff,
		"candidates": len(ids),
		"expired":    expired,
	}), "pending order sweep complete")
	return errs
}
