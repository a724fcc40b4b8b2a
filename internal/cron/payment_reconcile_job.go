package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const defaultReconcileAfter = 15 * time.Minute

type pendingPaymentReconciler interface {
	ReconcilePending(ctx context.Context, olderThan time.Time, limit int) (int, error)
}

type PaymentReconcileJobParams struct {
	Logger         *logger.Logger
	Reconciler     pendingPaymentReconciler
	ReconcileAfter time.Duration
	BatchSize      int
}

// NewPaymentReconcileJob polls the processor for checkout attempts whose
// notifications never arrived.
func NewPaymentReconcileJob(params PaymentReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Reconciler == nil {
		return nil, fmt.Errorf("payment reconciler required")
	}
	after := params.ReconcileAfter
	if after <= 0 {
		after = defaultReconcileAfter
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &paymentReconcileJob{
		logg:       params.Logger,
		reconciler: params.Reconciler,
		after:      after,
		batch:      batch,
		now:        time.Now,
	}, nil
}

type paymentReconcileJob struct {
	logg       *logger.Logger
	reconciler pendingPaymentReconciler
	after      time.Duration
	batch      int
	now        func() time.Time
}

func (j *paymentReconcileJob) Name() string { return "payment-reconcile" }

func (j *paymentReconcileJob) Run(ctx context.Context) error {
	olderThan := j.now().UTC().Add(-j.after)
	settled, err := j.reconciler.ReconcilePending(ctx, olderThan, j.batch)
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"older_than": olderThan,
		"settled":    settled,
	}), "payment reconcile complete")
	if err != nil {
		return fmt.Errorf("reconcile pending payments: %w", err)
	}
	return nil
}
