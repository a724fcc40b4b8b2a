package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/internal/app"
	"github.com/angelmondragon/storefront-backend/internal/bootstrap"
	"github.com/angelmondragon/storefront-backend/internal/cron"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

const kind = "cron-worker"

func main() {
	rt, err := bootstrap.Start(context.Background(), kind, bootstrap.WithRedis())
	if err != nil {
		bootstrap.Fatal(kind, "startup failed", err)
	}
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	ctx, stop := rt.SignalContext()
	defer stop()

	services, err := app.Build(ctx, cfg, logg, rt.DB, rt.Redis, prometheus.DefaultRegisterer)
	if err != nil {
		rt.Exit(ctx, "failed to wire services", err)
	}
	lock, err := redis.NewLock(rt.Redis, rt.Redis.LockKey(kind, envOrLocal(cfg.App.Env)), cfg.Cron.LockTTL)
	if err != nil {
		rt.Exit(ctx, "failed to create cron lock", err)
	}
	jobs, err := buildJobs(cfg, logg, services, rt.DB)
	if err != nil {
		rt.Exit(ctx, "failed to build cron jobs", err)
	}
	scheduler, err := cron.NewScheduler(cron.SchedulerParams{
		Logger:     logg,
		Lock:       lock,
		Metrics:    metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:   cfg.Cron.Interval,
		JobTimeout: cfg.Cron.JobTimeout,
		Jobs:       jobs,
	})
	if err != nil {
		rt.Exit(ctx, "failed to create cron scheduler", err)
	}

	metrics.ServeOps(ctx, ":"+cfg.App.Port, metrics.OpsHandler(prometheus.DefaultGatherer, rt.DB.Ping), logg)

	logg.Info(ctx, "starting cron worker")
	if err := scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Exit(ctx, "cron worker stopped unexpectedly", err)
	}
	logg.Info(ctx, "cron worker shut down")
}

func envOrLocal(env string) string {
	if env == "" {
		return "local"
	}
	return env
}

// buildJobs returns the jobs in run order: reconcile payments first so a
// late capture is applied before its order could be swept as abandoned.
func buildJobs(cfg *config.Config, logg *logger.Logger, services *app.Services, dbClient *db.Client) ([]cron.Job, error) {
	reconcile, err := cron.NewPaymentReconcileJob(cron.PaymentReconcileJobParams{
		Logger:         logg,
		Reconciler:     services.Reconciler,
		ReconcileAfter: cfg.Cron.ReconcileAfter,
		BatchSize:      cfg.Cron.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}
	sweep, err := cron.NewPendingOrderJob(cron.PendingOrderJobParams{
		Logger:       logg,
		Orders:       services.Orders,
		ReclaimAfter: cfg.Orders.PendingReclaimAfter,
		BatchSize:    cfg.Cron.SweepBatchSize,
	})
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		Events:        outbox.NewRepository(dbClient.DB()),
		DeadLetters:   outbox.NewDLQRepository(dbClient.DB()),
		RetentionDays: cfg.Outbox.RetentionDays,
		DLQDays:       cfg.Outbox.DLQRetentionDays,
		MinAttempts:   cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	return []cron.Job{reconcile, sweep, retention}, nil
}
