package main

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/angelmondragon/storefront-backend/internal/bootstrap"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/kafka"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/outbox/registry"
	"github.com/angelmondragon/storefront-backend/pkg/pubsub"
)

const kind = "outbox-publisher"

func main() {
	rt, err := bootstrap.Start(context.Background(), kind)
	if err != nil {
		bootstrap.Fatal(kind, "startup failed", err)
	}
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	ctx, stop := rt.SignalContext()
	defer stop()
	ctx = logg.WithField(ctx, "sink", cfg.Outbox.SinkName())

	routes, err := registry.NewEventRegistry(cfg.Eventing)
	if err != nil {
		rt.Exit(ctx, "failed to build event registry", err)
	}
	sink, err := newSink(ctx, cfg, routes.Topics(), logg)
	if err != nil {
		rt.Exit(ctx, "failed to connect outbox sink", err)
	}
	rt.OnClose("outbox sink", sink.Close)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	relay, err := NewRelay(RelayParams{
		Outbox:      cfg.Outbox,
		Logger:      logg,
		DB:          rt.DB,
		Sink:        sink,
		Events:      outbox.NewRepository(rt.DB.DB()),
		Registry:    routes,
		DeadLetters: outbox.NewDLQRepository(rt.DB.DB()),
		Metrics:     metrics.NewOutboxMetrics(reg),
	})
	if err != nil {
		rt.Exit(ctx, "failed to create outbox relay", err)
	}

	metrics.ServeOps(ctx, ":"+cfg.App.Port, metrics.OpsHandler(reg, rt.DB.Ping), logg)

	logg.Info(ctx, "starting outbox publisher")
	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		rt.Exit(ctx, "outbox publisher stopped unexpectedly", err)
	}
	logg.Info(ctx, "outbox publisher shut down")
}

func newSink(ctx context.Context, cfg *config.Config, topics []string, logg *logger.Logger) (outbox.Publisher, error) {
	if cfg.Outbox.SinkName() == config.OutboxSinkPubSub {
		return pubsub.NewClient(ctx, cfg.GCP, topics, logg)
	}
	return kafka.NewPublisher(ctx, cfg.Kafka, logg)
}
