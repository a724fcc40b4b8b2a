package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/angelmondragon/storefront-backend/api/routes"
	"github.com/angelmondragon/storefront-backend/internal/app"
	"github.com/angelmondragon/storefront-backend/internal/bootstrap"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/tracing"
)

const (
	kind            = "api"
	shutdownTimeout = 15 * time.Second
)

func main() {
	rt, err := bootstrap.Start(context.Background(), kind, bootstrap.WithRedis())
	if err != nil {
		bootstrap.Fatal(kind, "startup failed", err)
	}
	defer rt.Close()
	cfg, logg := rt.Config, rt.Logger

	ctx, stop := rt.SignalContext()
	defer stop()
	ctx = logg.WithField(ctx, "port", cfg.App.Port)

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, "storefront-api")
	if err != nil {
		rt.Exit(ctx, "failed to init tracing", err)
	}
	rt.OnClose("tracing", func() error { return shutdownTracing(context.Background()) })

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if pool, err := rt.DB.SQL(); err == nil {
		reg.MustRegister(collectors.NewDBStatsCollector(pool, "storefront"))
	}

	services, err := app.Build(ctx, cfg, logg, rt.DB, rt.Redis, reg)
	if err != nil {
		rt.Exit(ctx, "failed to wire services", err)
	}

	router := routes.NewRouter(routes.Deps{
		Config:       cfg,
		Logger:       logg,
		DB:           rt.DB,
		Redis:        rt.Redis,
		Metrics:      promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		Orders:       services.Orders,
		PaymentViews: services.Payments,
		Checkout:     services.Checkout,
		Reconciler:   services.Reconciler,
		Stock:        services.Stock,
		Stripe:       services.Stripe,
		EventGuard:   services.EventGuard,
		DeadLetters:  outbox.NewDLQRepository(rt.DB.DB()),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           otelhttp.NewHandler(router, "storefront-api"),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logg.Info(ctx, "api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			rt.Exit(ctx, "api server failed", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.Error(shutdownCtx, "graceful shutdown failed", err)
	}
	logg.Info(ctx, "api shut down")
}
