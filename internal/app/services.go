// Package app assembles the order, payment and reconciliation services shared
// by the api and cron-worker binaries.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/internal/stock"
	stripewebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/storefront-backend/pkg/cache"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

// Services is the wired domain graph.
type Services struct {
	Stripe     *pkgstripe.Client
	Gateway    *payments.BreakerGateway
	Stock      *stock.Ledger
	Payments   *payments.Service
	Orders     *orders.Manager
	Checkout   *checkout.Service
	Reconciler *stripewebhook.Reconciler
	EventGuard *stripewebhook.EventGuard
	Metrics    *metrics.CommerceMetrics
}

// Build wires repositories, the breaker-guarded processor gateway and the
// services on top of them. reg receives the commerce counters.
func Build(ctx context.Context, cfg *config.Config, logg *logger.Logger, dbClient *db.Client, redisClient *redis.Client, reg prometheus.Registerer) (*Services, error) {
	commerce := metrics.NewCommerceMetrics(reg)

	stripeClient, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
	if err != nil {
		return nil, fmt.Errorf("stripe client: %w", err)
	}
	gateway := payments.NewBreakerGateway(stripeClient, cfg.Stripe, logg)

	gormDB := dbClient.DB()
	orderRepo := orders.NewRepository(gormDB)
	txnRepo := payments.NewTransactionRepository(gormDB)
	ledger := stock.NewLedger(gormDB)
	emitter := outbox.NewService(outbox.NewRepository(gormDB), logg)

	readCache, err := cache.NewRedisCache(redisClient)
	if err != nil {
		return nil, fmt.Errorf("order cache: %w", err)
	}

	transitions, err := orders.NewTransitions(orders.TransitionsParams{
		Repo:     orderRepo,
		Ledger:   ledger,
		Outbox:   emitter,
		Cache:    readCache,
		CacheKey: redisClient.CacheKey,
		Metrics:  commerce,
		Logger:   logg,
	})
	if err != nil {
		return nil, fmt.Errorf("order transitions: %w", err)
	}

	paymentsSvc, err := payments.NewService(payments.ServiceParams{
		Gateway:      gateway,
		DB:           dbClient,
		Transactions: txnRepo,
		Orders:       transitions,
		Locks:        redisClient,
		Stripe:       cfg.Stripe,
		LockTTL:      cfg.Checkout.SessionLockTTL,
		Logger:       logg,
	})
	if err != nil {
		return nil, fmt.Errorf("payments service: %w", err)
	}

	manager, err := orders.NewManager(orders.ManagerParams{
		Repo:         orderRepo,
		DB:           dbClient,
		Ledger:       ledger,
		Transitions:  transitions,
		Transactions: txnRepo,
		Payments:     paymentsSvc,
		Outbox:       emitter,
		Cache:        readCache,
		CacheKey:     redisClient.CacheKey,
		CacheTTL:     cfg.Orders.CacheTTL,
		Currency:     stripeClient.Currency(),
		Metrics:      commerce,
		Logger:       logg,
	})
	if err != nil {
		return nil, fmt.Errorf("orders manager: %w", err)
	}

	checkoutSvc, err := checkout.NewService(manager, paymentsSvc, cfg.Checkout.ReuseWindow, logg)
	if err != nil {
		return nil, fmt.Errorf("checkout service: %w", err)
	}

	reconciler, err := stripewebhook.NewReconciler(stripewebhook.ReconcilerParams{
		DB:           dbClient,
		Transactions: txnRepo,
		Orders:       transitions,
		Payments:     paymentsSvc,
		Outbox:       emitter,
		Metrics:      commerce,
		Logger:       logg,
	})
	if err != nil {
		return nil, fmt.Errorf("payment reconciler: %w", err)
	}

	guard, err := stripewebhook.NewEventGuard(redisClient, cfg.Idempotency.WebhookTTL)
	if err != nil {
		return nil, fmt.Errorf("webhook event guard: %w", err)
	}

	return &Services{
		Stripe:     stripeClient,
		Gateway:    gateway,
		Stock:      ledger,
		Payments:   paymentsSvc,
		Orders:     manager,
		Checkout:   checkoutSvc,
		Reconciler: reconciler,
		EventGuard: guard,
		Metrics:    commerce,
	}, nil
}
