package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/storefront-backend/api/controllers/orders"
	webhookcontrollers "github.com/angelmondragon/storefront-backend/api/controllers/webhooks"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	stripewebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/stripe"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

// RedisStore is what the HTTP edge needs from redis.
type RedisStore interface {
	redis.IdempotencyStore
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
	Ping(ctx context.Context) error
}

// CheckoutService opens payment for new or pending orders.
type CheckoutService interface {
	Checkout(ctx context.Context, input checkoutsvc.CheckoutInput) (*checkoutsvc.CheckoutResult, error)
	ContinuePayment(ctx context.Context, ownerID uuid.UUID, orderID string) (*checkoutsvc.CheckoutResult, error)
}

// PaymentReconciler applies processor events and the verify fallback.
type PaymentReconciler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
	VerifySession(ctx context.Context, ownerID uuid.UUID, sessionID string) (*stripewebhook.VerifyResult, error)
}

// StockLedger is the read and admin surface of stock.
type StockLedger interface {
	Get(ctx context.Context, unitID uuid.UUID) (*models.StockUnit, error)
	CheckAvailability(ctx context.Context, tx *gorm.DB, unitID uuid.UUID, qty int) (bool, error)
	LowStock(ctx context.Context, threshold, limit int) ([]models.StockUnit, error)
	Delete(ctx context.Context, unitID uuid.UUID) error
}

type EventGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type SigningSecretSource interface {
	SigningSecret() string
}

// Deps gathers everything the router wires into handlers.
type Deps struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           controllers.Pinger
	Redis        RedisStore
	Metrics      http.Handler
	Orders       ordercontrollers.Service
	PaymentViews ordercontrollers.PaymentViews
	Checkout     CheckoutService
	Reconciler   PaymentReconciler
	Stock        StockLedger
	Stripe       SigningSecretSource
	EventGuard   EventGuard
	DeadLetters  controllers.DeadLetters
}

func NewRouter(d Deps) http.Handler {
	cfg := d.Config
	logg := d.Logger
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins()),
	)

	checkoutPolicy := middleware.RateLimitPolicy{
		Name:   "checkout",
		Window: cfg.RateLimit.CheckoutWindow,
		Limit:  cfg.RateLimit.CheckoutLimit,
	}
	reserveLimit := middleware.RateLimit(checkoutPolicy, d.Redis, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg.App.Env))
		r.Get("/ready", controllers.HealthReady(cfg.App.Env, readinessDeps(d), logg))
	})
	if d.Metrics != nil {
		r.Handle("/metrics", d.Metrics)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(d.Reconciler, d.Stripe, d.EventGuard, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(d.Redis, cfg.Idempotency.TTL, logg))

		r.With(reserveLimit).Post("/checkout", controllers.Checkout(d.Checkout, logg))
		r.Post("/payments/verify", controllers.VerifyPayment(d.Reconciler, logg))
		r.Get("/stock/{unitId}/availability", controllers.StockAvailability(d.Stock, logg))

		r.Route("/orders", func(r chi.Router) {
			r.With(reserveLimit).Post("/", ordercontrollers.Create(d.Orders, logg))
			r.Get("/", ordercontrollers.List(d.Orders, logg))
			r.Get("/stats", ordercontrollers.Stats(d.Orders, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Get("/", ordercontrollers.Detail(d.Orders, logg))
				r.Patch("/items/{itemId}", ordercontrollers.UpdateItem(d.Orders, logg))
				r.Post("/cancel", ordercontrollers.Cancel(d.Orders, logg))
				r.Post("/continue-payment", controllers.ContinuePayment(d.Checkout, logg))
				r.Post("/refund", ordercontrollers.Refund(d.Orders, logg))
				r.Get("/payment-status", ordercontrollers.PaymentStatus(d.Orders, d.PaymentViews, logg))
				r.Get("/refund-status", ordercontrollers.RefundStatus(d.Orders, d.PaymentViews, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.RoleAdmin, logg))
		r.Use(middleware.Idempotency(d.Redis, cfg.Idempotency.TTL, logg))
		r.Patch("/orders/{orderId}/status", ordercontrollers.AdminUpdateStatus(d.Orders, logg))
		r.Get("/stock/low", controllers.AdminLowStock(d.Stock, logg))
		r.Delete("/stock/{unitId}", controllers.AdminDeleteStockUnit(d.Stock, logg))
		r.Get("/outbox/dead-letters", controllers.AdminListDeadLetters(d.DeadLetters, logg))
		r.Post("/outbox/dead-letters/{entryId}/requeue", controllers.AdminRequeueDeadLetter(d.DeadLetters, logg))
	})

	return r
}

func readinessDeps(d Deps) map[string]controllers.Pinger {
	deps := map[string]controllers.Pinger{}
	if d.DB != nil {
		deps["db"] = d.DB
	}
	if d.Redis != nil {
		deps["redis"] = d.Redis
	}
	return deps
}
