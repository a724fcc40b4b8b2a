package payments

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	defaultBreakerFailures = 5
	defaultBreakerTimeout  = 30 * time.Second
)

// BreakerGateway stops calling the processor after consecutive outages so
// checkout fails fast with a retriable error instead of piling up requests.
type BreakerGateway struct {
	next Gateway
	cb   *gobreaker.CircuitBreaker[any]
}

func NewBreakerGateway(next Gateway, cfg config.StripeConfig, logg *logger.Logger) *BreakerGateway {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	timeout := cfg.BreakerOpenTimeout
	if timeout <= 0 {
		timeout = defaultBreakerTimeout
	}
	settings := gobreaker.Settings{
		Name:        "stripe",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !isProcessorOutage(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logg == nil {
				return
			}
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "payment processor circuit breaker changed state")
		},
	}
	return &BreakerGateway{next: next, cb: gobreaker.NewCircuitBreaker[any](settings)}
}

// isProcessorOutage separates processor/network trouble from errors caused by
// the request itself (declined cards, bad parameters).
func isProcessorOutage(err error) bool {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		switch stripeErr.Type {
		case stripe.ErrorTypeCard, stripe.ErrorTypeInvalidRequest, stripe.ErrorTypeIdempotency:
			return false
		}
		return stripeErr.HTTPStatusCode == 0 ||
			stripeErr.HTTPStatusCode >= http.StatusInternalServerError ||
			stripeErr.HTTPStatusCode == http.StatusTooManyRequests
	}
	return !errors.Is(err, context.Canceled)
}

func execute[T any](b *BreakerGateway, fn func() (T, error)) (T, error) {
	var zero T
	out, err := b.cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, pkgerrors.External(err, "payment processor unavailable, please retry")
		}
		return zero, err
	}
	typed, _ := out.(T)
	return typed, nil
}

func (b *BreakerGateway) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	return execute(b, func() (*stripe.CheckoutSession, error) { return b.next.CreateCheckoutSession(ctx, params) })
}

func (b *BreakerGateway) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	return execute(b, func() (*stripe.CheckoutSession, error) { return b.next.GetCheckoutSession(ctx, id) })
}

func (b *BreakerGateway) ExpireCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	return execute(b, func() (*stripe.CheckoutSession, error) { return b.next.ExpireCheckoutSession(ctx, id) })
}

func (b *BreakerGateway) CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error) {
	return execute(b, func() (*stripe.Refund, error) { return b.next.CreateRefund(ctx, params) })
}

func (b *BreakerGateway) GetRefund(ctx context.Context, id string) (*stripe.Refund, error) {
	return execute(b, func() (*stripe.Refund, error) { return b.next.GetRefund(ctx, id) })
}

// State exposes the breaker state for readiness reporting.
func (b *BreakerGateway) State() string {
	return b.cb.State().String()
}
