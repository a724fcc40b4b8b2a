package payments

import (
	"context"

	"github.com/stripe/stripe-go/v84"

	pkgstripe "github.com/angelmondragon/storefront-backend/pkg/stripe"
)

// Gateway is the subset of the processor API the payment adapter needs.
// *pkgstripe.Client is the live implementation.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	ExpireCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error)
	CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error)
	GetRefund(ctx context.Context, id string) (*stripe.Refund, error)
}

var _ Gateway = (*pkgstripe.Client)(nil)
