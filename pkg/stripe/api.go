package stripe

import (
	"context"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/refund"
)

// The methods below bind ctx to the request params so cancellation and
// deadlines reach the HTTP call.

func (c *Client) CreateCheckoutSession(ctx context.Context, params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	if params == nil {
		params = &stripe.CheckoutSessionParams{}
	}
	params.Context = ctx
	return session.New(params)
}

func (c *Client) GetCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	return session.Get(id, params)
}

func (c *Client) ExpireCheckoutSession(ctx context.Context, id string) (*stripe.CheckoutSession, error) {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	return session.Expire(id, params)
}

func (c *Client) CreateRefund(ctx context.Context, params *stripe.RefundParams) (*stripe.Refund, error) {
	if params == nil {
		params = &stripe.RefundParams{}
	}
	params.Context = ctx
	return refund.New(params)
}

func (c *Client) GetRefund(ctx context.Context, id string) (*stripe.Refund, error) {
	params := &stripe.RefundParams{}
	params.Context = ctx
	return refund.Get(id, params)
}
