// Package stripe installs the processor credentials and exposes the handful
// of checkout and refund calls the payment adapter makes.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const defaultCurrency = "usd"

// keyPrefixes lists the secret and restricted key prefixes accepted per environment.
var keyPrefixes = map[string][]string{
	"test": {"sk_test", "rk_test"},
	"live": {"sk_live", "rk_live"},
}

// Client holds the validated settings. The stripe-go resource packages read
// the package-level key that NewClient installs.
type Client struct {
	environment   string
	signingSecret string
	currency      string
}

func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := strings.ToLower(strings.TrimSpace(cfg.Environment()))
	if env == "" {
		env = "test"
	}
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return nil, fmt.Errorf("stripe environment must be %q or %q", "test", "live")
	}

	key := strings.TrimSpace(cfg.APIKey)
	secret := strings.TrimSpace(cfg.WebhookSecret)
	switch {
	case key == "":
		return nil, errors.New("stripe api key is required")
	case secret == "":
		return nil, errors.New("stripe webhook secret is required")
	case !slices.ContainsFunc(prefixes, func(p string) bool { return strings.HasPrefix(key, p) }):
		return nil, fmt.Errorf("stripe environment %q requires a key starting with %s", env, strings.Join(prefixes, " or "))
	}

	stripe.Key = key
	if logg != nil {
		logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client initialized")
	}

	currency := strings.ToLower(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	return &Client{environment: env, signingSecret: secret, currency: currency}, nil
}

// Currency is the ISO code every checkout session is created in.
func (c *Client) Currency() string {
	if c == nil || c.currency == "" {
		return defaultCurrency
	}
	return c.currency
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

// SigningSecret verifies webhook signatures.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}
