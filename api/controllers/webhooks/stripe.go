package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// maxPayloadBytes bounds a single event body. Larger bodies are refused
// whole, never cut short, so the signature check always sees the full payload.
const maxPayloadBytes = 1 << 20

type PaymentEventHandler interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type eventGuard interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

type signingSecretSource interface {
	SigningSecret() string
}

// StripeWebhook verifies the signature of a payment event, claims its id and
// hands it to the reconciler. A failed attempt releases the claim and answers
// with an error status so the processor redelivers.
func StripeWebhook(svc PaymentEventHandler, client signingSecretSource, guard eventGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe client unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Newf(pkgerrors.CodePayloadTooLarge, "event body exceeds %d bytes", tooLarge.Limit))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEventWithOptions(payload, sigHeader, client.SigningSecret(), webhook.ConstructEventOptions{
			IgnoreAPIVersionMismatch: true,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature"))
			return
		}

		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": string(event.Type)})
		}

		claimed := false
		if guard != nil {
			ok, err := guard.Claim(ctx, event.ID)
			switch {
			case err != nil:
				// the reconciler tolerates replays; keep going without the claim
				if logg != nil {
					logg.Warn(logg.WithField(ctx, "error", err.Error()), "stripe.webhook.claim_unavailable")
				}
			case !ok:
				if logg != nil {
					logg.Debug(ctx, "stripe.webhook.already_claimed")
				}
				responses.WriteSuccess(w, map[string]bool{"received": true})
				return
			default:
				claimed = true
			}
		}

		if err := svc.HandleEvent(ctx, &event); err != nil {
			if claimed {
				if relErr := guard.Release(ctx, event.ID); relErr != nil && logg != nil {
					logg.Error(ctx, "stripe.webhook.release_failed", relErr)
				}
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(ctx, "stripe.webhook.processed")
		}
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}
