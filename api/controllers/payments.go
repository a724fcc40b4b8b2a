package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	stripewebhook "github.com/angelmondragon/storefront-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type sessionVerifier interface {
	VerifySession(ctx context.Context, ownerID uuid.UUID, sessionID string) (*stripewebhook.VerifyResult, error)
}

type verifyPaymentRequest struct {
	SessionID string `json:"session_id" validate:"required,max=255"`
}

// VerifyPayment lets the return page settle a session when the webhook is late.
func VerifyPayment(svc sessionVerifier, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, http.StatusOK, func(r *http.Request) (any, error) {
		if svc == nil {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment verification unavailable")
		}
		ownerID, err := middleware.CallerID(r.Context())
		if err != nil {
			return nil, err
		}
		var payload verifyPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.VerifySession(r.Context(), ownerID, validators.SanitizeString(payload.SessionID, 255))
	})
}
