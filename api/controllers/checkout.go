package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	checkoutsvc "github.com/angelmondragon/storefront-backend/internal/checkout"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

type checkoutService interface {
	Checkout(ctx context.Context, input checkoutsvc.CheckoutInput) (*checkoutsvc.CheckoutResult, error)
	ContinuePayment(ctx context.Context, ownerID uuid.UUID, orderID string) (*checkoutsvc.CheckoutResult, error)
}

// checkoutRequest takes either an existing order id or the cart lines.
type checkoutRequest struct {
	OrderID         string               `json:"order_id" validate:"omitempty,order_id"`
	Items           []orders.ItemRequest `json:"items" validate:"required_without=OrderID,dive"`
	ShippingAddress *types.Address       `json:"shipping_address" validate:"omitempty"`
	ShippingMethod  string               `json:"shipping_method" validate:"max=64"`
}

// Checkout creates (or reuses) the caller's pending order and opens a payment
// session for it. When the order committed but the processor failed, the error
// body names the order so the client can continue payment later.
func Checkout(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		ownerID, err := middleware.CallerID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkoutRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Checkout(r.Context(), checkoutsvc.CheckoutInput{
			OwnerID:         ownerID,
			OrderID:         validators.NormalizeOrderID(payload.OrderID),
			Items:           payload.Items,
			ShippingAddress: payload.ShippingAddress,
			ShippingMethod:  validators.SanitizeString(payload.ShippingMethod, 64),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		status := http.StatusCreated
		if result.ReusedOrder {
			status = http.StatusOK
		}
		responses.WriteSuccessStatus(w, status, result)
	}
}

func ContinuePayment(svc checkoutService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
			return
		}
		ownerID, err := middleware.CallerID(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		orderID, err := validators.ParseOrderIDParam(r, "orderId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ContinuePayment(r.Context(), ownerID, orderID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
