package orders

import (
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type statusRequest struct {
	Status string `json:"status" validate:"required,oneof=shipped completed"`
}

// AdminUpdateStatus advances a paid order through fulfilment. Ownership is not
// checked; the route sits behind RequireRole(admin).
func AdminUpdateStatus(svc Service, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, http.StatusOK, func(r *http.Request) (any, error) {
		if svc == nil {
			return nil, errUnavailable
		}
		orderID, err := validators.ParseOrderIDParam(r, "orderId")
		if err != nil {
			return nil, err
		}
		var payload statusRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		to, err := enums.ParseOrderStatus(payload.Status)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status")
		}
		return svc.UpdateStatus(r.Context(), orderID, to)
	})
}
