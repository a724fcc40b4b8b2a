package orders

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	internalorders "github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

// Service is the order surface the HTTP layer drives.
type Service interface {
	CreateOrder(ctx context.Context, input internalorders.CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, actor internalorders.Actor, orderID string) (*models.Order, error)
	ListOrders(ctx context.Context, ownerID uuid.UUID, filters internalorders.ListFilters, params pagination.Params) (*internalorders.OrderList, error)
	Stats(ctx context.Context, ownerID uuid.UUID) (*internalorders.OrderStats, error)
	UpdateLineItemQuantity(ctx context.Context, actor internalorders.Actor, orderID string, itemID uuid.UUID, quantity int) (*models.Order, error)
	CancelOrder(ctx context.Context, actor internalorders.Actor, orderID, reason string) (*internalorders.CancelResult, error)
	RefundOrder(ctx context.Context, actor internalorders.Actor, orderID, reason string) (*internalorders.RefundOutcome, error)
	UpdateStatus(ctx context.Context, orderID string, to enums.OrderStatus) (*models.Order, error)
}

// PaymentViews reads payment and refund state of an order.
type PaymentViews interface {
	PaymentStatus(ctx context.Context, order *models.Order) (*payments.StatusView, error)
	RefundStatus(ctx context.Context, order *models.Order) (*payments.RefundView, error)
}

type createOrderRequest struct {
	Items           []internalorders.ItemRequest `json:"items" validate:"required,min=1,dive"`
	ShippingAddress *types.Address               `json:"shipping_address" validate:"omitempty"`
	ShippingMethod  string                       `json:"shipping_method" validate:"max=64"`
}

type updateItemRequest struct {
	Quantity int `json:"quantity" validate:"gt=0"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

var errUnavailable = pkgerrors.New(pkgerrors.CodeInternal, "orders service unavailable")

// Create freezes a new pending order without opening a payment session.
func Create(svc Service, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, http.StatusCreated, func(r *http.Request) (any, error) {
		if svc == nil {
			return nil, errUnavailable
		}
		ownerID, err := middleware.CallerID(r.Context())
		if err != nil {
			return nil, err
		}
		var payload createOrderRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.CreateOrder(r.Context(), internalorders.CreateOrderInput{
			OwnerID:         ownerID,
			Items:           payload.Items,
			ShippingAddress: payload.ShippingAddress,
			ShippingMethod:  validators.SanitizeString(payload.ShippingMethod, 64),
		})
	})
}

// List returns the caller's orders newest first, optionally filtered by status.
func List(svc Service, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, http.StatusOK, func(r *http.Request) (any, error) {
		if svc == nil {
			return nil, errUnavailable
		}
		ownerID, err := middleware.CallerID(r.Context())
		if err != nil {
			return nil, err
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			return nil, err
		}
		var filters internalorders.ListFilters
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, err := enums.ParseOrderStatus(raw)
			if err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
			}
			filters.Status = &status
		}
		return svc.ListOrders(r.Context(), ownerID, filters, pagination.Params{
			Limit:  limit,
			Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
		})
	})
}

func Stats(svc Service, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, http.StatusOK, func(r *http.Request) (any, error) {
		if svc == nil {
			return nil, errUnavailable
		}
		ownerID, err := middleware.CallerID(r.Context())
		if err != nil {
			return nil, err
		}
		return svc.Stats(r.Context(), ownerID)
	})
}

// onOrder handles routes under /orders/{orderId}: it resolves the caller and
// the order number before calling fn.
func onOrder(svc Service, logg *logger.Logger, fn func(r *http.Request, actor internalorders.Actor, orderID string) (any, error)) http.HandlerFunc {
	return responses.Handle(logg, http.StatusOK, func(r *http.Request) (any, error) {
		actor, orderID, err := resolve(r)
		if err != nil {
			return nil, err
		}
		if svc == nil {
			return nil, errUnavailable
		}
		return fn(r, actor, orderID)
	})
}

func Detail(svc Service, logg *logger.Logger) http.HandlerFunc {
	return onOrder(svc, logg, func(r *http.Request, actor internalorders.Actor, orderID string) (any, error) {
		return svc.GetOrder(r.Context(), actor, orderID)
	})
}

// UpdateItem changes a line quantity on a pending order and rebalances stock.
func UpdateItem(svc Service, logg *logger.Logger) http.HandlerFunc {
	return onOrder(svc, logg, func(r *http.Request, actor internalorders.Actor, orderID string) (any, error) {
		itemID, err := validators.ParseUUIDParam(r, "itemId")
		if err != nil {
			return nil, err
		}
		var payload updateItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			return nil, err
		}
		return svc.UpdateLineItemQuantity(r.Context(), actor, orderID, itemID, payload.Quantity)
	})
}

// Cancel cancels the order. Refunds that could not reach the processor are
// reported in the body rather than failing the request.
func Cancel(svc Service, logg *logger.Logger) http.HandlerFunc {
	return onOrder(svc, logg, func(r *http.Request, actor internalorders.Actor, orderID string) (any, error) {
		reason, err := optionalReason(r)
		if err != nil {
			return nil, err
		}
		return svc.CancelOrder(r.Context(), actor, orderID, reason)
	})
}

func Refund(svc Service, logg *logger.Logger) http.HandlerFunc {
	return onOrder(svc, logg, func(r *http.Request, actor internalorders.Actor, orderID string) (any, error) {
		reason, err := optionalReason(r)
		if err != nil {
			return nil, err
		}
		return svc.RefundOrder(r.Context(), actor, orderID, reason)
	})
}

// PaymentStatus and RefundStatus only answer for orders the caller may read.
func PaymentStatus(svc Service, views PaymentViews, logg *logger.Logger) http.HandlerFunc {
	return onOrder(svc, logg, func(r *http.Request, actor internalorders.Actor, orderID string) (any, error) {
		order, err := readable(r, svc, views, actor, orderID)
		if err != nil {
			return nil, err
		}
		return views.PaymentStatus(r.Context(), order)
	})
}

func RefundStatus(svc Service, views PaymentViews, logg *logger.Logger) http.HandlerFunc {
	return onOrder(svc, logg, func(r *http.Request, actor internalorders.Actor, orderID string) (any, error) {
		order, err := readable(r, svc, views, actor, orderID)
		if err != nil {
			return nil, err
		}
		return views.RefundStatus(r.Context(), order)
	})
}

func readable(r *http.Request, svc Service, views PaymentViews, actor internalorders.Actor, orderID string) (*models.Order, error) {
	if views == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment views unavailable")
	}
	return svc.GetOrder(r.Context(), actor, orderID)
}

func resolve(r *http.Request) (internalorders.Actor, string, error) {
	userID, err := middleware.CallerID(r.Context())
	if err != nil {
		return internalorders.Actor{}, "", err
	}
	orderID, err := validators.ParseOrderIDParam(r, "orderId")
	if err != nil {
		return internalorders.Actor{}, "", err
	}
	role, err := enums.ParseRole(middleware.RoleFromContext(r.Context()))
	if err != nil {
		role = enums.RoleCustomer
	}
	return internalorders.Actor{UserID: userID, Role: role}, orderID, nil
}

// optionalReason accepts an empty body.
func optionalReason(r *http.Request) (string, error) {
	if r.ContentLength == 0 {
		return "", nil
	}
	var payload reasonRequest
	if err := validators.DecodeJSONBody(r, &payload); err != nil {
		return "", err
	}
	return validators.SanitizeString(payload.Reason, 500), nil
}
