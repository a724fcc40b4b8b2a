package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/types"
)

const defaultReuseWindow = 30 * time.Minute

var tracer = otel.Tracer("storefront/checkout")

type orderManager interface {
	CreateOrder(ctx context.Context, input orders.CreateOrderInput) (*models.Order, error)
	GetOrder(ctx context.Context, actor orders.Actor, orderID string) (*models.Order, error)
	RecentPending(ctx context.Context, ownerID uuid.UUID, since time.Time) ([]models.Order, error)
}

type sessionCreator interface {
	CreateSession(ctx context.Context, order *models.Order) (*payments.SessionResult, error)
}

// CheckoutInput is either an explicit order to pay or a cart to turn into one.
type CheckoutInput struct {
	OwnerID         uuid.UUID
	OrderID         string
	Items           []orders.ItemRequest
	ShippingAddress *types.Address
	ShippingMethod  string
}

// CheckoutResult carries the order and, when the processor answered, its session.
type CheckoutResult struct {
	Order       *models.Order           `json:"order"`
	Session     *payments.SessionResult `json:"session,omitempty"`
	ReusedOrder bool                    `json:"reused_order"`
}

// PaymentRetry is attached to the error returned when the order committed but
// no payment session could be opened.
type PaymentRetry struct {
	OrderID     string  `json:"order_id"`
	CheckoutURL *string `json:"checkout_url,omitempty"`
}

type Service struct {
	orders      orderManager
	payments    sessionCreator
	reuseWindow time.Duration
	now         func() time.Time
	logg        *logger.Logger
}

func NewService(ordersSvc orderManager, paymentsSvc sessionCreator, reuseWindow time.Duration, logg *logger.Logger) (*Service, error) {
	if ordersSvc == nil {
		return nil, fmt.Errorf("order manager required")
	}
	if paymentsSvc == nil {
		return nil, fmt.Errorf("payment service required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if reuseWindow <= 0 {
		reuseWindow = defaultReuseWindow
	}
	return &Service{
		orders:      ordersSvc,
		payments:    paymentsSvc,
		reuseWindow: reuseWindow,
		now:         time.Now,
		logg:        logg,
	}, nil
}

// Checkout turns a cart into a payable order. A retried checkout for the same
// cart within the reuse window lands on the same pending order. When the order
// commits but the session call fails, the result is still returned alongside
// the error so the client can continue payment later.
func (s *Service) Checkout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if input.OwnerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "owner required")
	}
	ctx, span := tracer.Start(ctx, "checkout.Checkout")
	defer span.End()
	ctx = s.logg.WithUserID(ctx, input.OwnerID.String())

	if orderID := strings.TrimSpace(input.OrderID); orderID != "" {
		return s.ContinuePayment(ctx, input.OwnerID, orderID)
	}

	result := &CheckoutResult{}
	order, err := s.findReusable(ctx, input)
	if err != nil {
		return nil, err
	}
	if order != nil {
		result.ReusedOrder = true
		s.logg.Info(s.logg.WithField(ctx, "order_id", order.ID), "reusing pending order for checkout")
	} else {
		order, err = s.orders.CreateOrder(ctx, orders.CreateOrderInput{
			OwnerID:         input.OwnerID,
			Items:           input.Items,
			ShippingAddress: input.ShippingAddress,
			ShippingMethod:  input.ShippingMethod,
		})
		if err != nil {
			return nil, err
		}
	}
	result.Order = order
	span.SetAttributes(attribute.String("order.id", order.ID), attribute.Bool("order.reused", result.ReusedOrder))

	return s.openSession(ctx, result)
}

// ContinuePayment opens or reuses the hosted session of an existing pending order.
func (s *Service) ContinuePayment(ctx context.Context, ownerID uuid.UUID, orderID string) (*CheckoutResult, error) {
	order, err := s.orders.GetOrder(ctx, orders.Actor{UserID: ownerID, Role: enums.RoleCustomer}, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != enums.OrderStatusPending || order.IsPaid {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "order is not awaiting payment").
			WithDetails(map[string]any{"current_status": order.Status, "is_paid": order.IsPaid})
	}
	return s.openSession(ctx, &CheckoutResult{Order: order, ReusedOrder: true})
}

func (s *Service) openSession(ctx context.Context, result *CheckoutResult) (*CheckoutResult, error) {
	session, err := s.payments.CreateSession(ctx, result.Order)
	if err != nil {
		s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
			"order_id": result.Order.ID,
			"error":    err.Error(),
		}), "checkout session unavailable, order kept pending")
		return result, paymentRetryError(err, result.Order)
	}
	result.Session = session
	url := session.CheckoutURL
	result.Order.CheckoutSessionURL = &url
	return result, nil
}

// findReusable returns the owner's newest pending order in the window whose
// lines match the request exactly.
func (s *Service) findReusable(ctx context.Context, input CheckoutInput) (*models.Order, error) {
	wanted := requestedQuantities(input.Items)
	if len(wanted) == 0 {
		return nil, nil
	}
	candidates, err := s.orders.RecentPending(ctx, input.OwnerID, s.now().Add(-s.reuseWindow))
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		if sameLines(candidates[i].LineItems, wanted) {
			return &candidates[i], nil
		}
	}
	return nil, nil
}

func requestedQuantities(items []orders.ItemRequest) map[uuid.UUID]int {
	out := make(map[uuid.UUID]int, len(items))
	for _, item := range items {
		if item.StockUnitID == uuid.Nil || item.Quantity <= 0 {
			return nil
		}
		out[item.StockUnitID] += item.Quantity
	}
	return out
}

func sameLines(items []models.OrderLineItem, wanted map[uuid.UUID]int) bool {
	if len(items) != len(wanted) {
		return false
	}
	for _, item := range items {
		if wanted[item.StockUnitID] != item.Quantity {
			return false
		}
	}
	return true
}

func paymentRetryError(cause error, order *models.Order) error {
	code := pkgerrors.CodeExternalService
	if typed := pkgerrors.As(cause); typed != nil {
		code = typed.Code()
	}
	return pkgerrors.Wrap(code, cause, "payment could not be started, continue payment for this order to retry").
		WithDetails(PaymentRetry{OrderID: order.ID, CheckoutURL: order.CheckoutSessionURL})
}
