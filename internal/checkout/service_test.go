package checkout

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type stubOrders struct {
	created   []orders.CreateOrderInput
	pending   []models.Order
	since     time.Time
	byID      map[string]*models.Order
	createErr error
}

func (s *stubOrders) CreateOrder(_ context.Context, input orders.CreateOrderInput) (*models.Order, error) {
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, input)
	order := &models.Order{
		ID:      "ORD-NEW00001",
		OwnerID: input.OwnerID,
		Status:  enums.OrderStatusPending,
		Total:   decimal.NewFromInt(10),
	}
	for _, item := range input.Items {
		order.LineItems = append(order.LineItems, models.OrderLineItem{StockUnitID: item.StockUnitID, Quantity: item.Quantity})
	}
	return order, nil
}

func (s *stubOrders) GetOrder(_ context.Context, actor orders.Actor, orderID string) (*models.Order, error) {
	order, ok := s.byID[orderID]
	if !ok || order.OwnerID != actor.UserID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *stubOrders) RecentPending(_ context.Context, _ uuid.UUID, since time.Time) ([]models.Order, error) {
	s.since = since
	return s.pending, nil
}

type stubSessions struct {
	calls []string
	err   error
}

func (s *stubSessions) CreateSession(_ context.Context, order *models.Order) (*payments.SessionResult, error) {
	s.calls = append(s.calls, order.ID)
	if s.err != nil {
		return nil, s.err
	}
	return &payments.SessionResult{SessionID: "cs_1", CheckoutURL: "https://pay.test/cs_1"}, nil
}

func newTestService(t *testing.T, o *stubOrders, p *stubSessions) *Service {
	t.Helper()
	svc, err := NewService(o, p, 30*time.Minute, logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestCheckoutCreatesOrderAndSession(t *testing.T) {
	o, p := &stubOrders{}, &stubSessions{}
	svc := newTestService(t, o, p)
	owner := uuid.New()
	unit := uuid.New()

	res, err := svc.Checkout(context.Background(), CheckoutInput{
		OwnerID: owner,
		Items:   []orders.ItemRequest{{StockUnitID: unit, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if res.ReusedOrder || len(o.created) != 1 || res.Session == nil {
		t.Fatalf("expected new order with session, got %+v", res)
	}
	if res.Order.CheckoutSessionURL == nil || *res.Order.CheckoutSessionURL != "https://pay.test/cs_1" {
		t.Fatalf("checkout url not set on order")
	}
	if want := svc.now().Add(-30 * time.Minute); !o.since.Equal(want) {
		t.Fatalf("expected reuse window start %s, got %s", want, o.since)
	}
}

func TestCheckoutReusesExactlyMatchingPendingOrder(t *testing.T) {
	owner := uuid.New()
	a, b := uuid.New(), uuid.New()
	o := &stubOrders{pending: []models.Order{
		{ID: "ORD-PARTIAL1", OwnerID: owner, Status: enums.OrderStatusPending, LineItems: []models.OrderLineItem{{StockUnitID: a, Quantity: 1}}},
		{ID: "ORD-MATCH001", OwnerID: owner, Status: enums.OrderStatusPending, LineItems: []models.OrderLineItem{
			{StockUnitID: a, Quantity: 1},
			{StockUnitID: b, Quantity: 3},
		}},
	}}
	p := &stubSessions{}
	svc := newTestService(t, o, p)

	res, err := svc.Checkout(context.Background(), CheckoutInput{
		OwnerID: owner,
		Items: []orders.ItemRequest{
			{StockUnitID: b, Quantity: 3},
			{StockUnitID: a, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if !res.ReusedOrder || res.Order.ID != "ORD-MATCH001" || len(o.created) != 0 {
		t.Fatalf("expected reuse of matching order, got %+v", res)
	}
}

func TestCheckoutDoesNotReuseOnQuantityMismatch(t *testing.T) {
	owner := uuid.New()
	a := uuid.New()
	o := &stubOrders{pending: []models.Order{
		{ID: "ORD-OTHER001", OwnerID: owner, Status: enums.OrderStatusPending, LineItems: []models.OrderLineItem{{StockUnitID: a, Quantity: 1}}},
	}}
	svc := newTestService(t, o, &stubSessions{})

	res, err := svc.Checkout(context.Background(), CheckoutInput{
		OwnerID: owner,
		Items:   []orders.ItemRequest{{StockUnitID: a, Quantity: 2}},
	})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if res.ReusedOrder || len(o.created) != 1 {
		t.Fatalf("expected a new order, got %+v", res)
	}
}

func TestCheckoutSessionFailureKeepsOrder(t *testing.T) {
	o := &stubOrders{}
	p := &stubSessions{err: pkgerrors.External(errors.New("timeout"), "create checkout session")}
	svc := newTestService(t, o, p)

	res, err := svc.Checkout(context.Background(), CheckoutInput{
		OwnerID: uuid.New(),
		Items:   []orders.ItemRequest{{StockUnitID: uuid.New(), Quantity: 1}},
	})
	if !pkgerrors.IsCode(err, pkgerrors.CodeExternalService) {
		t.Fatalf("expected external service error, got %v", err)
	}
	if res == nil || res.Order == nil || res.Session != nil {
		t.Fatalf("expected committed order without session, got %+v", res)
	}
	retry, ok := pkgerrors.As(err).Details().(PaymentRetry)
	if !ok || retry.OrderID != res.Order.ID {
		t.Fatalf("expected retry details, got %#v", pkgerrors.As(err).Details())
	}
}

func TestCheckoutStockFailureReturnsNoOrder(t *testing.T) {
	o := &stubOrders{createErr: pkgerrors.InsufficientStock("u", 0, 1)}
	p := &stubSessions{}
	svc := newTestService(t, o, p)

	res, err := svc.Checkout(context.Background(), CheckoutInput{
		OwnerID: uuid.New(),
		Items:   []orders.ItemRequest{{StockUnitID: uuid.New(), Quantity: 1}},
	})
	if res != nil || !pkgerrors.IsCode(err, pkgerrors.CodeInsufficientStock) {
		t.Fatalf("expected insufficient stock with no result, got %+v %v", res, err)
	}
	if len(p.calls) != 0 {
		t.Fatalf("session must not be created")
	}
}

func TestCheckoutWithExplicitOrderContinuesPayment(t *testing.T) {
	owner := uuid.New()
	o := &stubOrders{byID: map[string]*models.Order{
		"ORD-PEND0001": {ID: "ORD-PEND0001", OwnerID: owner, Status: enums.OrderStatusPending},
		"ORD-PAID0001": {ID: "ORD-PAID0001", OwnerID: owner, Status: enums.OrderStatusProcessing, IsPaid: true},
	}}
	p := &stubSessions{}
	svc := newTestService(t, o, p)

	res, err := svc.Checkout(context.Background(), CheckoutInput{OwnerID: owner, OrderID: "ORD-PEND0001"})
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if res.Order.ID != "ORD-PEND0001" || len(o.created) != 0 || len(p.calls) != 1 {
		t.Fatalf("expected continue payment on explicit order, got %+v", res)
	}

	_, err = svc.ContinuePayment(context.Background(), owner, "ORD-PAID0001")
	if !pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) {
		t.Fatalf("expected state conflict for paid order, got %v", err)
	}
	_, err = svc.ContinuePayment(context.Background(), uuid.New(), "ORD-PEND0001")
	if !pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		t.Fatalf("expected not found for other owner, got %v", err)
	}
}
