package orders

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/storefront-backend/api/middleware"
	internalorders "github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/payments"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

type stubOrders struct {
	created     *internalorders.CreateOrderInput
	cancelActor internalorders.Actor
	cancelID    string
	reason      string
	listFilters internalorders.ListFilters
	listParams  pagination.Params
	status      enums.OrderStatus
	err         error
}

func (s *stubOrders) CreateOrder(ctx context.Context, input internalorders.CreateOrderInput) (*models.Order, error) {
	s.created = &input
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: "ORD-ABCD1234", OwnerID: input.OwnerID, Status: enums.OrderStatusPending}, nil
}

func (s *stubOrders) GetOrder(ctx context.Context, actor internalorders.Actor, orderID string) (*models.Order, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &models.Order{ID: orderID, OwnerID: actor.UserID, Status: enums.OrderStatusPending, Total: decimal.NewFromInt(20)}, nil
}

func (s *stubOrders) ListOrders(ctx context.Context, ownerID uuid.UUID, filters internalorders.ListFilters, params pagination.Params) (*internalorders.OrderList, error) {
	s.listFilters = filters
	s.listParams = params
	return &internalorders.OrderList{}, nil
}

func (s *stubOrders) Stats(ctx context.Context, ownerID uuid.UUID) (*internalorders.OrderStats, error) {
	return &internalorders.OrderStats{TotalOrders: 2}, nil
}

func (s *stubOrders) UpdateLineItemQuantity(ctx context.Context, actor internalorders.Actor, orderID string, itemID uuid.UUID, quantity int) (*models.Order, error) {
	return &models.Order{ID: orderID}, s.err
}

func (s *stubOrders) CancelOrder(ctx context.Context, actor internalorders.Actor, orderID, reason string) (*internalorders.CancelResult, error) {
	s.cancelActor = actor
	s.cancelID = orderID
	s.reason = reason
	if s.err != nil {
		return nil, s.err
	}
	return &internalorders.CancelResult{
		Order:          &models.Order{ID: orderID, Status: enums.OrderStatusCancelled},
		RefundFailures: []internalorders.RefundFailure{{PaymentReference: "pi_1", Error: "processor down"}},
	}, nil
}

func (s *stubOrders) RefundOrder(ctx context.Context, actor internalorders.Actor, orderID, reason string) (*internalorders.RefundOutcome, error) {
	s.reason = reason
	return &internalorders.RefundOutcome{Order: &models.Order{ID: orderID}}, s.err
}

func (s *stubOrders) UpdateStatus(ctx context.Context, orderID string, to enums.OrderStatus) (*models.Order, error) {
	s.status = to
	return &models.Order{ID: orderID, Status: to}, s.err
}

type stubViews struct{}

func (stubViews) PaymentStatus(ctx context.Context, order *models.Order) (*payments.StatusView, error) {
	return &payments.StatusView{OrderID: order.ID, OrderStatus: order.Status}, nil
}

func (stubViews) RefundStatus(ctx context.Context, order *models.Order) (*payments.RefundView, error) {
	return &payments.RefundView{OrderID: order.ID}, nil
}

func authed(req *http.Request, user uuid.UUID, role enums.Role) *http.Request {
	ctx := middleware.WithUserID(req.Context(), user.String())
	ctx = middleware.WithRole(ctx, string(role))
	return req.WithContext(ctx)
}

func withParams(req *http.Request, params map[string]string) *http.Request {
	rc := chi.NewRouteContext()
	for k, v := range params {
		rc.URLParams.Add(k, v)
	}
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func decodeData(t *testing.T, body *httptest.ResponseRecorder, dest any) {
	t.Helper()
	envelope := struct {
		Data json.RawMessage `json:"data"`
	}{}
	if err := json.Unmarshal(body.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if err := json.Unmarshal(envelope.Data, dest); err != nil {
		t.Fatalf("decode data: %v", err)
	}
}

func TestCreateRequiresItems(t *testing.T) {
	svc := &stubOrders{}
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(`{"items":[]}`)), uuid.New(), enums.RoleCustomer)
	rec := httptest.NewRecorder()
	Create(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
	if svc.created != nil {
		t.Fatalf("service should not be called")
	}
}

func TestCreatePassesOwnerAndItems(t *testing.T) {
	svc := &stubOrders{}
	owner := uuid.New()
	unit := uuid.New()
	body := `{"items":[{"stock_unit_id":"` + unit.String() + `","quantity":2}],"shipping_method":"express"}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body)), owner, enums.RoleCustomer)
	rec := httptest.NewRecorder()
	Create(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.created.OwnerID != owner || len(svc.created.Items) != 1 || svc.created.Items[0].Quantity != 2 {
		t.Fatalf("unexpected input %+v", svc.created)
	}
}

func TestCreateSurfacesInsufficientStock(t *testing.T) {
	svc := &stubOrders{err: pkgerrors.InsufficientStock("unit", 1, 2)}
	body := `{"items":[{"stock_unit_id":"` + uuid.NewString() + `","quantity":2}]}`
	req := authed(httptest.NewRequest(http.MethodPost, "/api/v1/orders", strings.NewReader(body)), uuid.New(), enums.RoleCustomer)
	rec := httptest.NewRecorder()
	Create(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), string(pkgerrors.CodeInsufficientStock)) {
		t.Fatalf("expected insufficient stock code, body %s", rec.Body.String())
	}
}

func TestListParsesStatusAndCursor(t *testing.T) {
	svc := &stubOrders{}
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/orders?status=processing&limit=10&cursor=abc", nil), uuid.New(), enums.RoleCustomer)
	rec := httptest.NewRecorder()
	List(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.listFilters.Status == nil || *svc.listFilters.Status != enums.OrderStatusProcessing {
		t.Fatalf("expected processing filter, got %+v", svc.listFilters)
	}
	if svc.listParams.Limit != 10 || svc.listParams.Cursor != "abc" {
		t.Fatalf("unexpected params %+v", svc.listParams)
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	req := authed(httptest.NewRequest(http.MethodGet, "/api/v1/orders?status=lost", nil), uuid.New(), enums.RoleCustomer)
	rec := httptest.NewRecorder()
	List(&stubOrders{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestCancelReportsRefundFailures(t *testing.T) {
	svc := &stubOrders{}
	user := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ORD-ABCD1234/cancel", strings.NewReader(`{"reason":"changed my mind"}`))
	req = withParams(authed(req, user, enums.RoleCustomer), map[string]string{"orderId": "ord-abcd1234"})
	rec := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.cancelID != "ORD-ABCD1234" || svc.cancelActor.UserID != user || svc.reason != "changed my mind" {
		t.Fatalf("unexpected call id=%s actor=%+v reason=%q", svc.cancelID, svc.cancelActor, svc.reason)
	}
	var result internalorders.CancelResult
	decodeData(t, rec, &result)
	if len(result.RefundFailures) != 1 {
		t.Fatalf("expected refund failure in body, got %+v", result)
	}
}

func TestCancelAcceptsEmptyBody(t *testing.T) {
	svc := &stubOrders{}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ORD-ABCD1234/cancel", nil)
	req = withParams(authed(req, uuid.New(), enums.RoleCustomer), map[string]string{"orderId": "ORD-ABCD1234"})
	rec := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if svc.reason != "" {
		t.Fatalf("expected empty reason")
	}
}

func TestCancelMapsInvalidTransition(t *testing.T) {
	svc := &stubOrders{err: pkgerrors.InvalidTransition("shipped", "cancelled")}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders/ORD-ABCD1234/cancel", nil)
	req = withParams(authed(req, uuid.New(), enums.RoleCustomer), map[string]string{"orderId": "ORD-ABCD1234"})
	rec := httptest.NewRecorder()
	Cancel(svc, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"current_status":"shipped"`) {
		t.Fatalf("expected current status in details, body %s", rec.Body.String())
	}
}

func TestDetailRejectsMalformedOrderID(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/123", nil)
	req = withParams(authed(req, uuid.New(), enums.RoleCustomer), map[string]string{"orderId": "123"})
	rec := httptest.NewRecorder()
	Detail(&stubOrders{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}
}

func TestDetailRequiresCaller(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-ABCD1234", nil)
	req = withParams(req, map[string]string{"orderId": "ORD-ABCD1234"})
	rec := httptest.NewRecorder()
	Detail(&stubOrders{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", rec.Code)
	}
}

func TestPaymentStatusUsesOwnedOrder(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-ABCD1234/payment-status", nil)
	req = withParams(authed(req, uuid.New(), enums.RoleCustomer), map[string]string{"orderId": "ORD-ABCD1234"})
	rec := httptest.NewRecorder()
	PaymentStatus(&stubOrders{}, stubViews{}, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	var view payments.StatusView
	decodeData(t, rec, &view)
	if view.OrderID != "ORD-ABCD1234" || view.OrderStatus != enums.OrderStatusPending {
		t.Fatalf("unexpected view %+v", view)
	}
}

func TestPaymentStatusHidesForeignOrders(t *testing.T) {
	svc := &stubOrders{err: pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-ABCD1234/refund-status", nil)
	req = withParams(authed(req, uuid.New(), enums.RoleCustomer), map[string]string{"orderId": "ORD-ABCD1234"})
	rec := httptest.NewRecorder()
	RefundStatus(svc, stubViews{}, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestAdminUpdateStatusValidatesTarget(t *testing.T) {
	cases := []struct {
		body string
		want int
	}{
		{`{"status":"shipped"}`, http.StatusOK},
		{`{"status":"completed"}`, http.StatusOK},
		{`{"status":"refunded"}`, http.StatusBadRequest},
		{`{}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		svc := &stubOrders{}
		req := httptest.NewRequest(http.MethodPatch, "/api/admin/v1/orders/ORD-ABCD1234/status", strings.NewReader(tc.body))
		req = withParams(req, map[string]string{"orderId": "ORD-ABCD1234"})
		rec := httptest.NewRecorder()
		AdminUpdateStatus(svc, nil).ServeHTTP(rec, req)
		if rec.Code != tc.want {
			t.Fatalf("%s: expected %d got %d", tc.body, tc.want, rec.Code)
		}
	}
}
