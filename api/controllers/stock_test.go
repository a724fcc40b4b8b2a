package controllers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type stubLedger struct {
	unit      models.StockUnit
	deleteErr error
	threshold int
	deleted   uuid.UUID
}

func (s *stubLedger) Get(ctx context.Context, unitID uuid.UUID) (*models.StockUnit, error) {
	if unitID != s.unit.ID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock unit not found")
	}
	unit := s.unit
	return &unit, nil
}

func (s *stubLedger) CheckAvailability(ctx context.Context, tx *gorm.DB, unitID uuid.UUID, qty int) (bool, error) {
	return s.unit.AvailableQuantity >= qty, nil
}

func (s *stubLedger) LowStock(ctx context.Context, threshold, limit int) ([]models.StockUnit, error) {
	s.threshold = threshold
	return []models.StockUnit{s.unit}, nil
}

func (s *stubLedger) Delete(ctx context.Context, unitID uuid.UUID) error {
	s.deleted = unitID
	return s.deleteErr
}

func unitRequest(method, target string, unitID string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	rc := chi.NewRouteContext()
	rc.URLParams.Add("unitId", unitID)
	return req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))
}

func TestStockAvailability(t *testing.T) {
	ledger := &stubLedger{unit: models.StockUnit{ID: uuid.New(), AvailableQuantity: 3, InStock: true}}

	cases := []struct {
		qty  string
		want string
	}{
		{"2", `"sufficient":true`},
		{"4", `"sufficient":false`},
	}
	for _, tc := range cases {
		req := unitRequest(http.MethodGet, "/api/v1/stock/x/availability?quantity="+tc.qty, ledger.unit.ID.String())
		rec := httptest.NewRecorder()
		StockAvailability(ledger, nil).ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("qty %s: expected 200 got %d", tc.qty, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), tc.want) {
			t.Fatalf("qty %s: expected %s in %s", tc.qty, tc.want, rec.Body.String())
		}
	}
}

func TestStockAvailabilityUnknownUnit(t *testing.T) {
	ledger := &stubLedger{unit: models.StockUnit{ID: uuid.New()}}
	req := unitRequest(http.MethodGet, "/api/v1/stock/x/availability", uuid.NewString())
	rec := httptest.NewRecorder()
	StockAvailability(ledger, nil).ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rec.Code)
	}
}

func TestAdminDeleteStockUnitWithHistory(t *testing.T) {
	ledger := &stubLedger{deleteErr: pkgerrors.New(pkgerrors.CodeConflict, "stock unit has order history")}
	id := uuid.New()
	rec := httptest.NewRecorder()
	AdminDeleteStockUnit(ledger, nil).ServeHTTP(rec, unitRequest(http.MethodDelete, "/api/admin/v1/stock/x", id.String()))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 got %d", rec.Code)
	}
	if ledger.deleted != id {
		t.Fatalf("expected delete of %s", id)
	}

	ledger.deleteErr = nil
	rec = httptest.NewRecorder()
	AdminDeleteStockUnit(ledger, nil).ServeHTTP(rec, unitRequest(http.MethodDelete, "/api/admin/v1/stock/x", id.String()))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 got %d", rec.Code)
	}
}

func TestAdminLowStockDefaultsThreshold(t *testing.T) {
	ledger := &stubLedger{unit: models.StockUnit{ID: uuid.New(), AvailableQuantity: 1}}
	rec := httptest.NewRecorder()
	AdminLowStock(ledger, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/v1/stock/low", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}
	if ledger.threshold != 5 {
		t.Fatalf("expected default threshold 5 got %d", ledger.threshold)
	}
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

func TestHealthReady(t *testing.T) {
	rec := httptest.NewRecorder()
	HealthReady("test", map[string]Pinger{"db": stubPinger{}, "redis": stubPinger{}}, nil).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	HealthReady("test", map[string]Pinger{"redis": stubPinger{err: errors.New("down")}}, nil).
		ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 got %d", rec.Code)
	}
}
