package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type stockReader interface {
	Get(ctx context.Context, unitID uuid.UUID) (*models.StockUnit, error)
	CheckAvailability(ctx context.Context, tx *gorm.DB, unitID uuid.UUID, qty int) (bool, error)
}

type stockAdmin interface {
	LowStock(ctx context.Context, threshold, limit int) ([]models.StockUnit, error)
	Delete(ctx context.Context, unitID uuid.UUID) error
}

type availabilityView struct {
	StockUnitID uuid.UUID `json:"stock_unit_id"`
	Requested   int       `json:"requested"`
	Available   int       `json:"available"`
	InStock     bool      `json:"in_stock"`
	Sufficient  bool      `json:"sufficient"`
}

var errNoLedger = pkgerrors.New(pkgerrors.CodeInternal, "stock ledger unavailable")

// StockAvailability is an advisory read; the reservation at order time decides.
func StockAvailability(ledger stockReader, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, http.StatusOK, func(r *http.Request) (any, error) {
		if ledger == nil {
			return nil, errNoLedger
		}
		unitID, err := validators.ParseUUIDParam(r, "unitId")
		if err != nil {
			return nil, err
		}
		qty, err := validators.ParseQueryInt(r, "quantity", 1, 1, 10000)
		if err != nil {
			return nil, err
		}
		unit, err := ledger.Get(r.Context(), unitID)
		if err != nil {
			return nil, err
		}
		ok, err := ledger.CheckAvailability(r.Context(), nil, unitID, qty)
		if err != nil {
			return nil, err
		}
		return availabilityView{
			StockUnitID: unit.ID,
			Requested:   qty,
			Available:   unit.AvailableQuantity,
			InStock:     unit.InStock,
			Sufficient:  ok,
		}, nil
	})
}

func AdminLowStock(ledger stockAdmin, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, http.StatusOK, func(r *http.Request) (any, error) {
		if ledger == nil {
			return nil, errNoLedger
		}
		threshold, err := validators.ParseQueryInt(r, "threshold", 5, 0, 100000)
		if err != nil {
			return nil, err
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			return nil, err
		}
		units, err := ledger.LowStock(r.Context(), threshold, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"threshold": threshold, "units": units}, nil
	})
}

// AdminDeleteStockUnit refuses units that appear on any order.
func AdminDeleteStockUnit(ledger stockAdmin, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ledger == nil {
			responses.WriteError(r.Context(), logg, w, errNoLedger)
			return
		}
		unitID, err := validators.ParseUUIDParam(r, "unitId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if err := ledger.Delete(r.Context(), unitID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
