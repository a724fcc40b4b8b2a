package controllers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/api/validators"
	"github.com/angelmondragon/storefront-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/pagination"
)

// DeadLetters is the operator view over events the publisher gave up on.
type DeadLetters interface {
	List(ctx context.Context, params pagination.Params) (*outbox.DLQPage, error)
	Requeue(ctx context.Context, id uuid.UUID) (*models.OutboxEvent, error)
}

var errNoDeadLetters = pkgerrors.New(pkgerrors.CodeInternal, "dead-letter store unavailable")

func AdminListDeadLetters(dlq DeadLetters, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, http.StatusOK, func(r *http.Request) (any, error) {
		if dlq == nil {
			return nil, errNoDeadLetters
		}
		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			return nil, err
		}
		cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
		if _, err := pagination.ParseCursor(cursor); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		page, err := dlq.List(r.Context(), pagination.Params{Limit: limit, Cursor: cursor})
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list dead letters")
		}
		return page, nil
	})
}

// AdminRequeueDeadLetter puts one entry back on the outbox. A second call for
// the same id is a 404 since the entry has already moved.
func AdminRequeueDeadLetter(dlq DeadLetters, logg *logger.Logger) http.HandlerFunc {
	return responses.Handle(logg, http.StatusAccepted, func(r *http.Request) (any, error) {
		if dlq == nil {
			return nil, errNoDeadLetters
		}
		id, err := validators.ParseUUIDParam(r, "entryId")
		if err != nil {
			return nil, err
		}
		event, err := dlq.Requeue(r.Context(), id)
		switch {
		case errors.Is(err, outbox.ErrDLQEntryNotFound):
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, err, "dead-letter entry not found")
		case err != nil:
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "requeue dead letter")
		}
		if logg != nil {
			logg.Info(logg.WithFields(r.Context(), map[string]any{
				"dlq_id":     id.String(),
				"event_id":   event.ID.String(),
				"event_type": event.EventType,
			}), "outbox.dlq_requeued")
		}
		return map[string]any{"event_id": event.ID, "event_type": event.EventType}, nil
	})
}
