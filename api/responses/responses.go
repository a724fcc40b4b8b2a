// Package responses renders handler results as {"data": ...} or
// {"error": {code, message, details}}.
package responses

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Envelope is the body of every JSON response. Exactly one field is set.
type Envelope struct {
	Data  any      `json:"data,omitempty"`
	Error *Problem `json:"error,omitempty"`
}

// Problem is the public view of a pkg/errors error.
type Problem struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   any    `json:"details,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	if data == nil {
		data = struct{}{}
	}
	render(w, status, Envelope{Data: data})
}

// WriteError renders err. Anything without a pkg/errors code is reported as
// internal so raw messages never reach the client.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	status, problem := describe(err)
	if logg != nil {
		fields := pkgerrors.LogFields(err)
		fields["error_code"] = problem.Code
		fields["status"] = status
		ctx = logg.WithFields(ctx, fields)
		switch {
		case status >= http.StatusInternalServerError:
			logg.Error(ctx, "request.error", err)
		default:
			logg.Warn(ctx, "request.rejected")
		}
	}
	render(w, status, Envelope{Error: problem})
}

func describe(err error) (int, *Problem) {
	if err == nil {
		err = errors.New("unknown error")
	}
	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())
	p := &Problem{Code: string(typed.Code()), Message: meta.PublicMessage, Retryable: meta.Retryable}
	if msg := typed.Message(); meta.ExposeMessage && msg != "" {
		p.Message = msg
	}
	if meta.DetailsAllowed {
		p.Details = typed.Details()
	}
	return meta.HTTPStatus, p
}

func render(w http.ResponseWriter, status int, body Envelope) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Handle adapts fn into a handler that renders its result under status, or
// its error through WriteError.
func Handle(logg *logger.Logger, status int, fn func(*http.Request) (any, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := fn(r)
		if err != nil {
			WriteError(r.Context(), logg, w, err)
			return
		}
		WriteSuccessStatus(w, status, data)
	}
}
