package validators

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

var orderIDPattern = regexp.MustCompile(`^ORD-[A-Z0-9]{4,32}$`)

// fieldError is a validation error naming the offending parameter.
func fieldError(field, msg string, extra ...any) *pkgerrors.Error {
	details := map[string]any{"field": field}
	for i := 0; i+1 < len(extra); i += 2 {
		if k, ok := extra[i].(string); ok {
			details[k] = extra[i+1]
		}
	}
	return pkgerrors.New(pkgerrors.CodeValidation, msg).WithDetails(details)
}

// ParseQueryInt returns fallback for an absent value and rejects anything
// outside [lo, hi].
func ParseQueryInt(r *http.Request, key string, fallback, lo, hi int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	switch {
	case err != nil:
		return 0, fieldError(key, "query parameter must be numeric")
	case n < lo || n > hi:
		return 0, fieldError(key, "query parameter out of range", "min", lo, "max", hi)
	}
	return n, nil
}

func ParseUUIDParam(r *http.Request, key string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, key))
	if raw == "" {
		return uuid.Nil, fieldError(key, "path parameter required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fieldError(key, "path parameter must be a uuid")
	}
	return id, nil
}

// ParseOrderIDParam reads an order number (ORD-XXXXXXXX) from the path,
// accepting lower case input.
func ParseOrderIDParam(r *http.Request, key string) (string, error) {
	id := NormalizeOrderID(chi.URLParam(r, key))
	switch {
	case id == "":
		return "", fieldError(key, "order id is required")
	case !orderIDPattern.MatchString(id):
		return "", fieldError(key, "invalid order id")
	}
	return id, nil
}
