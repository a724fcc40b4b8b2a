package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const requestIDHeader = "X-Request-Id"

// Inbound ids are echoed into logs and headers, so only short token-like
// values are accepted; anything else gets a fresh uuid.
var requestIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{8,128}$`)

type requestIDKey struct{}

func RequestID(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if !requestIDPattern.MatchString(id) {
				id = uuid.NewString()
			}
			w.Header().Set(requestIDHeader, id)

			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			if logg != nil {
				ctx = logg.WithRequestID(ctx, id)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestIDFromContext returns the id assigned by RequestID, or "".
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
