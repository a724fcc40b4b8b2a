package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Logging emits one request.complete line per request. 5xx responses are
// logged at warn so they surface without enabling debug.
func Logging(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if logg == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"method": r.Method,
				"path":   r.URL.Path,
			})
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			logg.Debug(ctx, "request.start")

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			ctx = logg.WithFields(ctx, map[string]any{
				"route":       routePattern(r),
				"status":      status,
				"bytes":       ww.BytesWritten(),
				"duration_ms": time.Since(start).Milliseconds(),
			})
			if status >= http.StatusInternalServerError {
				logg.Warn(ctx, "request.complete")
				return
			}
			logg.Info(ctx, "request.complete")
		})
	}
}
