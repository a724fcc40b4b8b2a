package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Recoverer answers a handler panic with a 500 envelope. http.ErrAbortHandler
// is re-raised so net/http still drops the connection.
func Recoverer(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}
				// logger.Error stamps the stack; this frame is still on it.
				err := pkgerrors.Wrap(pkgerrors.CodeInternal, fmt.Errorf("panic: %v", v), "internal error")
				ctx := r.Context()
				if logg != nil {
					ctx = logg.WithField(ctx, "panic", fmt.Sprint(v))
					logg.Error(ctx, "panic.recovered", err)
				}
				responses.WriteError(ctx, nil, w, err)
			}()
			next.ServeHTTP(w, r)
		})
	}
}
