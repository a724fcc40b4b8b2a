package middleware

import (
	"net/http"

	"github.com/angelmondragon/storefront-backend/api/responses"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// RequireRole lets through only callers whose token carries role. It must run
// after Auth.
func RequireRole(role enums.Role, logg *logger.Logger) func(http.Handler) http.Handler {
	forbidden := pkgerrors.New(pkgerrors.CodeForbidden, role.String()+" role required")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if RoleFromContext(r.Context()) == role.String() {
				next.ServeHTTP(w, r)
				return
			}
			responses.WriteError(r.Context(), logg, w, forbidden)
		})
	}
}
