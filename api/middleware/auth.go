package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgAuth "github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

// Auth validates a bearer token and seeds the request context with the caller identity.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if token == "" {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.Verify(cfg, token)
			if err != nil {
				msg := "invalid token"
				if errors.Is(err, pkgAuth.ErrExpired) {
					msg = "token expired"
				}
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, msg))
				return
			}

			ctx := WithUserID(r.Context(), claims.UserID.String())
			ctx = WithRole(ctx, string(claims.Role))
			if logg != nil {
				ctx = logg.WithUserID(ctx, claims.UserID.String())
				ctx = logg.WithActorRole(ctx, string(claims.Role))
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// bearerToken accepts "Bearer <jwt>" in any case, or a bare token.
func bearerToken(header string) string {
	scheme, token, found := strings.Cut(strings.TrimSpace(header), " ")
	if !found {
		return scheme
	}
	if !strings.EqualFold(scheme, "bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
