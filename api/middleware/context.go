package middleware

import (
	"context"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

type (
	userIDKey struct{}
	roleKey   struct{}
)

func UserIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(userIDKey{}).(string)
	return v
}

func RoleFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx.Value(roleKey{}).(string)
	return v
}

// WithUserID stores the authenticated subject. Auth sets it; tests call it directly.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(orBackground(ctx), userIDKey{}, userID)
}

func WithRole(ctx context.Context, role string) context.Context {
	return context.WithValue(orBackground(ctx), roleKey{}, role)
}

// CallerID parses the authenticated user id; a missing or malformed subject is 401.
func CallerID(ctx context.Context) (uuid.UUID, error) {
	raw := UserIDFromContext(ctx)
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "user context missing")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid user id")
	}
	return id, nil
}

func orBackground(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}
