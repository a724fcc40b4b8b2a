// Package auth verifies the bearer tokens issued by the identity provider the
// storefront trusts. Sign exists for tests and local tooling.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

const clockSkew = 30 * time.Second

var method = jwt.SigningMethodHS256

// ErrExpired is returned by Verify for a well-formed token past its expiry.
var ErrExpired = errors.New("token expired")

// Claims is the caller identity carried by an access token.
type Claims struct {
	UserID uuid.UUID  `json:"user_id"`
	Role   enums.Role `json:"role"`
	jwt.RegisteredClaims
}

// IsAdmin reports whether the caller may act on other owners' orders.
func (c *Claims) IsAdmin() bool {
	return c != nil && c.Role == enums.RoleAdmin
}

// Validate runs after the registered-claim checks during parsing.
func (c *Claims) Validate() error {
	if c.UserID == uuid.Nil {
		return errors.New("user_id claim missing")
	}
	if !c.Role.IsValid() {
		return fmt.Errorf("invalid role %q", c.Role)
	}
	return nil
}

// Sign issues a token for userID valid for cfg.ExpirationMinutes from now.
func Sign(cfg config.JWTConfig, now time.Time, userID uuid.UUID, role enums.Role) (string, error) {
	switch {
	case cfg.Secret == "" || cfg.Issuer == "":
		return "", errors.New("jwt secret and issuer are required")
	case cfg.ExpirationMinutes <= 0:
		return "", errors.New("jwt expiration minutes must be positive")
	}
	claims := &Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Subject:   userID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Duration(cfg.ExpirationMinutes) * time.Minute)),
		},
	}
	if err := claims.Validate(); err != nil {
		return "", err
	}
	return jwt.NewWithClaims(method, claims).SignedString([]byte(cfg.Secret))
}

// Verify checks signature, issuer and expiry, then the identity claims.
func Verify(cfg config.JWTConfig, raw string) (*Claims, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return []byte(cfg.Secret), nil },
		jwt.WithValidMethods([]string{method.Alg()}),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrExpired
	case err != nil:
		return nil, err
	}
	return claims, nil
}
