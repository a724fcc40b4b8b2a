package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

type rateLimiter interface {
	FixedWindowAllow(ctx context.Context, scope string, limit int64, window time.Duration) (bool, int64, error)
}

var errTooManyRequests = pkgerrors.New(pkgerrors.CodeRateLimit, "too many requests")

// RateLimitPolicy names a throttled surface and its fixed window.
type RateLimitPolicy struct {
	Name   string
	Window time.Duration
	Limit  int
}

func (p RateLimitPolicy) enabled() bool {
	return p.Window > 0 && p.Limit > 0
}

// bucket is the counter scope for one caller under this policy.
func (p RateLimitPolicy) bucket(r *http.Request) string {
	name := strings.ToLower(strings.TrimSpace(p.Name))
	if name == "" {
		name = "default"
	}
	caller := UserIDFromContext(r.Context())
	if caller == "" {
		caller = "ip:" + clientIP(r)
	}
	return name + ":" + caller
}

func (p RateLimitPolicy) remaining(count int64) int64 {
	return max(int64(p.Limit)-count, 0)
}

// RateLimit counts requests per authenticated user, falling back to the
// client IP. A limiter outage lets traffic through.
func RateLimit(policy RateLimitPolicy, store rateLimiter, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !policy.enabled() || store == nil {
			return next
		}
		retryAfter := strconv.Itoa(int(policy.Window.Seconds()))

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			allowed, count, err := store.FixedWindowAllow(ctx, policy.bucket(r), int64(policy.Limit), policy.Window)
			if err != nil {
				if logg != nil {
					logg.Error(ctx, "rate_limit.unavailable", err)
				}
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(policy.remaining(count), 10))

			if allowed {
				next.ServeHTTP(w, r)
				return
			}
			if logg != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{
					"policy":   policy.Name,
					"attempts": count,
					"limit":    policy.Limit,
					"window":   policy.Window.String(),
				}), "rate_limit.blocked")
			}
			w.Header().Set("Retry-After", retryAfter)
			responses.WriteError(ctx, nil, w, errTooManyRequests)
		})
	}
}

// clientIP prefers the first forwarded address, then X-Real-IP, then the peer.
func clientIP(r *http.Request) string {
	if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
		return strings.TrimSpace(first)
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}
