package middleware

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/angelmondragon/storefront-backend/api/responses"
	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/storefront-backend/pkg/redis"
)

const (
	idempotencyHeader      = "Idempotency-Key"
	replayedHeader         = "Idempotent-Replayed"
	maxIdempotencyKeyLen   = 255
	defaultIdempotencyTTL  = 24 * time.Hour
	criticalIdempotencyTTL = 7 * 24 * time.Hour
	inFlightTTL            = time.Minute
)

// idempotentRoute names a mutating endpoint that requires an Idempotency-Key.
// Critical routes reserve stock or move money, so their records are kept for
// at least criticalIdempotencyTTL.
type idempotentRoute struct {
	method   string
	prefix   string
	suffix   string
	exact    bool
	critical bool
}

func (r idempotentRoute) matches(method, pattern string) bool {
	if r.method != method {
		return false
	}
	if r.exact {
		return pattern == r.prefix
	}
	return strings.HasPrefix(pattern, r.prefix) && strings.HasSuffix(pattern, r.suffix)
}

var idempotentRoutes = []idempotentRoute{
	{method: http.MethodPost, prefix: "/api/v1/orders", exact: true},
	{method: http.MethodPost, prefix: "/api/v1/orders/", suffix: "/continue-payment"},
	{method: http.MethodPatch, prefix: "/api/admin/v1/orders/"},
	{method: http.MethodPost, prefix: "/api/v1/checkout", exact: true, critical: true},
	{method: http.MethodPost, prefix: "/api/v1/orders/", suffix: "/cancel", critical: true},
	{method: http.MethodPost, prefix: "/api/v1/orders/", suffix: "/refund", critical: true},
}

// storedResponse is the redis value under an idempotency key. A record with
// InFlight set marks a request that is still executing.
type storedResponse struct {
	InFlight    bool   `json:"in_flight,omitempty"`
	RequestHash string `json:"request_hash"`
	RequestID   string `json:"request_id,omitempty"`
	Status      int    `json:"status,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Body        []byte `json:"body,omitempty"`
}

// Idempotency replays the first response for a repeated Idempotency-Key on
// the routes above. The key is reserved while the handler runs so a
// concurrent duplicate gets 409 instead of running twice; 5xx outcomes are
// not recorded so the client may retry. ttl applies to ordinary routes and
// defaults to 24h.
func Idempotency(store pkgredis.IdempotencyStore, ttl time.Duration, logg *logger.Logger) func(http.Handler) http.Handler {
	if ttl <= 0 {
		ttl = defaultIdempotencyTTL
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyTTL, tracked := routeTTL(r.Method, routePattern(r), ttl)
			if !tracked || store == nil {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()
			fail := func(err error) { responses.WriteError(ctx, logg, w, err) }

			clientKey := strings.TrimSpace(r.Header.Get(idempotencyHeader))
			switch {
			case clientKey == "":
				fail(pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required"))
				return
			case len(clientKey) > maxIdempotencyKeyLen:
				fail(pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header too long"))
				return
			}

			body, err := io.ReadAll(r.Body)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			hash := requestHash(body)
			key := store.IdempotencyKey(UserIDFromContext(ctx)+"|"+r.Method+"|"+r.URL.Path, clientKey)

			prior, err := loadResponse(r, store, key)
			if err != nil {
				fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency key"))
				return
			}
			if prior == nil {
				reserved, err := reserve(r, store, key, hash)
				if err != nil {
					fail(pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reserve idempotency key"))
					return
				}
				if !reserved {
					prior = &storedResponse{InFlight: true, RequestHash: hash}
				}
			}
			if prior != nil {
				switch {
				case prior.RequestHash != hash:
					fail(pkgerrors.New(pkgerrors.CodeIdempotency, "idempotency key reused with different request body"))
				case prior.InFlight:
					fail(pkgerrors.New(pkgerrors.CodeIdempotency, "a request with this idempotency key is still in progress"))
				default:
					if logg != nil {
						logg.Debug(logg.WithField(ctx, "original_request_id", prior.RequestID), "idempotency.replay")
					}
					replay(w, prior)
				}
				return
			}

			var captured bytes.Buffer
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			ww.Tee(&captured)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			if status >= http.StatusInternalServerError {
				if err := store.Del(ctx, key); err != nil && logg != nil {
					logg.Error(ctx, "release idempotency key", err)
				}
				return
			}
			record := storedResponse{
				RequestHash: hash,
				RequestID:   RequestIDFromContext(ctx),
				Status:      status,
				ContentType: ww.Header().Get("Content-Type"),
				Body:        captured.Bytes(),
			}
			if err := save(r, store, key, record, keyTTL); err != nil && logg != nil {
				logg.Error(ctx, "persist idempotency record", err)
			}
		})
	}
}

func loadResponse(r *http.Request, store pkgredis.IdempotencyStore, key string) (*storedResponse, error) {
	raw, err := store.Get(r.Context(), key)
	if errors.Is(err, redis.Nil) || (err == nil && raw == "") {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec storedResponse
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func reserve(r *http.Request, store pkgredis.IdempotencyStore, key, hash string) (bool, error) {
	marker, err := json.Marshal(storedResponse{InFlight: true, RequestHash: hash})
	if err != nil {
		return false, err
	}
	return store.SetNX(r.Context(), key, string(marker), inFlightTTL)
}

func save(r *http.Request, store pkgredis.IdempotencyStore, key string, rec storedResponse, ttl time.Duration) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return store.Set(r.Context(), key, string(payload), ttl)
}

func replay(w http.ResponseWriter, rec *storedResponse) {
	if rec.ContentType != "" {
		w.Header().Set("Content-Type", rec.ContentType)
	}
	w.Header().Set(replayedHeader, "true")
	w.WriteHeader(rec.Status)
	_, _ = w.Write(rec.Body)
}

func requestHash(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// routePattern prefers the matched chi pattern. Group middleware runs before
// the sub-router matches, so a wildcard pattern falls back to the raw path.
func routePattern(r *http.Request) string {
	pattern := ""
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		pattern = rctx.RoutePattern()
	}
	if pattern == "" || strings.Contains(pattern, "*") {
		pattern = r.URL.Path
	}
	if len(pattern) > 1 {
		pattern = strings.TrimSuffix(pattern, "/")
	}
	return pattern
}

func routeTTL(method, pattern string, base time.Duration) (time.Duration, bool) {
	for _, route := range idempotentRoutes {
		if !route.matches(method, pattern) {
			continue
		}
		if route.critical && base < criticalIdempotencyTTL {
			return criticalIdempotencyTTL, true
		}
		return base, true
	}
	return 0, false
}
