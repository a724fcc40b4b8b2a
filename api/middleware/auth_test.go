package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/storefront-backend/pkg/auth"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "storefront", ExpirationMinutes: 60}

func signFor(t *testing.T, cfg config.JWTConfig, issuedAt time.Time, userID uuid.UUID, role enums.Role) string {
	t.Helper()
	token, err := auth.Sign(cfg, issuedAt, userID, role)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return token
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":    "abc",
		"bearer  abc ":  "abc",
		"abc":           "abc",
		"Basic dXNlcjo": "",
		"":              "",
	}
	for header, want := range cases {
		if got := bearerToken(header); got != want {
			t.Fatalf("bearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestAuthRejects(t *testing.T) {
	foreign := testJWT
	foreign.Issuer = "someone-else"
	cases := map[string]string{
		"missing":      "",
		"garbage":      "Bearer invalid",
		"other issuer": "Bearer " + signFor(t, foreign, time.Now(), uuid.New(), enums.RoleCustomer),
		"expired":      "Bearer " + signFor(t, testJWT, time.Now().Add(-3*time.Hour), uuid.New(), enums.RoleCustomer),
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			reached := false
			h := Auth(testJWT, nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { reached = true }))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized || reached {
				t.Fatalf("status %d reached %v, want 401 and blocked", rec.Code, reached)
			}
		})
	}
}

func TestAuthSeedsCallerIdentity(t *testing.T) {
	userID := uuid.New()
	var user, role string
	h := Auth(testJWT, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, role = UserIDFromContext(r.Context()), RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer "+signFor(t, testJWT, time.Now(), userID, enums.RoleCustomer))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if user != userID.String() || role != string(enums.RoleCustomer) {
		t.Fatalf("identity = (%s, %s)", user, role)
	}
}

func TestRequireRole(t *testing.T) {
	h := RequireRole(enums.RoleAdmin, nil)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for role, want := range map[string]int{
		string(enums.RoleAdmin):    http.StatusNoContent,
		string(enums.RoleCustomer): http.StatusForbidden,
		"":                         http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req.WithContext(WithRole(req.Context(), role)))
		if rec.Code != want {
			t.Fatalf("role %q: status %d, want %d", role, rec.Code, want)
		}
	}
}
