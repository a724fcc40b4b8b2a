package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

func TestRecovererAnswers500(t *testing.T) {
	buf := &bytes.Buffer{}
	logg := logger.New(logger.Options{ServiceName: "test", Output: buf})
	h := Recoverer(logg)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("nil map write") }))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "nil map write") {
		t.Fatalf("panic value leaked to client: %s", rec.Body.String())
	}
	if !strings.Contains(buf.String(), "panic.recovered") || !strings.Contains(buf.String(), "nil map write") {
		t.Fatalf("panic not logged: %s", buf.String())
	}
}

func TestRecovererRepanicsAbort(t *testing.T) {
	h := Recoverer(nil)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(http.ErrAbortHandler) }))
	defer func() {
		if v := recover(); v != http.ErrAbortHandler {
			t.Fatalf("recovered %v, want ErrAbortHandler", v)
		}
	}()
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

func TestRequestIDEchoesOrReplaces(t *testing.T) {
	var seen string
	h := RequestID(nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	for inbound, keep := range map[string]bool{"req-12345678": true, "bad id!": false, "": false} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if inbound != "" {
			req.Header.Set(requestIDHeader, inbound)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if got := rec.Header().Get(requestIDHeader); got != seen || got == "" {
			t.Fatalf("header %q context %q", got, seen)
		}
		if (seen == inbound) != keep {
			t.Fatalf("inbound %q: assigned %q", inbound, seen)
		}
	}
}
