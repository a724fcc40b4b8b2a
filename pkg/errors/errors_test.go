package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataStatusByCode(t *testing.T) {
	tests := map[Code]int{
		CodeValidation:        http.StatusBadRequest,
		CodeUnauthorized:      http.StatusUnauthorized,
		CodeForbidden:         http.StatusForbidden,
		CodeNotFound:          http.StatusNotFound,
		CodeConflict:          http.StatusConflict,
		CodeStateConflict:     http.StatusUnprocessableEntity,
		CodeIdempotency:       http.StatusConflict,
		CodeRateLimit:         http.StatusTooManyRequests,
		CodePayloadTooLarge:   http.StatusRequestEntityTooLarge,
		CodeInsufficientStock: http.StatusConflict,
		CodeInvalidTransition: http.StatusConflict,
		CodeInternal:          http.StatusInternalServerError,
		CodeDependency:        http.StatusServiceUnavailable,
		CodeExternalService:   http.StatusBadGateway,
	}
	for code, status := range tests {
		if got := MetadataFor(code).HTTPStatus; got != status {
			t.Fatalf("code %s expected status %d got %d", code, status, got)
		}
	}
}

func TestServerSideCodesHideMessages(t *testing.T) {
	for _, code := range []Code{CodeInternal, CodeDependency, CodeExternalService} {
		meta := MetadataFor(code)
		if meta.ExposeMessage {
			t.Fatalf("code %s must not expose its internal message", code)
		}
		if !meta.Retryable {
			t.Fatalf("code %s should be retryable", code)
		}
	}
	if !MetadataFor(CodeInsufficientStock).ExposeMessage {
		t.Fatalf("client-facing codes expose their message")
	}
}

func TestLogFieldsIncludesCodeAndChain(t *testing.T) {
	err := fmt.Errorf("reduce stock: %w", Wrap(CodeInternal, stdErrors.New("deadlock"), "stock write failed"))
	fields := LogFields(err)
	if fields["error_code"] != CodeInternal {
		t.Fatalf("expected internal code, got %v", fields["error_code"])
	}
	chain, ok := fields["error_chain"].([]string)
	if !ok || len(chain) != 3 {
		t.Fatalf("expected three links in chain, got %v", fields["error_chain"])
	}
	if _, ok := fields["pg_code"]; ok {
		t.Fatalf("pg fields only appear for postgres errors")
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestInsufficientStockCarriesShortfall(t *testing.T) {
	err := InsufficientStock("unit-1", 1, 2)
	if err.Code() != CodeInsufficientStock {
		t.Fatalf("unexpected code %s", err.Code())
	}
	shortfall, ok := err.Details().(StockShortfall)
	if !ok {
		t.Fatalf("expected StockShortfall details, got %T", err.Details())
	}
	if shortfall.StockUnitID != "unit-1" || shortfall.Available != 1 || shortfall.Requested != 2 {
		t.Fatalf("unexpected shortfall %+v", shortfall)
	}
}

func TestInvalidTransitionCarriesCurrentStatus(t *testing.T) {
	err := InvalidTransition("shipped", "cancelled")
	details, ok := err.Details().(TransitionDetails)
	if !ok {
		t.Fatalf("expected TransitionDetails, got %T", err.Details())
	}
	if details.CurrentStatus != "shipped" || details.RequestedStatus != "cancelled" {
		t.Fatalf("unexpected details %+v", details)
	}
}

func TestIsCodeFollowsWrappedChain(t *testing.T) {
	inner := External(stdErrors.New("timeout"), "create session")
	outer := fmt.Errorf("checkout: %w", inner)
	if !IsCode(outer, CodeExternalService) {
		t.Fatalf("expected external service code through wrap")
	}
	if IsCode(outer, CodeNotFound) {
		t.Fatalf("unexpected code match")
	}
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(CodeNotFound, "order %s not found", "ORD-1")
	if err.Message() != "order ORD-1 not found" {
		t.Fatalf("message = %q", err.Message())
	}
	if err.Error() != "NOT_FOUND: order ORD-1 not found" {
		t.Fatalf("Error() = %q", err.Error())
	}
}

func TestNilErrorReadsAsInternal(t *testing.T) {
	var err *Error
	if err.Code() != CodeInternal || err.Message() != "" || err.Error() != "" || err.Unwrap() != nil {
		t.Fatalf("nil *Error accessors misbehaved")
	}
}
