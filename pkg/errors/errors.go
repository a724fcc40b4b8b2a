// Package errors defines the coded error type shared by services and the HTTP
// layer, plus the table that maps each code to a status and public message.
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation        Code = "VALIDATION_ERROR"
	CodeUnauthorized      Code = "UNAUTHORIZED"
	CodeForbidden         Code = "FORBIDDEN"
	CodeNotFound          Code = "NOT_FOUND"
	CodeConflict          Code = "CONFLICT"
	CodeStateConflict     Code = "STATE_CONFLICT"
	CodeIdempotency       Code = "IDEMPOTENCY_KEY_REUSED"
	CodeRateLimit         Code = "RATE_LIMIT_EXCEEDED"
	CodePayloadTooLarge   Code = "PAYLOAD_TOO_LARGE"
	CodeInsufficientStock Code = "INSUFFICIENT_STOCK"
	CodeInvalidTransition Code = "INVALID_TRANSITION"
	CodeInternal          Code = "INTERNAL_ERROR"
	CodeDependency        Code = "DEPENDENCY_ERROR"
	CodeExternalService   Code = "EXTERNAL_SERVICE_ERROR"
)

// Metadata is how a code is presented over HTTP. ExposeMessage lets the
// error's own message replace PublicMessage.
type Metadata struct {
	HTTPStatus     int
	Retryable      bool
	PublicMessage  string
	DetailsAllowed bool
	ExposeMessage  bool
}

// client codes show their own message; withDetails also passes details through.
func client(status int, public string, withDetails bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, DetailsAllowed: withDetails, ExposeMessage: true}
}

// server codes always show the fixed public message and are retryable.
func server(status int, public string, withDetails bool) Metadata {
	return Metadata{HTTPStatus: status, PublicMessage: public, DetailsAllowed: withDetails, Retryable: true}
}

var presentation = map[Code]Metadata{
	CodeValidation:        client(http.StatusBadRequest, "validation failed", true),
	CodeUnauthorized:      client(http.StatusUnauthorized, "authentication required", false),
	CodeForbidden:         client(http.StatusForbidden, "access denied", false),
	CodeNotFound:          client(http.StatusNotFound, "resource not found", false),
	CodeConflict:          client(http.StatusConflict, "conflict detected", false),
	CodeStateConflict:     client(http.StatusUnprocessableEntity, "state transition disallowed", true),
	CodeIdempotency:       client(http.StatusConflict, "idempotency key reused", true),
	CodeRateLimit:         client(http.StatusTooManyRequests, "rate limit exceeded", false),
	CodePayloadTooLarge:   client(http.StatusRequestEntityTooLarge, "request body too large", false),
	CodeInsufficientStock: client(http.StatusConflict, "insufficient stock", true),
	CodeInvalidTransition: client(http.StatusConflict, "order status transition not allowed", true),
	CodeInternal:          server(http.StatusInternalServerError, "internal server error", false),
	CodeDependency:        server(http.StatusServiceUnavailable, "dependency unavailable", true),
	CodeExternalService:   server(http.StatusBadGateway, "payment processor unavailable, please retry", true),
}

// MetadataFor falls back to CodeInternal for unknown codes.
func MetadataFor(code Code) Metadata {
	meta, ok := presentation[code]
	if !ok {
		return presentation[CodeInternal]
	}
	return meta
}

// Error is a coded error with an optional cause and client-facing details.
type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

func Wrap(code Code, err error, message string) *Error {
	return &Error{code: code, message: message, cause: err}
}

// WithDetails attaches details and returns e for chaining.
func (e *Error) WithDetails(details any) *Error {
	if e != nil {
		e.details = details
	}
	return e
}

// Code, Message and Details are nil-safe; a nil *Error reads as internal.
func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) Error() string {
	switch {
	case e == nil:
		return ""
	case e.cause == nil:
		return string(e.code) + ": " + e.message
	default:
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the outermost *Error in err's chain, or nil.
func As(err error) *Error {
	var typed *Error
	if !stdErrors.As(err, &typed) {
		return nil
	}
	return typed
}
