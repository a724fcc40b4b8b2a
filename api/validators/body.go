package validators

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	pkgerrors "github.com/angelmondragon/storefront-backend/pkg/errors"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("order_id", func(fl validator.FieldLevel) bool {
		return orderIDPattern.MatchString(strings.ToUpper(strings.TrimSpace(fl.Field().String())))
	})
	return v
}()

// DecodeJSONBody reads exactly one JSON document into dest and runs the
// struct's validate tags. Unknown fields and trailing data are rejected.
func DecodeJSONBody(r *http.Request, dest any) error {
	body := http.MaxBytesReader(nil, r.Body, MaxBodyBytes)
	defer func() {
		_, _ = io.Copy(io.Discard, body)
	}()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dest); err != nil {
		return decodeError(err)
	}
	if dec.More() {
		return pkgerrors.New(pkgerrors.CodeValidation, "request body must contain a single JSON object")
	}
	if err := validate.Struct(dest); err != nil {
		return validationError(err)
	}
	return nil
}

func decodeError(err error) error {
	var tooLarge *http.MaxBytesError
	var typeErr *json.UnmarshalTypeError
	switch {
	case errors.Is(err, io.EOF):
		return pkgerrors.New(pkgerrors.CodeValidation, "request body is required")
	case errors.As(err, &tooLarge):
		return pkgerrors.New(pkgerrors.CodeValidation, "request body too large").
			WithDetails(map[string]any{"limit_bytes": tooLarge.Limit})
	case errors.As(err, &typeErr):
		return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").
			WithDetails(map[string]string{typeErr.Field: "has the wrong type"})
	default:
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body").
			WithDetails(map[string]any{"error": err.Error()})
	}
}

func validationError(err error) error {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "validation failed")
	}
	details := make(map[string]string, len(fieldErrs))
	for _, fe := range fieldErrs {
		details[fieldPath(fe)] = describe(fe)
	}
	return pkgerrors.New(pkgerrors.CodeValidation, "validation failed").WithDetails(details)
}

// fieldPath drops the root struct name: "checkoutRequest.items[0].quantity"
// becomes "items[0].quantity".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_without":
		return fmt.Sprintf("is required when %s is empty", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gt":
		return fmt.Sprintf("must be greater than %s", fe.Param())
	case "oneof":
		return "must be one of " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "order_id":
		return "must look like ORD-XXXXXXXX"
	case "dive", "unique":
		return "contains invalid entries"
	default:
		return "is invalid"
	}
}
