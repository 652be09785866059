package http

import (
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"

	apierrors "quantumlic/internal/errors"
)

// maxBodySize bounds request bodies; every payload on this API is a
// small JSON object.
const maxBodySize = 1 << 20 // 1MB

// Binder decodes and validates JSON request bodies against struct tags.
type Binder struct {
	validator *validator.Validate
}

// NewBinder creates a request binder with the shared validator instance.
func NewBinder() *Binder {
	v := validator.New()

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Binder{validator: v}
}

// Bind decodes the request body into v and validates it. The returned error
// is always an *apierrors.APIError carrying the field breakdown in its
// log-only details.
func (b *Binder) Bind(r *http.Request, v any) *apierrors.APIError {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodySize)
	if err := render.DecodeJSON(r.Body, v); err != nil {
		return apierrors.ErrMalformedRequest.WithDetails(err.Error())
	}
	return b.Validate(v)
}

// Validate runs struct-tag validation only, for callers that decoded the
// body themselves.
func (b *Binder) Validate(v any) *apierrors.APIError {
	err := b.validator.Struct(v)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apierrors.ErrMalformedRequest.WithDetails(err.Error())
	}

	fields := make([]apierrors.ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, apierrors.ValidationError{
			Field:   fe.Field(),
			Message: formatFieldError(fe),
		})
	}
	return apierrors.MalformedRequestError(fields)
}

// formatFieldError renders one failed validation in plain language.
func formatFieldError(err validator.FieldError) string {
	field := err.Field()
	param := err.Param()

	switch err.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", field, param)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "hexadecimal":
		return fmt.Sprintf("%s must be hexadecimal", field)
	case "lowercase":
		return fmt.Sprintf("%s must be lowercase", field)
	case "uuid4":
		return fmt.Sprintf("%s must be a valid UUID", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, err.Tag())
	}
}
