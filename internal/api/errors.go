package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/audiarr/audiarr/internal/catalog"
	"github.com/audiarr/audiarr/internal/license"
	"github.com/audiarr/audiarr/internal/store"
)

// MapErrorToStatusCode maps a service error to the HTTP status code the
// client should see.
func MapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, catalog.ErrItemUnknown), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, license.ErrDenied):
		return http.StatusForbidden
	default:
		var valErrs validator.ValidationErrors
		if errors.As(err, &valErrs) {
			return http.StatusBadRequest
		}
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a client-safe message for an error. Internal
// details never pass through; callers log the raw error separately.
func GetSafeErrorMessage(err error) string {
	switch {
	case errors.Is(err, catalog.ErrItemUnknown):
		return "Catalog item not found"
	case errors.Is(err, store.ErrNotFound):
		return "Not found"
	case errors.Is(err, license.ErrDenied):
		return "License denied for this item"
	default:
		var valErrs validator.ValidationErrors
		if errors.As(err, &valErrs) {
			return SanitizeValidationError(err)
		}
		return "Internal server error"
	}
}

// SanitizeValidationError turns validator errors into a short field list
// without echoing submitted values back to the client.
func SanitizeValidationError(err error) string {
	var valErrs validator.ValidationErrors
	if !errors.As(err, &valErrs) {
		return "Validation error"
	}

	fields := make([]string, 0, len(valErrs))
	for _, fe := range valErrs {
		fields = append(fields, strings.ToLower(fe.Field()))
	}
	if len(fields) == 0 {
		return "Validation error"
	}
	return "Validation failed for: " + strings.Join(fields, ", ")
}
