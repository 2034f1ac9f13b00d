package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// ValidationError covers malformed requests, unavailable items, unresolved
// option selections and invalid status values. It is never auto-recovered.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func NewValidation(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// ForbiddenError is a tenant-scope violation: a principal acting outside its
// authorized restaurant or branch set.
type ForbiddenError struct {
	Message string
}

func (e *ForbiddenError) Error() string { return e.Message }

func NewForbidden(format string, args ...interface{}) *ForbiddenError {
	return &ForbiddenError{Message: fmt.Sprintf(format, args...)}
}

type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func NewNotFound(format string, args ...interface{}) *NotFoundError {
	return &NotFoundError{Message: fmt.Sprintf(format, args...)}
}

// PricingUnavailableError means the upstream catalog could not confirm
// pricing and the fallback path was not permitted.
type PricingUnavailableError struct {
	Message string
	Err     error
}

func (e *PricingUnavailableError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PricingUnavailableError) Unwrap() error { return e.Err }

func NewPricingUnavailable(message string, err error) *PricingUnavailableError {
	return &PricingUnavailableError{Message: message, Err: err}
}

// HTTPStatus maps a domain error to the status code the handler should write.
func HTTPStatus(err error) int {
	var validation *ValidationError
	var forbidden *ForbiddenError
	var notFound *NotFoundError
	var pricing *PricingUnavailableError

	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &pricing):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
