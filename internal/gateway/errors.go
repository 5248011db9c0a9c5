package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned in the response envelope. These are the only codes
// the gateway exposes; internal reason strings stay in logs.
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeValidation         = "VALIDATION_ERROR"
	CodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	CodeStoreUnavailable   = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_SERVER_ERROR"
	CodeUnsupportedVersion = "UNSUPPORTED_VERSION"
)

// Error is a typed gateway failure. It carries the HTTP status and envelope
// code for the boundary, plus an internal message that is only shown to
// clients in development mode.
type Error struct {
	Status  int
	Code    string
	Message string
	Reason  string // internal reason for logging, never sent to clients
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Reason)
	}
	return e.Code
}

// Taxonomy constructors. Message is the production-safe client message;
// reason (where accepted) is for the security log only.

func ErrUnsupportedVersion(version string) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    CodeUnsupportedVersion,
		Message: "Unsupported API version",
		Reason:  "version " + version,
	}
}

func ErrUnauthenticated(reason string) *Error {
	return &Error{
		Status:  http.StatusUnauthorized,
		Code:    CodeUnauthorized,
		Message: "Authentication required",
		Reason:  reason,
	}
}

func ErrForbidden(reason string) *Error {
	return &Error{
		Status:  http.StatusForbidden,
		Code:    CodeForbidden,
		Message: "Insufficient permissions",
		Reason:  reason,
	}
}

func ErrNotFound(what string) *Error {
	return &Error{
		Status:  http.StatusNotFound,
		Code:    CodeNotFound,
		Message: what + " not found",
	}
}

func ErrValidation(message string) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    CodeValidation,
		Message: message,
	}
}

func ErrRateLimited() *Error {
	return &Error{
		Status:  http.StatusTooManyRequests,
		Code:    CodeRateLimited,
		Message: "Rate limit exceeded",
	}
}

// ErrStoreUnavailable covers backing-store timeouts and outages. The gateway
// always fails closed on these.
func ErrStoreUnavailable(err error) *Error {
	return &Error{
		Status:  http.StatusServiceUnavailable,
		Code:    CodeStoreUnavailable,
		Message: "Service temporarily unavailable",
		Reason:  err.Error(),
	}
}

func ErrInternal(err error) *Error {
	return &Error{
		Status:  http.StatusInternalServerError,
		Code:    CodeInternal,
		Message: "An error occurred",
		Reason:  err.Error(),
	}
}

// AsError converts any error into a gateway *Error, mapping context
// deadline and cancellation failures to the fail-closed unavailable code
// and everything unrecognized to an internal error.
func AsError(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrStoreUnavailable(err)
	}
	return ErrInternal(err)
}
