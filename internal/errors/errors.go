package errors

import (
	"fmt"
	"net/http"
	"strings"
)

// APIError pairs an HTTP status with a wire-level error kind and a
// caller-facing message. Handlers and middleware fold it into the uniform
// response envelope; the status code itself never serializes.
type APIError struct {
	StatusCode int         `json:"-"`
	Kind       string      `json:"error"`
	Message    string      `json:"message"`
	Details    interface{} `json:"details,omitempty"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	return e.Message
}

// New creates an APIError with the given status, kind and message
func New(statusCode int, kind, message string) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Kind:       kind,
		Message:    message,
	}
}

// NewWithDetails creates an APIError carrying wire-visible details
func NewWithDetails(statusCode int, kind, message string, details interface{}) *APIError {
	return &APIError{
		StatusCode: statusCode,
		Kind:       kind,
		Message:    message,
		Details:    details,
	}
}

// ValidationError names one required request field that failed validation
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Transport-level error kinds, answered before a request reaches the
// license service.
const (
	KindRouteNotFound    = "RouteNotFound"
	KindMethodNotAllowed = "MethodNotAllowed"
	KindRateLimited      = "RateLimited"
)

// Errors produced by the router and middleware chain
var (
	ErrRouteNotFound     = New(http.StatusNotFound, KindRouteNotFound, "route not found")
	ErrMethodNotAllowed  = New(http.StatusMethodNotAllowed, KindMethodNotAllowed, "method not allowed")
	ErrRateLimitExceeded = New(http.StatusTooManyRequests, KindRateLimited, "rate limit exceeded, retry after 60 seconds")
	ErrInternalServer    = New(http.StatusInternalServerError, KindUnknown, "internal server error")
)

// MissingParameters reports required request fields absent from the
// payload. These requests are rejected before any store access.
func MissingParameters(fields []string) *APIError {
	details := make([]ValidationError, 0, len(fields))
	for _, f := range fields {
		details = append(details, ValidationError{Field: f, Message: "is required"})
	}
	return NewWithDetails(http.StatusBadRequest, KindMissingParameters,
		"missing required parameters: "+strings.Join(fields, ", "), details)
}

// InvalidBody reports an unparseable request payload
func InvalidBody(err error) *APIError {
	return New(http.StatusBadRequest, KindMissingParameters, fmt.Sprintf("invalid JSON body: %v", err))
}

// LicenseNotFound is the operator-facing 404 for an unknown license key
func LicenseNotFound() *APIError {
	return New(http.StatusNotFound, KindLicenseNotFound, "license not found")
}

// StoreUnavailable reports a transient store failure as a 503. The
// underlying error is logged server-side, never sent to the caller.
func StoreUnavailable() *APIError {
	return New(http.StatusServiceUnavailable, KindStoreUnavailable, "license store temporarily unavailable")
}
