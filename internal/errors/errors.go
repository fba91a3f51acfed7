// Package errors provides standardized error handling for the store client.
// It covers two concerns: the coded errors returned by the HTTP surface, and the
// taxonomy the refresh and review workflows use to decide how a failure is reported.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a standardized error code for the store client API.
type ErrorCode string

const (
	// Validation errors
	STORE_VALIDATION  ErrorCode = "STORE_VALIDATION"  // General validation error
	STORE_BAD_REQUEST ErrorCode = "STORE_BAD_REQUEST" // Bad request

	// Authentication errors
	STORE_AUTHN       ErrorCode = "STORE_AUTHN"       // Authentication failed
	STORE_JWT_INVALID ErrorCode = "STORE_JWT_INVALID" // Invalid JWT
	STORE_JWT_EXPIRED ErrorCode = "STORE_JWT_EXPIRED" // Expired JWT

	// Resource errors
	STORE_NOT_FOUND ErrorCode = "STORE_NOT_FOUND" // App, category or page state not found
	STORE_CONFLICT  ErrorCode = "STORE_CONFLICT"  // Backend refused the change

	// Upstream errors
	STORE_BACKEND ErrorCode = "STORE_BACKEND" // snapd or review service failed

	// Server errors
	STORE_INTERNAL        ErrorCode = "STORE_INTERNAL"        // Internal server error
	STORE_UNAVAILABLE     ErrorCode = "STORE_UNAVAILABLE"     // Service unavailable
	STORE_NOT_IMPLEMENTED ErrorCode = "STORE_NOT_IMPLEMENTED" // Not implemented
)

// Error represents a standardized error response.
type Error struct {
	Code          ErrorCode   `json:"code"`
	Message       string      `json:"message"`
	CorrelationID string      `json:"correlationId"`
	Details       interface{} `json:"details,omitempty"`
	HTTPStatus    int         `json:"-"`
}

// New creates a new Error with the specified code and message.
func New(code ErrorCode, message string, correlationID string) *Error {
	return &Error{
		Code:          code,
		Message:       message,
		CorrelationID: correlationID,
		HTTPStatus:    httpStatusCodeForCode(code),
	}
}

// NewWithDetails creates a new Error with the specified code, message, and details.
func NewWithDetails(code ErrorCode, message string, correlationID string, details interface{}) *Error {
	e := New(code, message, correlationID)
	e.Details = details
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Details != nil {
		return fmt.Sprintf("%s: %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// httpStatusCodeForCode maps error codes to HTTP status codes.
func httpStatusCodeForCode(code ErrorCode) int {
	switch code {
	case STORE_VALIDATION, STORE_BAD_REQUEST:
		return http.StatusBadRequest
	case STORE_AUTHN, STORE_JWT_INVALID, STORE_JWT_EXPIRED:
		return http.StatusUnauthorized
	case STORE_NOT_FOUND:
		return http.StatusNotFound
	case STORE_CONFLICT:
		return http.StatusConflict
	case STORE_BACKEND:
		return http.StatusBadGateway
	case STORE_UNAVAILABLE:
		return http.StatusServiceUnavailable
	case STORE_NOT_IMPLEMENTED:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}

// Workflow failure taxonomy.
var (
	// ErrCancelled marks an operation superseded by a newer selection.
	ErrCancelled = stderrors.New("operation cancelled")
	// ErrMalformedCache marks a cached value that failed validation or decoding.
	ErrMalformedCache = stderrors.New("malformed cache entry")
)

// Kind classifies a workflow failure.
type Kind int

const (
	KindNone           Kind = iota // No error
	KindCancelled                  // Superseded; always silent
	KindMalformedCache             // Bad cached data; treated as a miss
	KindTransient                  // Network or backend failure; logged as a warning, never retried
)

// String returns the metric label for the kind.
func (k Kind) String() string {
	switch k {
	case KindNone:
		return "ok"
	case KindCancelled:
		return "cancelled"
	case KindMalformedCache:
		return "malformed_cache"
	default:
		return "failed"
	}
}

// Classify maps an error returned by a collaborator onto the workflow taxonomy.
func Classify(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case stderrors.Is(err, ErrCancelled), stderrors.Is(err, context.Canceled):
		return KindCancelled
	case stderrors.Is(err, ErrMalformedCache):
		return KindMalformedCache
	default:
		return KindTransient
	}
}
