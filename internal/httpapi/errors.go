// Package httpapi wires the HTTP surface: two endpoints, auth, and the
// non-streaming/streaming dispatch spec.md §4.7 describes.
package httpapi

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind enumerates the error taxonomy in spec.md §7. These are kinds,
// not distinct Go types: a single Error carries one of these.
type ErrorKind string

const (
	KindBadRequest       ErrorKind = "invalid_request_error"
	KindUnauthorized     ErrorKind = "authentication_error"
	KindUpstreamFailure  ErrorKind = "upstream_error"
	KindEmptyResponse    ErrorKind = "empty_response_error"
	KindStreamIdleTimeout ErrorKind = "idle_timeout_error"
	KindCancelled        ErrorKind = "cancelled_error"
	KindInternal         ErrorKind = "internal_error"
)

// Error is ccbridge's single error type, carrying a Kind, an HTTP status,
// and a message. JSON bodies follow spec.md §7's {type, error:{type,
// message}} shape via the errorBody struct that body() returns.
type Error struct {
	Kind    ErrorKind
	Status  int
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Wrapped)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Wrapped }

func statusFor(kind ErrorKind) int {
	switch kind {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindUpstreamFailure:
		return http.StatusBadGateway
	case KindEmptyResponse:
		return http.StatusRequestTimeout
	case KindStreamIdleTimeout:
		return http.StatusRequestTimeout
	case KindCancelled:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

// NewError builds an Error with the status spec.md §7 prescribes for kind.
func NewError(kind ErrorKind, message string, wrapped error) *Error {
	return &Error{Kind: kind, Status: statusFor(kind), Message: message, Wrapped: wrapped}
}

// AsError extracts an *Error from err, wrapping it as Internal if it is not
// already one — every error that reaches the HTTP surface gets a status.
func AsError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return NewError(KindInternal, err.Error(), err)
}

type errorBody struct {
	Type  string     `json:"type"`
	Error errorField `json:"error"`
}

type errorField struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func (e *Error) body() errorBody {
	return errorBody{
		Type: "error",
		Error: errorField{
			Type:    string(e.Kind),
			Message: e.Message,
		},
	}
}

// upstreamFailureError wraps a raw upstream chunk-stream error so
// runPipeline can inspect it (and attempt a FALLBACK retry, SPEC_FULL.md
// §13) before deciding whether to surface a terminal error event, instead
// of runPipelineOnce emitting one eagerly.
type upstreamFailureError struct {
	cause error
}

func (e *upstreamFailureError) Error() string { return e.cause.Error() }
func (e *upstreamFailureError) Unwrap() error { return e.cause }
