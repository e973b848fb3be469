// ABOUTME: Error hierarchy for backend calls that fail before any stream starts.
// ABOUTME: TransportError is the base; status-specific types carry the HTTP status and retryability.
package client

import (
	"errors"
	"fmt"
)

// ErrEmptyMessage is returned when a chat message or search query is blank.
var ErrEmptyMessage = errors.New("message must not be empty")

// TransportError is the base type for failures reaching the backend.
type TransportError struct {
	Message string
	Cause   error
}

func (e *TransportError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns false for the base TransportError. Subtypes override this.
func (e *TransportError) IsRetryable() bool {
	return false
}

// StatusError is a non-success HTTP response from the backend.
type StatusError struct {
	TransportError
	StatusCode int
	Detail     string
	Retryable  bool
}

func (e *StatusError) Error() string     { return e.TransportError.Error() }
func (e *StatusError) Unwrap() error     { return e.TransportError.Unwrap() }
func (e *StatusError) IsRetryable() bool { return e.Retryable }

// As lets errors.As find the embedded TransportError.
func (e *StatusError) As(target any) bool {
	if t, ok := target.(**TransportError); ok {
		*t = &e.TransportError
		return true
	}
	return false
}

// InvalidRequestError is a 400 or 422 response. Not retryable.
type InvalidRequestError struct {
	StatusError
}

// NotFoundError is a 404 response. Not retryable.
type NotFoundError struct {
	StatusError
}

// RateLimitError is a 429 response. Retryable.
type RateLimitError struct {
	StatusError
}

// ServerError is a 5xx response. Retryable.
type ServerError struct {
	StatusError
}

// As lets errors.As reach StatusError and TransportError through the subtypes.
func (e *InvalidRequestError) As(target any) bool { return asStatus(&e.StatusError, target) }
func (e *NotFoundError) As(target any) bool       { return asStatus(&e.StatusError, target) }
func (e *RateLimitError) As(target any) bool      { return asStatus(&e.StatusError, target) }
func (e *ServerError) As(target any) bool         { return asStatus(&e.StatusError, target) }

func asStatus(se *StatusError, target any) bool {
	switch t := target.(type) {
	case **StatusError:
		*t = se
		return true
	case **TransportError:
		*t = &se.TransportError
		return true
	default:
		return false
	}
}

// NetworkError is a connection-level failure (DNS, refused, reset). Retryable.
type NetworkError struct {
	TransportError
}

func (e *NetworkError) Error() string     { return e.TransportError.Error() }
func (e *NetworkError) Unwrap() error     { return e.TransportError.Unwrap() }
func (e *NetworkError) IsRetryable() bool { return true }

// As lets errors.As find the embedded TransportError.
func (e *NetworkError) As(target any) bool {
	if t, ok := target.(**TransportError); ok {
		*t = &e.TransportError
		return true
	}
	return false
}

// ErrorFromStatusCode maps an HTTP status to the matching error type.
func ErrorFromStatusCode(statusCode int, endpoint, detail string) error {
	message := fmt.Sprintf("%s returned status %d", endpoint, statusCode)
	if detail != "" {
		message += ": " + detail
	}
	base := StatusError{
		TransportError: TransportError{Message: message},
		StatusCode:     statusCode,
		Detail:         detail,
	}

	switch {
	case statusCode == 400 || statusCode == 422:
		return &InvalidRequestError{StatusError: base}
	case statusCode == 404:
		return &NotFoundError{StatusError: base}
	case statusCode == 408:
		base.Retryable = true
		return &base
	case statusCode == 429:
		base.Retryable = true
		return &RateLimitError{StatusError: base}
	case statusCode >= 500 && statusCode <= 599:
		base.Retryable = true
		return &ServerError{StatusError: base}
	default:
		return &base
	}
}
