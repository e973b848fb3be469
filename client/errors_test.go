// ABOUTME: Tests for the backend transport error hierarchy.
// ABOUTME: Validates status code mapping, retryability, unwrapping, and errors.As through subtypes.

package client

import (
	"errors"
	"fmt"
	"testing"
)

func TestTransportError(t *testing.T) {
	t.Run("message only", func(t *testing.T) {
		err := &TransportError{Message: "backend unreachable"}
		if err.Error() != "backend unreachable" {
			t.Errorf("got %q, want %q", err.Error(), "backend unreachable")
		}
		if err.IsRetryable() {
			t.Error("TransportError should not be retryable by default")
		}
		if err.Unwrap() != nil {
			t.Error("expected nil cause")
		}
	})

	t.Run("with cause", func(t *testing.T) {
		cause := fmt.Errorf("connection reset")
		err := &TransportError{Message: "request failed", Cause: cause}
		if err.Error() != "request failed: connection reset" {
			t.Errorf("got %q", err.Error())
		}
		if !errors.Is(err, cause) {
			t.Error("errors.Is should find the cause")
		}
	})
}

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		retryable bool
		check     func(error) bool
	}{
		{400, false, func(e error) bool { var x *InvalidRequestError; return errors.As(e, &x) }},
		{422, false, func(e error) bool { var x *InvalidRequestError; return errors.As(e, &x) }},
		{404, false, func(e error) bool { var x *NotFoundError; return errors.As(e, &x) }},
		{408, true, func(e error) bool { var x *StatusError; return errors.As(e, &x) }},
		{429, true, func(e error) bool { var x *RateLimitError; return errors.As(e, &x) }},
		{500, true, func(e error) bool { var x *ServerError; return errors.As(e, &x) }},
		{503, true, func(e error) bool { var x *ServerError; return errors.As(e, &x) }},
		{418, false, func(e error) bool { var x *StatusError; return errors.As(e, &x) }},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status %d", tt.status), func(t *testing.T) {
			err := ErrorFromStatusCode(tt.status, "/api/chat-stream", "detail text")
			if !tt.check(err) {
				t.Fatalf("unexpected type %T", err)
			}
			r, ok := err.(interface{ IsRetryable() bool })
			if !ok {
				t.Fatalf("%T has no IsRetryable", err)
			}
			if r.IsRetryable() != tt.retryable {
				t.Errorf("IsRetryable = %v, want %v", r.IsRetryable(), tt.retryable)
			}

			var se *StatusError
			if !errors.As(err, &se) {
				t.Fatal("errors.As should reach StatusError")
			}
			if se.StatusCode != tt.status {
				t.Errorf("StatusCode = %d, want %d", se.StatusCode, tt.status)
			}
			if se.Detail != "detail text" {
				t.Errorf("Detail = %q", se.Detail)
			}

			var te *TransportError
			if !errors.As(err, &te) {
				t.Fatal("errors.As should reach TransportError")
			}
		})
	}
}

func TestErrorFromStatusCodeMessage(t *testing.T) {
	err := ErrorFromStatusCode(500, "/api/events", "")
	if err.Error() != "/api/events returned status 500" {
		t.Errorf("got %q", err.Error())
	}
	err = ErrorFromStatusCode(404, "/api/delete-event/{id}", "Event with ID 9 not found")
	if err.Error() != "/api/delete-event/{id} returned status 404: Event with ID 9 not found" {
		t.Errorf("got %q", err.Error())
	}
}

func TestNetworkError(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &NetworkError{TransportError: TransportError{Message: "request failed", Cause: cause}}
	if !err.IsRetryable() {
		t.Error("NetworkError should be retryable")
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
	var te *TransportError
	if !errors.As(err, &te) {
		t.Error("errors.As should reach TransportError")
	}
}
