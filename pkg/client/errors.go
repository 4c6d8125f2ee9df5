package client

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrServerUnavailable is returned when the health monitor reports the
	// backend offline and a fresh check confirms it.
	ErrServerUnavailable = errors.New("prediction server unavailable")
	// ErrRetriesExhausted wraps the last attempt's error once every retry failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// TransportError covers network, DNS and per-attempt timeout failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the attempt ran out of time.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// HTTPStatusError is a non-2xx response from the backend.
type HTTPStatusError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("backend returned %s: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("backend returned %s", e.Status)
}

// ProtocolError is a 2xx response whose envelope could not be understood.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string {
	return "invalid response envelope: " + e.Reason
}

// BackendRejection is a well-formed envelope carrying success=false.
type BackendRejection struct {
	Message string
}

func (e *BackendRejection) Error() string {
	return "backend rejected prediction: " + e.Message
}

// IsRetryable reports whether err is a transient failure worth another attempt.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var se *HTTPStatusError
	return errors.As(err, &se)
}

// Kind returns a short stable label for err, used in logs and the audit trail.
func Kind(err error) string {
	var (
		te *TransportError
		se *HTTPStatusError
		pe *ProtocolError
		br *BackendRejection
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrServerUnavailable):
		return "unavailable"
	case errors.As(err, &br):
		return "rejection"
	case errors.As(err, &pe):
		return "protocol"
	case errors.As(err, &se):
		return "http_status"
	case errors.As(err, &te):
		return "transport"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "unknown"
	}
}

// UserMessage converts any prediction failure into a message fit for display.
func UserMessage(err error) string {
	var (
		te *TransportError
		se *HTTPStatusError
		pe *ProtocolError
		br *BackendRejection
	)
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrServerUnavailable):
		return "The prediction server is not available. Check that it is running and try again."
	case errors.As(err, &br):
		return br.Message
	case errors.As(err, &pe):
		return "The prediction server sent a response that could not be read."
	case errors.As(err, &se):
		return fmt.Sprintf("The prediction server answered with %s. Please try again.", se.Status)
	case errors.As(err, &te) && te.Timeout():
		return "The connection to the prediction server timed out. Please try again."
	case errors.As(err, &te):
		return "Cannot connect to the prediction server. Check that it is running."
	case errors.Is(err, context.Canceled):
		return "The request was cancelled."
	default:
		return err.Error()
	}
}
