package client

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&TransportError{Op: "POST", Err: errors.New("refused")}))
	assert.True(t, IsRetryable(fmt.Errorf("wrapped: %w", &HTTPStatusError{StatusCode: 503})))
	assert.False(t, IsRetryable(&ProtocolError{Reason: "bad"}))
	assert.False(t, IsRetryable(&BackendRejection{Message: "no"}))
	assert.False(t, IsRetryable(ErrServerUnavailable))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "", Kind(nil))
	assert.Equal(t, "unavailable", Kind(ErrServerUnavailable))
	assert.Equal(t, "rejection", Kind(&BackendRejection{Message: "x"}))
	assert.Equal(t, "protocol", Kind(&ProtocolError{Reason: "x"}))
	assert.Equal(t, "http_status", Kind(fmt.Errorf("%w: %w", ErrRetriesExhausted, &HTTPStatusError{StatusCode: 500})))
	assert.Equal(t, "transport", Kind(&TransportError{Op: "GET", Err: errors.New("dns")}))
	assert.Equal(t, "canceled", Kind(context.Canceled))
	assert.Equal(t, "unknown", Kind(errors.New("other")))
}

func TestUserMessage(t *testing.T) {
	timeout := &TransportError{Op: "POST", Err: context.DeadlineExceeded}
	assert.True(t, timeout.Timeout())
	assert.Contains(t, UserMessage(timeout), "timed out")

	assert.Contains(t, UserMessage(ErrServerUnavailable), "not available")
	assert.Equal(t, "bad input", UserMessage(&BackendRejection{Message: "bad input"}))
	assert.Contains(t, UserMessage(&HTTPStatusError{StatusCode: 502, Status: "502 Bad Gateway"}), "502 Bad Gateway")
	assert.Equal(t, "boom", UserMessage(errors.New("boom")))
	assert.Equal(t, "", UserMessage(nil))
}
