package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s2batch/internal/logging"
)

func TestFromHTTPStatusClassifies(t *testing.T) {
	err := FromHTTPStatus(http.StatusServiceUnavailable, 7, nil)
	assert.True(t, IsTransient(err))
	assert.Equal(t, http.StatusServiceUnavailable, StatusCode(err))

	err = FromHTTPStatus(http.StatusUnauthorized, 0, errors.New("bad credentials"))
	assert.True(t, IsPermanent(err))
	assert.False(t, IsTransient(err))
	assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
}

func TestWrappedTransientIsDetected(t *testing.T) {
	base := NewTransientError(errors.New("reset"), "catalog connection reset")
	wrapped := fmt.Errorf("query page 2: %w", base)
	assert.True(t, IsTransient(wrapped))
	assert.Equal(t, ErrorTypeTransient, GetErrorType(wrapped))
}

func TestPlainErrorIsPermanent(t *testing.T) {
	err := errors.New("malformed response")
	assert.False(t, IsTransient(err))
	assert.True(t, IsPermanent(err))
}

func TestRetryStopsOnPermanent(t *testing.T) {
	calls := 0
	err := RetryWithLog(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return &PermanentError{Err: errors.New("no"), StatusCode: http.StatusNotFound}
	}, logging.Nop())
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetrySucceedsAfterTransient(t *testing.T) {
	calls := 0
	got, err := RetryWithResultAndLog(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, NewTransientError(errors.New("busy"), "busy")
		}
		return 42, nil
	}, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, 42, got)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	err := RetryWithLog(context.Background(), RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return NewTransientError(errors.New("busy"), "busy")
	}, logging.Nop())
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Contains(t, err.Error(), "max retries exceeded")
}

func TestRetryHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RetryWithLog(ctx, DefaultRetryConfig(), func(context.Context) error { return nil }, logging.Nop())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRetryAfterCappedByMaxDelay(t *testing.T) {
	err := &TransientError{Err: errors.New("slow down"), RetryAfter: 120}
	delay := retryDelay(err, 0, RetryConfig{BaseDelay: time.Second, MaxDelay: 5 * time.Second})
	assert.Equal(t, 5*time.Second, delay)
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	now := time.Unix(1000, 0)
	cb := NewCircuitBreaker("catalog", CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: 10 * time.Second})
	cb.logger = logging.Nop()
	cb.now = func() time.Time { return now }

	cb.Mark(errors.New("500"))
	require.NoError(t, cb.Allow())
	cb.Mark(errors.New("500"))
	assert.Equal(t, StateOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, IsDegraded(err))
	assert.False(t, IsTransient(err))

	now = now.Add(11 * time.Second)
	require.NoError(t, cb.Allow())
	assert.Equal(t, StateHalfOpen, cb.State())
	cb.Mark(nil)
	assert.Equal(t, StateClosed, cb.State())
}
