package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// Фактор 2 при maxDelay 1ms: задержки в тестах не превышают миллисекунду
func newTestExecutor(attempts int) *RetryExecutor {
	return NewRetryExecutor(attempts, 2, time.Millisecond, zap.NewNop())
}

func TestRetryTransientExhausted(t *testing.T) {
	e := newTestExecutor(3)

	calls := 0
	err := e.Run(context.Background(), func() error {
		calls++
		return Transient(errors.New("flaky backend"))
	})

	require.Error(t, err)
	require.Equal(t, 3, calls)

	var tErr *TransientError
	require.ErrorAs(t, err, &tErr)
}

func TestRetryPermanentFailsFast(t *testing.T) {
	e := newTestExecutor(3)

	calls := 0
	err := e.Run(context.Background(), func() error {
		calls++
		return Permanent(errors.New("invalid api key"))
	})

	require.Error(t, err)
	require.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	e := newTestExecutor(3)

	calls := 0
	err := e.Run(context.Background(), func() error {
		calls++
		if calls == 1 {
			return Transient(errors.New("timeout"))
		}
		return nil
	})

	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestRetryThrottleHonorsRetryAfter(t *testing.T) {
	e := newTestExecutor(2)

	calls := 0
	start := time.Now()
	err := e.Run(context.Background(), func() error {
		calls++
		return &ThrottleError{RetryAfter: 20 * time.Millisecond, Cause: errors.New("429")}
	})

	require.Error(t, err)
	require.Equal(t, 2, calls)
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestRetryCircuitOpenNotRetried(t *testing.T) {
	e := newTestExecutor(3)

	calls := 0
	err := e.Run(context.Background(), func() error {
		calls++
		return &CircuitOpenError{Name: "test", Timeout: time.Minute}
	})

	require.Error(t, err)
	require.Equal(t, 1, calls, "open circuit must cut remaining attempts")
}
