package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/dialoguard/internal/connectors"
)

type stubBackend struct {
	calls int
	err   error
}

func (s *stubBackend) Generate(ctx context.Context, req connectors.GenerateRequest) (*connectors.GenerateResult, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return &connectors.GenerateResult{Text: "hello", StopReason: connectors.StopEnd}, nil
}

func newTestGateway(backend Backend, maxCalls int) *Gateway {
	logger := zap.NewNop()
	return NewGateway(
		backend,
		NewBreaker("test", 5, time.Minute, logger),
		NewRetryExecutor(3, 2, time.Millisecond, logger),
		NewRateWindow(maxCalls, time.Minute, logger),
		time.Second,
		logger,
	)
}

func TestGatewayHappyPath(t *testing.T) {
	backend := &stubBackend{}
	g := newTestGateway(backend, 10)

	res, err := g.Generate(context.Background(), connectors.GenerateRequest{})
	require.NoError(t, err)
	require.Equal(t, "hello", res.Text)
	require.Equal(t, 1, backend.calls)
}

func TestGatewayRateLimitDoesNotTouchBackend(t *testing.T) {
	backend := &stubBackend{}
	g := newTestGateway(backend, 1)

	_, err := g.Generate(context.Background(), connectors.GenerateRequest{})
	require.NoError(t, err)

	_, err = g.Generate(context.Background(), connectors.GenerateRequest{})
	var rlErr *RateLimitError
	require.ErrorAs(t, err, &rlErr)
	require.Equal(t, 1, backend.calls, "rejected call must not reach the backend")
	// Отказ лимитера не идет в зачет предохранителю
	require.Equal(t, 0, g.Breaker().Snapshot().FailureCount)
}

func TestGatewayRetriesTransientFailures(t *testing.T) {
	backend := &stubBackend{err: Transient(errors.New("connection reset"))}
	g := newTestGateway(backend, 10)

	_, err := g.Generate(context.Background(), connectors.GenerateRequest{})
	require.Error(t, err)
	require.Equal(t, 3, backend.calls)
}

func TestGatewayOpenBreakerCutsAttempts(t *testing.T) {
	backend := &stubBackend{err: Transient(errors.New("down"))}
	logger := zap.NewNop()
	g := NewGateway(
		backend,
		NewBreaker("test", 2, time.Minute, logger), // выбьет на второй попытке
		NewRetryExecutor(5, 2, time.Millisecond, logger),
		NewRateWindow(10, time.Minute, logger),
		time.Second,
		logger,
	)

	_, err := g.Generate(context.Background(), connectors.GenerateRequest{})
	require.Error(t, err)
	// Две реальные попытки выбили предохранитель; CircuitOpen дальше не повторяется
	require.Equal(t, 2, backend.calls)
}
