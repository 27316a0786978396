package gateway

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errBoom = errors.New("boom")

func fail() error { return errBoom }
func ok() error   { return nil }

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute, zap.NewNop())

	for i := 0; i < 3; i++ {
		require.ErrorIs(t, b.Do(fail), errBoom)
	}

	// Предохранитель выбит: вызов отклоняется без обращения к fn
	called := false
	err := b.Do(func() error { called = true; return nil })

	var coErr *CircuitOpenError
	require.ErrorAs(t, err, &coErr)
	require.False(t, called)
	require.Equal(t, "OPEN", b.Snapshot().State)
}

func TestBreakerHalfOpenProbeAfterTimeout(t *testing.T) {
	b := NewBreaker("test", 2, 30*time.Second, zap.NewNop())
	current := time.Now()
	b.now = func() time.Time { return current }

	require.Error(t, b.Do(fail))
	require.Error(t, b.Do(fail))
	require.Equal(t, "OPEN", b.Snapshot().State)

	// До истечения openTimeout — отказ без вызова
	current = current.Add(29 * time.Second)
	var coErr *CircuitOpenError
	require.ErrorAs(t, b.Do(ok), &coErr)

	// После — пробный вызов пропускается
	current = current.Add(2 * time.Second)
	require.NoError(t, b.Do(ok))
	require.Equal(t, "HALF_OPEN", b.Snapshot().State)
}

func TestBreakerFailureInHalfOpenReturnsToOpen(t *testing.T) {
	b := NewBreaker("test", 2, 30*time.Second, zap.NewNop())
	current := time.Now()
	b.now = func() time.Time { return current }

	require.Error(t, b.Do(fail))
	require.Error(t, b.Do(fail))

	current = current.Add(31 * time.Second)
	require.ErrorIs(t, b.Do(fail), errBoom)
	require.Equal(t, "OPEN", b.Snapshot().State)

	// Таймер отсчитывается заново от свежего провала
	var coErr *CircuitOpenError
	require.ErrorAs(t, b.Do(ok), &coErr)
}

func TestBreakerTwoSuccessesCloseAndResetCounter(t *testing.T) {
	b := NewBreaker("test", 2, 30*time.Second, zap.NewNop())
	current := time.Now()
	b.now = func() time.Time { return current }

	require.Error(t, b.Do(fail))
	require.Error(t, b.Do(fail))

	current = current.Add(31 * time.Second)
	require.NoError(t, b.Do(ok))
	require.Equal(t, "HALF_OPEN", b.Snapshot().State)

	require.NoError(t, b.Do(ok))
	snap := b.Snapshot()
	require.Equal(t, "CLOSED", snap.State)
	require.Equal(t, 0, snap.FailureCount)
}

func TestBreakerFailureCountDecaysOnSuccess(t *testing.T) {
	b := NewBreaker("test", 3, time.Minute, zap.NewNop())

	require.Error(t, b.Do(fail))
	require.Error(t, b.Do(fail))
	require.Equal(t, 2, b.Snapshot().FailureCount)

	// Успех затухает на единицу, не обнуляет
	require.NoError(t, b.Do(ok))
	require.Equal(t, 1, b.Snapshot().FailureCount)

	// Один новый провал не добивает до порога
	require.Error(t, b.Do(fail))
	require.Equal(t, "CLOSED", b.Snapshot().State)
}

func TestBreakerStateChangeHook(t *testing.T) {
	b := NewBreaker("test", 1, time.Minute, zap.NewNop())

	var states []State
	b.OnStateChange(func(name string, s State) { states = append(states, s) })

	require.Error(t, b.Do(fail))
	require.Equal(t, []State{StateOpen}, states)
}
