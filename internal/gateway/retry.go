package gateway

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/avast/retry-go/v5"
	"go.uber.org/zap"
)

// RetryExecutor — ограниченный повтор с экспоненциальным бэкоффом.
// Повторяются только отказы, помеченные адаптером как transient;
// permanent и неизвестные ошибки уходят наверх сразу (fail-safe).
type RetryExecutor struct {
	maxAttempts   int
	backoffFactor float64
	maxDelay      time.Duration
	logger        *zap.Logger
}

func NewRetryExecutor(maxAttempts int, backoffFactor float64, maxDelay time.Duration, logger *zap.Logger) *RetryExecutor {
	return &RetryExecutor{
		maxAttempts:   maxAttempts,
		backoffFactor: backoffFactor,
		maxDelay:      maxDelay,
		logger:        logger.Named("retry"),
	}
}

// Run выполняет fn до maxAttempts раз. Задержка перед n-м повтором —
// min(backoffFactor^n, maxDelay) секунд, либо Retry-After из ThrottleError.
func (e *RetryExecutor) Run(ctx context.Context, fn func() error) error {
	attempt := 0

	r := retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(e.maxAttempts)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			var tErr *TransientError
			var thErr *ThrottleError
			retriable := errors.As(err, &tErr) || errors.As(err, &thErr)
			if !retriable {
				// Permanent, CircuitOpen и неизвестные ошибки не повторяем.
				// OPEN предохранитель срезает оставшиеся попытки дешево.
				e.logger.Debug("not retriable, propagating", zap.Error(err))
			}
			return retriable
		}),
		// Умный расчет задержки
		retry.DelayType(func(n uint, err error, config retry.DelayContext) time.Duration {
			// Бэкенд прислал Retry-After — уважаем его
			var thErr *ThrottleError
			if errors.As(err, &thErr) {
				return thErr.RetryAfter
			}

			delaySec := math.Min(math.Pow(e.backoffFactor, float64(n)), e.maxDelay.Seconds())
			return time.Duration(delaySec * float64(time.Second))
		}),
	)

	return r.Do(func() error {
		attempt++
		err := fn()
		if err != nil {
			e.logger.Warn("attempt failed",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", e.maxAttempts),
				zap.Error(err),
			)
		}
		return err
	})
}
