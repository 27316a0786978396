package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/xela07ax/dialoguard/internal/connectors"

	"go.uber.org/zap"
)

// Backend — контракт генеративного бэкенда. Реализация обязана помечать
// отказы как transient (таймаут, 5xx, обрыв) или permanent (4xx, auth).
type Backend interface {
	Generate(ctx context.Context, req connectors.GenerateRequest) (*connectors.GenerateResult, error)
}

// Gateway — отказоустойчивая обертка вокруг бэкенда:
// sliding window -> retry -> circuit breaker -> жесткий таймаут попытки.
// Retry снаружи предохранителя: каждая попытка заново проверяет его состояние,
// и выбитый предохранитель срезает оставшиеся попытки без вызова бэкенда.
type Gateway struct {
	next     Backend
	breaker  *Breaker
	executor *RetryExecutor
	limiter  *RateWindow

	// Таймаут одной попытки; просроченная попытка считается transient
	// и идет в зачет предохранителю.
	attemptTimeout time.Duration

	logger *zap.Logger
}

func NewGateway(next Backend, breaker *Breaker, executor *RetryExecutor, limiter *RateWindow, attemptTimeout time.Duration, logger *zap.Logger) *Gateway {
	return &Gateway{
		next:           next,
		breaker:        breaker,
		executor:       executor,
		limiter:        limiter,
		attemptTimeout: attemptTimeout,
		logger:         logger.Named("gateway"),
	}
}

// Breaker отдает предохранитель для мониторинга и метрик.
func (g *Gateway) Breaker() *Breaker { return g.breaker }

// Limiter отдает окно лимитера для наблюдаемости.
func (g *Gateway) Limiter() *RateWindow { return g.limiter }

// Generate вызывает бэкенд под полной защитой.
func (g *Gateway) Generate(ctx context.Context, req connectors.GenerateRequest) (*connectors.GenerateResult, error) {
	// 1. Rate Limiter: отказ не трогает ни бэкенд, ни предохранитель
	if !g.limiter.Allow(time.Now()) {
		stats := g.limiter.Stats()
		return nil, &RateLimitError{MaxCalls: stats.MaxCalls, Window: g.limiter.window}
	}

	var result *connectors.GenerateResult

	// 2. Retry(CircuitBreaker(attempt))
	err := g.executor.Run(ctx, func() error {
		return g.breaker.Do(func() error {
			tCtx, cancel := context.WithTimeout(ctx, g.attemptTimeout)
			defer cancel()

			res, callErr := g.next.Generate(tCtx, req)
			if callErr != nil {
				return g.classifyTimeout(tCtx, callErr)
			}

			result = res
			return nil
		})
	})

	if err != nil {
		return nil, err
	}

	return result, nil
}

// classifyTimeout доворачивает просроченный дедлайн попытки в transient,
// если адаптер не успел классифицировать ошибку сам.
func (g *Gateway) classifyTimeout(ctx context.Context, err error) error {
	var tErr *TransientError
	var pErr *PermanentError
	var thErr *ThrottleError
	if errors.As(err, &tErr) || errors.As(err, &pErr) || errors.As(err, &thErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		g.logger.Warn("attempt deadline exceeded, charging breaker", zap.Duration("timeout", g.attemptTimeout))
		return Transient(err)
	}

	// Неклассифицированная ошибка: не повторяем, но предохранитель ее учитывает
	return err
}
