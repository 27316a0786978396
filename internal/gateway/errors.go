package gateway

import (
	"fmt"
	"time"

	"github.com/xela07ax/dialoguard/internal/connectors"
)

// Таксономия transient/permanent живет рядом с адаптерами в connectors;
// здесь — алиасы для вызывающих шлюз и собственные отказы самого шлюза.
type (
	TransientError = connectors.TransientError
	PermanentError = connectors.PermanentError
	ThrottleError  = connectors.ThrottleError
)

var (
	Transient = connectors.Transient
	Permanent = connectors.Permanent
)

// CircuitOpenError — быстрый отказ без вызова бэкенда: предохранитель выбит.
type CircuitOpenError struct {
	Name    string
	Timeout time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker %s is OPEN, service unavailable, will retry after %v", e.Name, e.Timeout)
}

// RateLimitError — исходящий лимит исчерпан, вызов бэкенда не выполнялся.
type RateLimitError struct {
	MaxCalls int
	Window   time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d calls per %v", e.MaxCalls, e.Window)
}
