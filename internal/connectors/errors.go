package connectors

import (
	"fmt"
	"time"
)

// Таксономия отказов бэкенда. Классификацию (transient/permanent) проставляет
// адаптер коннектора — вызывающий шлюз ей доверяет и не угадывает по тексту
// ошибки.

// TransientError — отказ, который имеет смысл повторить (таймаут, 5xx, обрыв сети).
type TransientError struct {
	Cause error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %v", e.Cause)
}

func (e *TransientError) Unwrap() error { return e.Cause }

// PermanentError — отказ, который повтор не исправит (4xx, auth, валидация запроса).
type PermanentError struct {
	Cause error
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("permanent: %v", e.Cause)
}

func (e *PermanentError) Unwrap() error { return e.Cause }

// ThrottleError — особый transient: бэкенд прислал Retry-After,
// и задержка перед повтором берется из него, а не из бэкоффа.
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// Transient помечает ошибку как повторяемую.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Cause: err}
}

// Permanent помечает ошибку как неповторяемую.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Cause: err}
}
