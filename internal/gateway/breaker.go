package gateway

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// State — состояние предохранителя.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// Breaker — предохранитель вокруг ненадежного бэкенда.
//
// Семантика отличается от стоковых библиотек: счетчик отказов в CLOSED
// затухает на единицу при каждом успехе (а не обнуляется), и сбрасывается
// в ноль только после полного восстановления — двух успехов подряд в HALF_OPEN.
// Поэтому реализация своя, а не gobreaker (см. DESIGN.md).
type Breaker struct {
	name             string
	failureThreshold int
	openTimeout      time.Duration

	mu            sync.Mutex
	state         State
	failureCount  int
	successCount  int
	lastFailureAt time.Time

	logger *zap.Logger
	// Хук для метрик (gauge состояния); вызывается под mu, без I/O внутри
	onStateChange func(name string, s State)

	now func() time.Time // подменяется в тестах
}

func NewBreaker(name string, failureThreshold int, openTimeout time.Duration, logger *zap.Logger) *Breaker {
	return &Breaker{
		name:             name,
		failureThreshold: failureThreshold,
		openTimeout:      openTimeout,
		state:            StateClosed,
		logger:           logger.Named("breaker").With(zap.String("name", name)),
		now:              time.Now,
	}
}

// OnStateChange регистрирует хук переходов (например, prometheus gauge).
func (b *Breaker) OnStateChange(fn func(name string, s State)) {
	b.mu.Lock()
	b.onStateChange = fn
	b.mu.Unlock()
}

// Do выполняет fn под защитой предохранителя.
// В OPEN возвращает CircuitOpenError без вызова fn; по истечении openTimeout
// переходит в HALF_OPEN и пропускает пробный вызов.
func (b *Breaker) Do(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn()
	if err != nil {
		b.onFailure()
		return err // исходная ошибка уходит наверх в любом случае
	}

	b.onSuccess()
	return nil
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen {
		if b.now().Sub(b.lastFailureAt) > b.openTimeout {
			b.logger.Info("transitioning to HALF_OPEN")
			b.setState(StateHalfOpen)
			b.successCount = 0
			return nil
		}
		return &CircuitOpenError{Name: b.name, Timeout: b.openTimeout}
	}
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.successCount++
		// Два успеха подряд — полное восстановление
		if b.successCount >= 2 {
			b.logger.Info("transitioning to CLOSED")
			b.setState(StateClosed)
			b.failureCount = 0
		}
	case StateClosed:
		// Затухание счетчика, пол — ноль
		if b.failureCount > 0 {
			b.failureCount--
		}
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureAt = b.now()

	switch b.state {
	case StateHalfOpen:
		// Единственный провал пробного вызова снова выбивает предохранитель
		b.logger.Warn("failure in HALF_OPEN, returning to OPEN")
		b.setState(StateOpen)
	case StateClosed:
		if b.failureCount >= b.failureThreshold {
			b.logger.Error("opening circuit",
				zap.Int("failures", b.failureCount),
				zap.Int("threshold", b.failureThreshold),
			)
			b.setState(StateOpen)
		}
	}
}

// setState вызывается только под mu.
func (b *Breaker) setState(s State) {
	b.state = s
	if b.onStateChange != nil {
		b.onStateChange(b.name, s)
	}
}

// Snapshot — текущее состояние для мониторинга.
type Snapshot struct {
	Name          string    `json:"name"`
	State         string    `json:"state"`
	FailureCount  int       `json:"failure_count"`
	LastFailureAt time.Time `json:"last_failure_at"`
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:          b.name,
		State:         b.state.String(),
		FailureCount:  b.failureCount,
		LastFailureAt: b.lastFailureAt,
	}
}
