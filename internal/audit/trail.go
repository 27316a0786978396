package audit

/*
Файл trail.go реализует асинхронный журнал инцидентов валидации.

Ключевые особенности архитектуры:
- Non-blocking Logging: неблокирующий канал между Hot Path пайплайна и
  воркером записи. Задержки БД не влияют на Response Time хода диалога.
- Batching: накопление инцидентов и пакетная запись (Bulk Insert)
  в PostgreSQL по таймеру или при достижении лимита (100 записей).
- Drain Pattern & Graceful Shutdown: при остановке канал запирается,
  воркер вычитывает остатки и делает финальный flush — записи не теряются
  при штатной перезагрузке.
- Circuit Breaker на записи: лежащая БД выбивает предохранитель, и батчи
  сбрасываются быстро (с логом), вместо того чтобы подвешивать воркер.
*/

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// StorageInterface определяет, куда физически сохраняются инциденты
type StorageInterface interface {
	// WriteBatch сохраняет пачку инцидентов за один раз
	WriteBatch(ctx context.Context, incidents []Incident) error
}

// Recorder — контракт для пайплайна: запись инцидента best-effort.
type Recorder interface {
	Log(incident Incident)
}

type Trail struct {
	ch     chan Incident
	repo   StorageInterface
	cb     *gobreaker.CircuitBreaker
	logger *zap.Logger
	wg     sync.WaitGroup

	// Log держит RLock на время отправки в канал, Stop закрывает канал под
	// Lock: отправка в закрытый канал исключена, а не "маловероятна"
	mu     sync.RWMutex
	closed bool

	flushInterval time.Duration

	// Хук заполненности буфера (backpressure gauge)
	onBufferFill func(n int)
}

func NewTrail(repo StorageInterface, bufferSize int, flushInterval time.Duration, logger *zap.Logger) *Trail {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "audit-storage",
		Interval: 30 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 3
		},
	})

	return &Trail{
		ch:            make(chan Incident, bufferSize),
		repo:          repo,
		cb:            cb,
		logger:        logger.With(zap.String("mod", "audit-trail")),
		flushInterval: flushInterval,
	}
}

// OnBufferFill регистрирует хук для gauge заполненности буфера.
func (t *Trail) OnBufferFill(fn func(n int)) { t.onBufferFill = fn }

func (t *Trail) Start() {
	t.wg.Add(1)
	go t.worker()
}

// Stop запирает вход в канал и ждет, пока воркер всё допишет.
func (t *Trail) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.logger.Info("stopping audit trail: closing channel and flushing buffer...")
	close(t.ch)
	t.mu.Unlock()

	t.wg.Wait()
	t.logger.Info("audit trail stopped gracefully")
}

// Log — best-effort: при переполненном буфере инцидент уходит в обычный лог
// (Load Shedding), а не блокирует ход диалога.
func (t *Trail) Log(incident Incident) {
	if incident.Timestamp.IsZero() {
		incident.Timestamp = time.Now()
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		t.logger.Warn("incident dropped: trail is stopping", zap.String("log_id", incident.LogID))
		return
	}

	select {
	case t.ch <- incident:
		if t.onBufferFill != nil {
			t.onBufferFill(len(t.ch))
		}
	default:
		t.logger.Error("audit_buffer_overflow",
			zap.String("log_id", incident.LogID),
			zap.String("session_id", incident.SessionID),
			zap.String("severity", incident.Severity),
		)
	}
}

func (t *Trail) worker() {
	defer t.wg.Done()

	batch := make([]Incident, 0, 100)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Background: основной контекст к моменту финального flush может быть закрыт
		_, err := t.cb.Execute(func() (interface{}, error) {
			return nil, t.repo.WriteBatch(context.Background(), batch)
		})
		if err != nil {
			t.logger.Error("audit flush failed", zap.Int("batch", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case incident, ok := <-t.ch:
			if !ok {
				// Канал закрыт в Stop(): вычитали остатки, финальный flush и выход
				flush()
				t.logger.Info("audit worker finished")
				return
			}
			batch = append(batch, incident)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
