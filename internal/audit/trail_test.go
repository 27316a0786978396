package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStorage struct {
	mu      sync.Mutex
	batches int
	total   int
}

func (f *fakeStorage) WriteBatch(ctx context.Context, incidents []Incident) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	f.total += len(incidents)
	return nil
}

func (f *fakeStorage) stats() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.batches, f.total
}

func TestTrailDrainsOnStop(t *testing.T) {
	storage := &fakeStorage{}
	trail := NewTrail(storage, 100, time.Hour, zap.NewNop()) // тикер не успеет сработать
	trail.Start()

	for i := 0; i < 5; i++ {
		trail.Log(Incident{LogID: "log", SessionID: "s1", Severity: "low", Timestamp: time.Now()})
	}

	// Stop обязан дочитать канал и сбросить остатки
	trail.Stop()

	_, total := storage.stats()
	require.Equal(t, 5, total)
}

func TestTrailFlushesByTicker(t *testing.T) {
	storage := &fakeStorage{}
	trail := NewTrail(storage, 100, 20*time.Millisecond, zap.NewNop())
	trail.Start()
	defer trail.Stop()

	trail.Log(Incident{LogID: "log", Severity: "medium", Timestamp: time.Now()})

	require.Eventually(t, func() bool {
		_, total := storage.stats()
		return total == 1
	}, time.Second, 10*time.Millisecond)
}

func TestTrailShedsLoadWhenFull(t *testing.T) {
	storage := &fakeStorage{}
	// Буфер на 2 события, воркер не запущен — канал заполняется
	trail := NewTrail(storage, 2, time.Hour, zap.NewNop())

	for i := 0; i < 10; i++ {
		trail.Log(Incident{LogID: "log", Timestamp: time.Now()})
	}

	// Переполнение не блокирует вызывающего; лишнее молча отброшено
	trail.Start()
	trail.Stop()

	_, total := storage.stats()
	assert.Equal(t, 2, total)
}

func TestTrailLogAfterStopIsNoop(t *testing.T) {
	storage := &fakeStorage{}
	trail := NewTrail(storage, 10, time.Hour, zap.NewNop())
	trail.Start()
	trail.Stop()

	// Не должно паниковать записью в закрытый канал
	trail.Log(Incident{LogID: "late", Timestamp: time.Now()})

	_, total := storage.stats()
	assert.Equal(t, 0, total)
}

func TestTrailConcurrentLogAndStop(t *testing.T) {
	storage := &fakeStorage{}
	trail := NewTrail(storage, 1000, time.Hour, zap.NewNop())
	trail.Start()

	// Писатели молотят в канал, пока Stop закрывает его: гонка
	// send-on-closed-channel обязана быть исключена блокировкой
	done := make(chan struct{})
	var writers sync.WaitGroup
	for i := 0; i < 8; i++ {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for {
				select {
				case <-done:
					return
				default:
					trail.Log(Incident{LogID: "race", Timestamp: time.Now()})
				}
			}
		}()
	}

	time.Sleep(5 * time.Millisecond)
	require.NotPanics(t, trail.Stop)
	close(done)
	writers.Wait()

	// Повторный Stop безвреден
	require.NotPanics(t, trail.Stop)
}
