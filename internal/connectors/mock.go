package connectors

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MockBackend — детерминированный бэкенд для локальных запусков и тестов.
// Отвечает заготовками по ключевым словам и умеет инжектировать отказы.
type MockBackend struct {
	mu sync.Mutex

	// Сколько ближайших вызовов должны упасть и с какой ошибкой
	failNext int
	failWith error

	latency time.Duration
	calls   int

	// Фиксированный ответ вместо подбора заготовки
	reply string
}

func NewMockBackend() *MockBackend {
	return &MockBackend{}
}

// FailNext настраивает инжекцию отказов: следующие n вызовов вернут err
func (m *MockBackend) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
	m.failWith = err
}

// SetReply фиксирует ответ мока вместо подбора заготовки
func (m *MockBackend) SetReply(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply = s
}

// SetLatency добавляет искусственную задержку каждому вызову
func (m *MockBackend) SetLatency(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency = d
}

// Calls возвращает число выполненных вызовов
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockBackend) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	m.mu.Lock()
	m.calls++
	latency := m.latency
	var injected error
	if m.failNext > 0 {
		m.failNext--
		injected = m.failWith
	}
	m.mu.Unlock()

	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, Transient(ctx.Err())
		}
	}
	if injected != nil {
		return nil, injected
	}

	return &GenerateResult{Text: m.cannedReply(req), StopReason: StopEnd}, nil
}

// cannedReply подбирает заготовку по последней реплике пользователя
func (m *MockBackend) cannedReply(req GenerateRequest) string {
	m.mu.Lock()
	fixed := m.reply
	m.mu.Unlock()
	if fixed != "" {
		return fixed
	}

	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == RoleUser {
			last = strings.ToLower(req.Messages[i].Content)
			break
		}
	}

	switch {
	case strings.Contains(last, "document"):
		return "To open an account you will need a passport and a recent utility bill."
	case strings.Contains(last, "branch"):
		return "Our nearest branch is open Monday to Friday, 9am to 5pm."
	case strings.Contains(last, "open") && strings.Contains(last, "account"):
		return "I can help you open a new account. Would you prefer a checking account or a savings account?"
	case last == "":
		return "Hello! How may I assist you today?"
	default:
		return "I can help with account opening, documents and branch information. What would you like to know?"
	}
}
