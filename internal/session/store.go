package session

import (
	"context"
	"time"
)

// Turn — одна реплика диалога в том виде, в котором ее видит пайплайн.
type Turn struct {
	Role    string `json:"role"` // user | assistant
	Content string `json:"content"`
}

// TurnWrite — реплика на запись с опциональными метаданными
// (интент, вердикт валидации, флаг tool use).
type TurnWrite struct {
	Role     string
	Content  string
	Metadata map[string]interface{}
}

// Record — сырая запись durable store.
// ExpiresAt — срок жизни записи в самом хранилище (reference: 90 дней),
// независимый от TTL кэша.
type Record struct {
	SessionID string
	Timestamp time.Time
	Role      string
	Content   string
	CallerID  string
	Metadata  map[string]interface{}
	ExpiresAt time.Time
}

// Store — контракт durable-хранилища истории (key-ordered, query по сессии).
type Store interface {
	// Query возвращает до limit записей сессии (limit <= 0 — все),
	// orderDesc=true — новые первыми.
	Query(ctx context.Context, sessionID string, limit int, orderDesc bool) ([]Record, error)

	// PutBatch сохраняет пачку записей как одну логическую запись.
	PutBatch(ctx context.Context, records []Record) error

	// Delete удаляет одну запись по ключу (sessionID, timestamp).
	Delete(ctx context.Context, sessionID string, ts time.Time) error
}
