package audit

import "time"

// Incident — зафиксированный инцидент валидации ответа модели.
// Пишется при любом вердикте с severity != none.
type Incident struct {
	LogID     string `json:"log_id"`     // UUID записи
	TraceID   string `json:"trace_id"`   // Сквозной ID запроса
	SessionID string `json:"session_id"` // Чья сессия

	// Полный контекст генерации
	UserQuery     string `json:"user_query"`
	ToolResults   string `json:"tool_results"` // JSON как есть
	ModelResponse string `json:"model_response"`

	// Результат валидации
	IssueType string `json:"issue_type"` // Первичный тип проблемы
	Severity  string `json:"severity"`
	Verdict   string `json:"verdict"`      // Полный вердикт, JSON
	Action    string `json:"action_taken"` // logged | escalated

	Timestamp time.Time `json:"timestamp"`
	ExpiresAt time.Time `json:"expires_at"` // Долгое, но конечное хранение
}
