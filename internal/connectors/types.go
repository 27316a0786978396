package connectors

import "encoding/json"

// Роли реплик в истории диалога.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message — одна реплика диалога в формате генеративного бэкенда.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StopReason — почему бэкенд закончил генерацию.
type StopReason string

const (
	StopEnd     StopReason = "end"
	StopToolUse StopReason = "tool_use"
	StopError   StopReason = "error"
)

// ToolDefinition — описание инструмента, доступного модели.
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall — запрошенный моделью вызов инструмента.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// GenerateRequest — вход генеративного бэкенда.
type GenerateRequest struct {
	SystemPrompt string           `json:"system_prompt"`
	Messages     []Message        `json:"messages"`
	Tools        []ToolDefinition `json:"tools,omitempty"`
}

// GenerateResult — выход генеративного бэкенда.
type GenerateResult struct {
	Text       string     `json:"text"`
	StopReason StopReason `json:"stop_reason"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
}
