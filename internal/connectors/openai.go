package connectors

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xela07ax/dialoguard/internal/infra"
)

/*
Файл openai.go — адаптер генеративного бэкенда поверх openai-совместимого
API (облачный провайдер или локальный llama.cpp/vLLM через base_url).

Контракт с резилиенс-слоем: адаптер обязан классифицировать каждый отказ.
- таймаут, 429, 5xx, обрыв сети → transient (повторяемо)
- 4xx, auth, всё неопознанное   → permanent (повторять без причины нельзя)
Неклассифицированная ошибка наверх не уходит никогда.
*/

type OpenAIBackend struct {
	client *openai.Client
	model  string

	maxTokens   int
	temperature float32

	logger *zap.Logger
}

func NewOpenAIBackend(cfg infra.BackendConfig, logger *zap.Logger) *OpenAIBackend {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIBackend{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		logger:      logger.Named("openai"),
	}
}

func (b *OpenAIBackend) Generate(ctx context.Context, req GenerateRequest) (*GenerateResult, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.SystemPrompt,
		})
	}
	for _, m := range req.Messages {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	chatReq := openai.ChatCompletionRequest{
		Model:       b.model,
		Messages:    messages,
		MaxTokens:   b.maxTokens,
		Temperature: b.temperature,
	}
	for _, tool := range req.Tools {
		chatReq.Tools = append(chatReq.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	resp, err := b.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, b.classify(err)
	}

	if len(resp.Choices) == 0 {
		// Пустой ответ при статусе 200 — странность провайдера, повторяем
		return nil, Transient(errors.New("backend returned no choices"))
	}

	choice := resp.Choices[0]
	result := &GenerateResult{
		Text:       choice.Message.Content,
		StopReason: mapFinishReason(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: []byte(tc.Function.Arguments),
		})
	}

	return result, nil
}

// classify переводит ошибку провайдера в таксономию резилиенс-слоя
func (b *OpenAIBackend) classify(err error) error {
	// Таймаут попытки или отмена вызывающей стороной
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient(err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == http.StatusTooManyRequests:
			b.logger.Warn("backend throttled", zap.Int("status", apiErr.HTTPStatusCode))
			return &ThrottleError{RetryAfter: time.Second, Cause: err}
		case apiErr.HTTPStatusCode >= 500:
			return Transient(err)
		case apiErr.HTTPStatusCode >= 400:
			// Включая 401/403: с плохим ключом повторять бесполезно
			return Permanent(err)
		}
	}

	// Сетевые ошибки транспорта (таймаут соединения, обрыв)
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Transient(err)
	}

	// Неопознанный отказ повторяемым не считается: повтор того, что мы не
	// понимаем, может дублировать побочные эффекты у провайдера
	return Permanent(err)
}

func mapFinishReason(reason openai.FinishReason) StopReason {
	switch reason {
	case openai.FinishReasonToolCalls, openai.FinishReasonFunctionCall:
		return StopToolUse
	case openai.FinishReasonStop, openai.FinishReasonLength:
		return StopEnd
	default:
		return StopError
	}
}
