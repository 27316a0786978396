package escalation

import (
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/dialoguard/internal/connectors"
	"github.com/xela07ax/dialoguard/internal/session"
)

/*
Файл decider.go — решатель эскалации на живого оператора.

Триггеры проверяются строго по приоритету, первый сработавший выигрывает.
Часть триггеров видна ещё до обращения к модели (по одному сообщению
пользователя) — их выносим в EvaluateUser, чтобы не тратить вызов бэкенда
на разговор, который всё равно уйдёт к оператору.
*/

// Коды причин эскалации. Попадают в ответ API и в журнал инцидентов.
const (
	ReasonAgreedTransfer    = "customer_agreed_transfer"
	ReasonSecurityQuery     = "security_query"
	ReasonExplicitRequest   = "explicit_request"
	ReasonFrustration       = "customer_frustration"
	ReasonRepeatedQuery     = "repeated_query"
	ReasonIncapability      = "capability_limitation"
	ReasonTechnicalIssues   = "technical_issues"
	ReasonValidationFailure = "validation_failure"
)

// Decision — вердикт решателя для одного хода диалога
type Decision struct {
	Escalate bool
	Reason   string
	Message  string // фиксированная реплика передачи, никогда не генерируется
}

// Фиксированные реплики по кодам причин
var handoverMessages = map[string]string{
	ReasonAgreedTransfer:    "Perfect! I'm connecting you with a specialist now. Thank you for your patience.",
	ReasonSecurityQuery:     "I can't discuss that. Let me connect you with a specialist who can help with your banking needs.",
	ReasonExplicitRequest:   "I'd be happy to connect you with one of our specialists. One moment please.",
	ReasonFrustration:       "I want to make sure you get the best help possible. Let me connect you with a specialist who can assist you directly.",
	ReasonRepeatedQuery:     "I'd like to connect you with a specialist who can provide more detailed assistance. One moment please.",
	ReasonIncapability:      "I'd be happy to connect you with one of our specialists who can better assist you with this. One moment please.",
	ReasonTechnicalIssues:   "Let me connect you with one of our specialists who can help you right away.",
	ReasonValidationFailure: "Let me connect you with a specialist who can provide you with accurate information.",
}

// Словари триггеров

// Согласие клиента на ранее предложенную передачу
var transferAgreementWords = []string{
	"yes", "yeah", "yep", "sure", "okay", "ok", "go ahead", "please", "transfer", "connect me",
}

// Признаки того, что предыдущая реплика ассистента предлагала передачу
var transferOfferWords = []string{
	"transfer", "specialist", "connect you with", "speak to", "agent",
}

// Попытки выведать внутреннее устройство системы или чужие данные
var securityProbeWords = []string{
	"system prompt", "internal working", "how do you work", "what are your instructions",
	"show me your prompt", "reveal your", "tell me about your system", "what tools do you have",
	"how are you configured", "what model are you", "show me the code", "explain your architecture",
	"other customer", "another customer", "different customer", "someone else's account",
}

// Явная просьба позвать человека
var agentRequestWords = []string{
	"speak to agent", "human", "person", "representative", "talk to someone",
	"speak to an agent", "talk to an agent",
}

// Модель сама пообещала передачу — обещание надо выполнить
var transferResponseWords = []string{
	"let me transfer you", "transfer you to a specialist", "connect you to a specialist",
	"transfer you to an agent", "connect you with a specialist", "connecting you with",
	"let me connect you", "i'll transfer you", "transferring you",
}

// Раздражение клиента
var frustrationWords = []string{
	"frustrated", "annoyed", "useless", "terrible", "awful", "ridiculous",
}

// Модель расписалась в неспособности помочь
var cannotHelpPhrases = []string{
	"i cannot", "i'm unable", "beyond my capabilities", "i don't have", "i can't help",
}

type Decider struct {
	router *Router
	logger *zap.Logger
}

func NewDecider(router *Router, logger *zap.Logger) *Decider {
	return &Decider{router: router, logger: logger.Named("escalation")}
}

// EvaluateUser проверяет триггеры, видимые до вызова модели:
// согласие на передачу, зондирование безопасности, явный запрос оператора.
func (d *Decider) EvaluateUser(userText string, history []session.Turn) *Decision {
	userLower := strings.ToLower(userText)

	// 1. Клиент согласился на предложенную ранее передачу
	if lastOffer := lastAssistantTurn(history); lastOffer != "" && containsAny(strings.ToLower(lastOffer), transferOfferWords) {
		if containsAny(userLower, transferAgreementWords) {
			d.logger.Info("customer agreed to transfer", zap.String("message", userText))
			return d.decision(ReasonAgreedTransfer)
		}
	}

	// 2. Вопросы про внутренности системы или чужие данные
	if containsAny(userLower, securityProbeWords) {
		return d.decision(ReasonSecurityQuery)
	}

	// 3. Явная просьба позвать человека
	if containsAny(userLower, agentRequestWords) {
		return d.decision(ReasonExplicitRequest)
	}

	return nil
}

// EvaluateResponse проверяет триггеры, зависящие от ответа модели и
// накопленной истории. Вызывается после генерации.
func (d *Decider) EvaluateResponse(userText, responseText string, history []session.Turn) *Decision {
	userLower := strings.ToLower(userText)
	responseLower := strings.ToLower(responseText)

	// 4. Модель сама заговорила о передаче
	if containsAny(responseLower, transferResponseWords) {
		d.logger.Info("transfer language detected in model output")
		return &Decision{
			Escalate: true,
			Reason:   ReasonExplicitRequest,
			Message:  "Of course! Let me transfer you to a specialist now.",
		}
	}

	// 5. Раздражение клиента
	if containsAny(userLower, frustrationWords) {
		return d.decision(ReasonFrustration)
	}

	// 6. Один и тот же вопрос повторяется — бот ходит по кругу
	if countRepeats(userText, history, 10) >= 3 {
		return d.decision(ReasonRepeatedQuery)
	}

	// 7. Модель признала, что помочь не может
	if containsAny(responseLower, cannotHelpPhrases) {
		return d.decision(ReasonIncapability)
	}

	return nil
}

// TechnicalIssue — эскалация из-за сбоя бэкенда (таймауты, пробитый
// предохранитель, исчерпанные ретраи). Клиент видит извинение, не ошибку.
func (d *Decider) TechnicalIssue() *Decision {
	return d.decision(ReasonTechnicalIssues)
}

// ValidationFailure — эскалация из-за вердикта high/critical
func (d *Decider) ValidationFailure() *Decision {
	return d.decision(ReasonValidationFailure)
}

// Route выбирает очередь операторов по теме разговора
func (d *Decider) Route(userText string, history []session.Turn) string {
	return d.router.Route(userText, history)
}

func (d *Decider) decision(reason string) *Decision {
	return &Decision{Escalate: true, Reason: reason, Message: handoverMessages[reason]}
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// lastAssistantTurn возвращает последнюю реплику ассистента из истории
func lastAssistantTurn(history []session.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == connectors.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}

// countRepeats считает точные повторы сообщения пользователя в хвосте
// истории. Текущее сообщение в историю ещё не записано и не учитывается.
func countRepeats(userText string, history []session.Turn, tail int) int {
	start := 0
	if len(history) > tail {
		start = len(history) - tail
	}
	count := 0
	for _, turn := range history[start:] {
		if turn.Role == connectors.RoleUser && turn.Content == userText {
			count++
		}
	}
	return count
}
