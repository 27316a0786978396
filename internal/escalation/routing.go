package escalation

import (
	"strings"

	"go.uber.org/zap"

	"github.com/xela07ax/dialoguard/internal/session"
)

// Destinations — адреса очередей операторов по тематикам.
// Пустая строка означает, что очередь не настроена.
type Destinations struct {
	General    string
	Accounts   string
	Lending    string
	Onboarding string
}

// Тематические словари маршрутизации
var (
	accountKeywords = []string{
		"balance", "transaction", "statement", "overdraft", "debit card",
		"spending", "savings", "checking", "withdrawal", "deposit", "transfer money",
	}
	lendingKeywords = []string{
		"loan", "mortgage", "credit card", "borrow", "lending",
		"rate", "interest", "repay", "debt",
	}
	onboardingKeywords = []string{
		"open account", "new account", "join", "switch", "application",
		"sign up", "register", "start", "document", "id",
	}
)

// Router подбирает очередь операторов по ключевым словам разговора.
// Порядок корзин фиксирован: accounts → lending → onboarding → general.
type Router struct {
	dest   Destinations
	logger *zap.Logger
}

func NewRouter(dest Destinations, logger *zap.Logger) *Router {
	return &Router{dest: dest, logger: logger.Named("routing")}
}

// Route анализирует сообщение пользователя и последние две реплики истории.
// Побеждает первая корзина с настроенной очередью, иначе general.
func (r *Router) Route(userText string, history []session.Turn) string {
	context := strings.ToLower(userText)
	start := 0
	if len(history) > 2 {
		start = len(history) - 2
	}
	for _, turn := range history[start:] {
		context += " " + strings.ToLower(turn.Content)
	}

	switch {
	case containsAny(context, accountKeywords) && r.dest.Accounts != "":
		r.logger.Info("routing to accounts queue")
		return r.dest.Accounts
	case containsAny(context, lendingKeywords) && r.dest.Lending != "":
		r.logger.Info("routing to lending queue")
		return r.dest.Lending
	case containsAny(context, onboardingKeywords) && r.dest.Onboarding != "":
		r.logger.Info("routing to onboarding queue")
		return r.dest.Onboarding
	}

	r.logger.Info("routing to general queue (default)")
	return r.dest.General
}
