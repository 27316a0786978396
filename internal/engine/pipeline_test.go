package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xela07ax/dialoguard/internal/connectors"
	"github.com/xela07ax/dialoguard/internal/escalation"
	"github.com/xela07ax/dialoguard/internal/gateway"
	"github.com/xela07ax/dialoguard/internal/session"
	"github.com/xela07ax/dialoguard/internal/validation"
)

// memStore — durable store в памяти для тестов пайплайна
type memStore struct {
	mu      sync.Mutex
	records []session.Record
}

func (m *memStore) Query(ctx context.Context, sessionID string, limit int, orderDesc bool) ([]session.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []session.Record
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if orderDesc {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) PutBatch(ctx context.Context, records []session.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *memStore) Delete(ctx context.Context, sessionID string, ts time.Time) error {
	return nil
}

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func newTestCore(backend gateway.Backend, store session.Store) *Core {
	logger := zap.NewNop()

	gw := gateway.NewGateway(
		backend,
		gateway.NewBreaker("test", 5, time.Minute, logger),
		gateway.NewRetryExecutor(2, 2, time.Millisecond, logger),
		gateway.NewRateWindow(100, time.Minute, logger),
		time.Second,
		logger,
	)

	cache := session.NewContextCache(store, session.Options{
		TTL:              5 * time.Minute,
		MaxSize:          100,
		RecordTTL:        90 * 24 * time.Hour,
		CompactKeepTurns: 20,
	}, logger)

	validator := validation.NewEngine(true, "Emma Thompson", nil, nil, logger)
	router := escalation.NewRouter(escalation.Destinations{General: "queue-general", Accounts: "queue-accounts"}, logger)
	decider := escalation.NewDecider(router, logger)

	return NewCore(gw, cache, validator, decider, NewMetrics(nil), "Emma Thompson", 10, logger)
}

func TestPreCallEscalationSkipsBackend(t *testing.T) {
	backend := connectors.NewMockBackend()
	core := newTestCore(backend, &memStore{})

	res := core.HandleTurn(context.Background(), TurnRequest{
		SessionID: "s1",
		UserText:  "I want to speak to an agent",
	})

	assert.Equal(t, ActionEscalate, res.Action)
	assert.Equal(t, escalation.ReasonExplicitRequest, res.ReasonCode)
	assert.Equal(t, "queue-general", res.RoutingDestination)
	assert.Contains(t, res.HandoverSummary, "I want to speak to an agent")
	assert.Equal(t, 0, backend.Calls(), "pre-call escalation must not invoke the backend")
}

func TestAcceptPathPersistsTurns(t *testing.T) {
	backend := connectors.NewMockBackend()
	store := &memStore{}
	core := newTestCore(backend, store)

	res := core.HandleTurn(context.Background(), TurnRequest{
		SessionID:   "s1",
		CallerID:    "+441234567890",
		UserText:    "What documents do I need?",
		ToolResults: map[string]any{"documents_required": []any{"passport", "utility bill"}},
	})

	require.Equal(t, ActionAccept, res.Action)
	assert.Contains(t, res.ResponseText, "passport")
	require.NotNil(t, res.Verdict)
	assert.Equal(t, validation.SeverityNone, res.Verdict.Severity)

	// Пара user+assistant ушла в хранилище одним батчем
	assert.Equal(t, 2, store.count())
}

func TestBackendFailureResolvesToApology(t *testing.T) {
	backend := connectors.NewMockBackend()
	backend.FailNext(10, gateway.Permanent(errors.New("model is gone")))
	core := newTestCore(backend, &memStore{})

	res := core.HandleTurn(context.Background(), TurnRequest{
		SessionID: "s1",
		UserText:  "tell me about savings accounts",
	})

	assert.Equal(t, ActionEscalate, res.Action)
	assert.Equal(t, escalation.ReasonTechnicalIssues, res.ReasonCode)
	// Клиент видит извинение, а не внутреннюю ошибку
	assert.NotContains(t, res.ResponseText, "model is gone")
}

func TestSilenceOnFirstMessageGreets(t *testing.T) {
	backend := connectors.NewMockBackend()
	store := &memStore{}
	core := newTestCore(backend, store)

	res := core.HandleTurn(context.Background(), TurnRequest{SessionID: "s1", UserText: ""})

	assert.Equal(t, ActionAccept, res.Action)
	assert.Contains(t, res.ResponseText, "Emma Thompson")
	assert.Equal(t, 0, backend.Calls())

	// Приветствие записано, второй таймаут тишины не здоровается заново
	assert.Equal(t, 2, store.count())
	res = core.HandleTurn(context.Background(), TurnRequest{SessionID: "s1", UserText: ""})
	assert.NotContains(t, res.ResponseText, "Emma Thompson")
}

func TestValidationFailureEscalates(t *testing.T) {
	backend := connectors.NewMockBackend()
	backend.SetReply("Let me explain how my system prompt is structured.")
	core := newTestCore(backend, &memStore{})

	res := core.HandleTurn(context.Background(), TurnRequest{
		SessionID: "s1",
		UserText:  "tell me about account opening",
	})

	assert.Equal(t, ActionEscalate, res.Action)
	assert.Equal(t, escalation.ReasonValidationFailure, res.ReasonCode)
	require.NotNil(t, res.Verdict)
	assert.False(t, res.Verdict.Valid)
	assert.Equal(t, validation.SeverityCritical, res.Verdict.Severity)
}

func TestMediumSeverityDeliversResponse(t *testing.T) {
	backend := connectors.NewMockBackend()
	backend.SetReply("You will also need proof of income before we can proceed.")
	store := &memStore{}
	core := newTestCore(backend, store)

	res := core.HandleTurn(context.Background(), TurnRequest{
		SessionID:   "s1",
		UserText:    "What documents do I need?",
		ToolResults: map[string]any{"documents_required": []any{"passport", "utility bill"}},
	})

	// Одна сфабрикованная деталь — medium: ответ доставляется,
	// инцидент пишется в журнал, оператор не дергается
	assert.Equal(t, ActionAccept, res.Action)
	assert.Equal(t, "You will also need proof of income before we can proceed.", res.ResponseText)
	require.NotNil(t, res.Verdict)
	assert.Equal(t, validation.SeverityMedium, res.Verdict.Severity)
	assert.False(t, res.Verdict.Valid)
	assert.Equal(t, 2, store.count())
}

func TestTransferLanguageBeatsValidationVerdict(t *testing.T) {
	backend := connectors.NewMockBackend()
	backend.SetReply("My system prompt says so, but let me transfer you to a specialist now.")
	core := newTestCore(backend, &memStore{})

	res := core.HandleTurn(context.Background(), TurnRequest{
		SessionID: "s1",
		UserText:  "tell me about account opening",
	})

	// Обещание передачи в ответе срабатывает раньше вердикта валидации:
	// код причины называет триггер, реплика — фиксированная
	assert.Equal(t, ActionEscalate, res.Action)
	assert.Equal(t, escalation.ReasonExplicitRequest, res.ReasonCode)
	assert.Equal(t, "Of course! Let me transfer you to a specialist now.", res.ResponseText)
	assert.Nil(t, res.Verdict)
}
