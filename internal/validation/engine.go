package validation

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xela07ax/dialoguard/internal/audit"
)

/*
Файл engine.go — оркестратор проверок ответа модели.

Конвейер: безусловные проверки (фабрикация, границы домена, безопасность,
изоляция клиентов) → условные (документы, отделения — только если данные
инструментов содержат соответствующие ключи) → расчёт severity по
накопленному confidence → best-effort запись инцидента в журнал.
*/

// Telemetry — приёмник метрик валидации. Реализация живёт в пакете engine,
// здесь только контракт.
type Telemetry interface {
	ObserveVerdict(v *Verdict)
}

type Engine struct {
	enabled  bool
	persona  string // имя персоны бота, легитимное "имя" в ответах
	recorder audit.Recorder
	tel      Telemetry
	logger   *zap.Logger

	recordTTL time.Duration // срок хранения инцидентов в журнале

	now func() time.Time
}

func NewEngine(enabled bool, persona string, recorder audit.Recorder, tel Telemetry, logger *zap.Logger) *Engine {
	return &Engine{
		enabled:   enabled,
		persona:   persona,
		recorder:  recorder,
		tel:       tel,
		logger:    logger.Named("validation"),
		recordTTL: 90 * 24 * time.Hour,
		now:       time.Now,
	}
}

// Validate прогоняет ответ модели через все проверки и выносит вердикт.
// Ошибок не возвращает: валидация никогда не роняет обработку хода диалога.
func (e *Engine) Validate(traceID, sessionID, userQuery string, toolResults map[string]any, modelResponse string) *Verdict {
	if !e.enabled {
		return &Verdict{Enabled: false, Confidence: 1.0, Severity: SeverityNone, Valid: true}
	}

	v := &Verdict{
		Enabled:    true,
		Confidence: 1.0,
		Severity:   SeverityNone,
	}

	apply := func(result CheckResult, penalty float64) {
		v.ChecksPerformed = append(v.ChecksPerformed, result.Type)
		if result.Passed {
			return
		}
		e.logger.Info("check failed",
			zap.String("check", result.Type),
			zap.Strings("details", result.Details),
			zap.String("trace_id", traceID),
		)
		v.Issues = append(v.Issues, result)
		v.Confidence *= penalty
	}

	apply(e.checkFabricatedData(toolResults, modelResponse), penaltyFabricated)
	apply(e.checkDomainBoundary(modelResponse), penaltyDomain)
	apply(e.checkSecurityViolations(modelResponse), penaltySecurity)
	apply(e.checkCustomerIsolation(userQuery, modelResponse), penaltyIsolation)

	// Условные проверки: только когда данные инструментов затрагивают тему
	toolData := marshalRaw(toolResults)
	if strings.Contains(toolData, "documents_required") {
		apply(e.checkDocumentAccuracy(toolResults, modelResponse), penaltyDocuments)
	}
	if strings.Contains(toolData, "branches") {
		apply(e.checkBranchAccuracy(toolResults, modelResponse), penaltyBranches)
	}

	// Severity: проблемы безопасности критичны всегда, независимо от score
	switch {
	case len(v.Issues) == 0:
		v.Severity = SeverityNone
		v.Valid = true
	case v.HasSecurityIssue():
		v.Severity = SeverityCritical
		v.Valid = false
	case v.Confidence < thresholdHigh:
		v.Severity = SeverityHigh
		v.Valid = false
	case v.Confidence < thresholdMedium:
		v.Severity = SeverityMedium
		v.Valid = false
	default:
		// Мелкие расхождения пропускаем, но фиксируем в журнале
		v.Severity = SeverityLow
		v.Valid = true
	}

	e.logger.Info("validation summary",
		zap.Int("issues", len(v.Issues)),
		zap.Float64("confidence", v.Confidence),
		zap.String("severity", string(v.Severity)),
		zap.String("trace_id", traceID),
	)

	if v.Severity != SeverityNone {
		e.recordIncident(traceID, sessionID, userQuery, toolData, modelResponse, v)
	}

	if e.tel != nil {
		e.tel.ObserveVerdict(v)
	}

	return v
}

// recordIncident отправляет инцидент в асинхронный журнал (best-effort)
func (e *Engine) recordIncident(traceID, sessionID, userQuery, toolData, modelResponse string, v *Verdict) {
	if e.recorder == nil {
		e.logger.Warn("incident recorder not configured, skipping log")
		return
	}

	verdictJSON, err := json.Marshal(v)
	if err != nil {
		e.logger.Error("failed to marshal verdict", zap.Error(err))
		verdictJSON = []byte("{}")
	}
	if toolData == "" {
		toolData = "{}"
	}

	now := e.now().UTC()
	e.recorder.Log(audit.Incident{
		LogID:         uuid.New().String(),
		TraceID:       traceID,
		SessionID:     sessionID,
		UserQuery:     userQuery,
		ToolResults:   toolData,
		ModelResponse: modelResponse,
		IssueType:     v.PrimaryIssueType(),
		Severity:      string(v.Severity),
		Verdict:       string(verdictJSON),
		Action:        "logged",
		Timestamp:     now,
		ExpiresAt:     now.Add(e.recordTTL),
	})
}
