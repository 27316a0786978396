package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xela07ax/dialoguard/internal/validation"
)

type Metrics struct {
	// Latency: полная обработка хода (включая бэкенд и валидацию)
	TurnDuration *prometheus.HistogramVec

	// Traffic: ходы по итоговому действию (accept / escalate)
	TurnsTotal *prometheus.CounterVec

	// Причины эскалаций
	EscalationsTotal *prometheus.CounterVec

	// Валидация: вердикты по severity, security-нарушения, confidence
	VerdictsTotal      *prometheus.CounterVec
	SecurityViolations prometheus.Counter
	ValidationPasses   prometheus.Counter
	ConfidenceScore    prometheus.Histogram

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Кэш контекста сессий
	CacheLookups *prometheus.CounterVec

	// Отказы rate limiter'а исходящих вызовов
	RateLimited prometheus.Counter

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		TurnDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dialoguard_turn_duration_seconds",
			Help:    "Histogram of turn handling latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"action"}),

		TurnsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dialoguard_turns_total",
			Help: "Total number of processed turns.",
		}, []string{"action"}),

		EscalationsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dialoguard_escalations_total",
			Help: "Total number of escalations by reason code.",
		}, []string{"reason"}),

		VerdictsTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dialoguard_validation_verdicts_total",
			Help: "Validation verdicts by severity.",
		}, []string{"severity"}),

		SecurityViolations: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dialoguard_security_violations_total",
			Help: "Responses with security or isolation issues.",
		}),

		ValidationPasses: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dialoguard_validation_passes_total",
			Help: "Responses that passed validation with no issues.",
		}),

		ConfidenceScore: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "dialoguard_validation_confidence",
			Help:    "Distribution of validation confidence scores.",
			Buckets: []float64{0.1, 0.3, 0.5, 0.6, 0.7, 0.8, 0.9, 1},
		}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "dialoguard_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open, 2=half-open).",
		}, []string{"name"}),

		CacheLookups: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "dialoguard_cache_lookups_total",
			Help: "Session context cache lookups by result.",
		}, []string{"result"}),

		RateLimited: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "dialoguard_rate_limited_total",
			Help: "Backend calls rejected by the sliding window limiter.",
		}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "dialoguard_audit_buffer_utilization",
			Help: "Current number of incidents in the audit buffer.",
		}),
	}
}

// ObserveVerdict реализует validation.Telemetry
func (m *Metrics) ObserveVerdict(v *validation.Verdict) {
	m.VerdictsTotal.WithLabelValues(string(v.Severity)).Inc()
	m.ConfidenceScore.Observe(v.Confidence)
	if v.Severity == validation.SeverityNone {
		m.ValidationPasses.Inc()
	}
	if v.HasSecurityIssue() {
		m.SecurityViolations.Inc()
	}
}

// ObserveCacheLookup — хук для session.ContextCache.OnLookup
func (m *Metrics) ObserveCacheLookup(result string) {
	m.CacheLookups.WithLabelValues(result).Inc()
}
