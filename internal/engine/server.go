package engine

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/xela07ax/dialoguard/internal/escalation"
	"github.com/xela07ax/dialoguard/internal/infra"
	"github.com/xela07ax/dialoguard/internal/infra/auth"
)

type Server struct {
	router *chi.Mux
	core   *Core
	logger *zap.Logger
	cfg    *infra.Config

	// Проверка токенов диалогового слоя (RS256)
	authValidator auth.TokenValidator
}

func NewServer(cfg *infra.Config, core *Core, validator auth.TokenValidator, logger *zap.Logger) *Server {
	s := &Server{
		router:        chi.NewRouter(),
		core:          core,
		logger:        logger.Named("http"),
		cfg:           cfg,
		authValidator: validator,
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)
	r.Use(ThrottleMiddleware(s.cfg.Server.RateLimit, s.cfg.Server.RateBurst))

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ ---
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (Требуют RS256 токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(s.authValidator, s.logger))
		r.Post("/v1/turn", s.recoverToHandover(s.handleTurn))
	})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req TurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid_request_body"}`, http.StatusBadRequest)
		return
	}
	if req.SessionID == "" {
		http.Error(w, `{"error": "session_id is required"}`, http.StatusBadRequest)
		return
	}

	// Любой внутренний сбой резолвится внутри HandleTurn в извинение
	// с передачей оператору. Сырые ошибки наружу не уходят.
	result := s.core.HandleTurn(r.Context(), req)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.logger.Error("failed to encode turn result", zap.Error(err))
	}
}

// recoverToHandover — страховка самого верхнего уровня: паника в пайплайне
// превращается в штатную передачу оператору, а не в 500 с внутренностями.
func (s *Server) recoverToHandover(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic in turn pipeline", zap.Any("panic", rec))
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(TurnResult{
					Action:       ActionEscalate,
					ResponseText: "Let me connect you with one of our specialists who can help you right away.",
					ReasonCode:   escalation.ReasonTechnicalIssues,
				})
			}
		}()
		next(w, r)
	}
}
