package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/dialoguard/internal/audit"
	"github.com/xela07ax/dialoguard/internal/connectors"
	"github.com/xela07ax/dialoguard/internal/engine"
	"github.com/xela07ax/dialoguard/internal/escalation"
	"github.com/xela07ax/dialoguard/internal/gateway"
	"github.com/xela07ax/dialoguard/internal/infra"
	"github.com/xela07ax/dialoguard/internal/infra/auth"
	"github.com/xela07ax/dialoguard/internal/repository/postgres"
	"github.com/xela07ax/dialoguard/internal/session"
	"github.com/xela07ax/dialoguard/internal/validation"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин: SIGTERM останавливает слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Хранилища
	convRepo := postgres.NewConversationRepo(cfg.Database.URL)
	if err := convRepo.Ping(appCtx); err != nil {
		logger.Fatal("postgres is unreachable", zap.Error(err))
	}
	incidentRepo := postgres.NewValidationLogRepo(cfg.Database.URL)

	// 3. Метрики
	reg := prometheus.NewRegistry()
	metrics := engine.NewMetrics(reg)

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		logger.Info("metrics endpoint started", zap.String("addr", ":9090"))
		if err := http.ListenAndServe(":9090", mux); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// 4. Журнал инцидентов (асинхронный, с драйном на выходе)
	trail := audit.NewTrail(incidentRepo, cfg.Audit.BufferSize, cfg.Audit.FlushInterval, logger)
	trail.OnBufferFill(func(n int) { metrics.AuditBufferFill.Set(float64(n)) })
	trail.Start()
	defer trail.Stop()

	// 5. Кэш контекста сессий + рассылка инвалидаций между инстансами
	cache := session.NewContextCache(convRepo, session.Options{
		TTL:                cfg.Cache.TTL,
		MaxSize:            cfg.Cache.MaxSize,
		RecordTTL:          cfg.Cache.RecordTTL,
		CompactProbability: cfg.Cache.CompactProbability,
		CompactKeepTurns:   cfg.Cache.CompactKeepTurns,
	}, logger)
	cache.OnLookup(metrics.ObserveCacheLookup)

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		broadcaster := session.NewBroadcaster(rdb, cache, logger)
		cache.OnInvalidate(func(sessionID string) { broadcaster.Publish(appCtx, sessionID) })
		go broadcaster.StartListener(appCtx)
	} else {
		logger.Warn("redis is not configured, running without cross-instance invalidation")
	}

	// 6. Генеративный бэкенд за резилиенс-шлюзом
	var backend gateway.Backend
	if cfg.Backend.APIKey == "" {
		logger.Warn("backend api key is empty, using mock backend")
		backend = connectors.NewMockBackend()
	} else {
		backend = connectors.NewOpenAIBackend(cfg.Backend, logger)
	}

	breaker := gateway.NewBreaker("generative-backend", cfg.Gateway.FailureThreshold, cfg.Gateway.OpenTimeout, logger)
	breaker.OnStateChange(func(name string, s gateway.State) {
		metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(s))
	})
	executor := gateway.NewRetryExecutor(cfg.Gateway.MaxAttempts, cfg.Gateway.BackoffFactor, cfg.Gateway.MaxDelay, logger)
	limiter := gateway.NewRateWindow(cfg.Gateway.MaxCalls, cfg.Gateway.WindowDuration, logger)
	gw := gateway.NewGateway(backend, breaker, executor, limiter, cfg.Backend.Timeout, logger)

	// 7. Валидация и эскалация
	validator := validation.NewEngine(cfg.Validation.Enabled, cfg.Validation.PersonaName, trail, metrics, logger)
	router := escalation.NewRouter(escalation.Destinations{
		General:    cfg.Routing.General,
		Accounts:   cfg.Routing.Accounts,
		Lending:    cfg.Routing.Lending,
		Onboarding: cfg.Routing.Onboarding,
	}, logger)
	decider := escalation.NewDecider(router, logger)

	// 8. Ядро пайплайна и HTTP-периметр
	core := engine.NewCore(gw, cache, validator, decider, metrics, cfg.Validation.PersonaName, cfg.Cache.MaxTurns, logger)

	pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
	if err != nil {
		logger.Fatal("failed to parse auth public key", zap.Error(err))
	}
	srv := engine.NewServer(cfg, core, auth.NewBaseValidator(pubKey), logger)

	httpSrv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 9. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("dialoguard gateway started", zap.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("dialoguard gateway stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	logger.Info("dialoguard gateway exited properly")
}
