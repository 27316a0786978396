package session

import (
	"context"
	"time"

	"github.com/xela07ax/dialoguard/internal/infra"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Broadcaster рассылает инвалидации кэша между инстансами через Redis Pub/Sub.
// Кэш у каждого инстанса свой (in-process), а durable store общий: после
// записи ходов одним инстансом остальные обязаны сбросить свою копию сессии.
type Broadcaster struct {
	rdb    *redis.Client
	cache  *ContextCache
	logger *zap.Logger
}

func NewBroadcaster(rdb *redis.Client, cache *ContextCache, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		rdb:    rdb,
		cache:  cache,
		logger: logger.Named("cache-sync"),
	}
}

// Publish — fire-and-forget: сбой рассылки не должен ронять ход диалога,
// у отставших инстансов картину добьет TTL кэша.
func (b *Broadcaster) Publish(ctx context.Context, sessionID string) {
	if err := b.rdb.Publish(ctx, infra.RedisChanCacheInvalidate, sessionID).Err(); err != nil {
		b.logger.Warn("invalidate broadcast failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

// StartListener — живучая подписка на сигналы инвалидации.
// Обрабатывает переподключения; повторная инвалидация собственной записи
// безвредна, поэтому отправителя не фильтруем.
func (b *Broadcaster) StartListener(ctx context.Context) {
	for {
		pubsub := b.rdb.Subscribe(ctx, infra.RedisChanCacheInvalidate)

		// Проверка успешности подписки
		if _, err := pubsub.Receive(ctx); err != nil {
			b.logger.Error("failed to subscribe", zap.Error(err))
			pubsub.Close()

			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
				continue
			}
		}

		ch := pubsub.Channel()

	loop:
		for {
			select {
			case <-ctx.Done():
				pubsub.Close()
				return
			case msg, ok := <-ch:
				if !ok {
					break loop // Канал закрыт, идем на переподключение
				}
				b.cache.Invalidate(msg.Payload)
			}
		}

		pubsub.Close()
		time.Sleep(1 * time.Second)
	}
}
