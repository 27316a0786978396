package session

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Options — параметры кэша; дефолты соответствуют проверенным в проде значениям.
type Options struct {
	TTL                time.Duration // 300s
	MaxSize            int           // 100 записей
	RecordTTL          time.Duration // 90 дней на записи durable store
	CompactProbability float64       // 0.1 — доля запросов с компактацией
	CompactKeepTurns   int           // 20 последних ходов
}

type cacheKey struct {
	sessionID string
	maxTurns  int
}

type cacheEntry struct {
	turns    []Turn
	cachedAt time.Time
}

// ContextCache — read-through кэш истории диалога поверх durable store.
//
// Ключ — пара (sessionID, maxTurns): разные глубины истории кэшируются
// отдельно, а инвалидация сносит все ключи сессии разом.
// Попадание в кэш обязано отработать без единого похода в хранилище.
// Консистентность: любая успешная запись новых ходов синхронно инвалидирует
// сессию до следующего чтения (read-your-writes).
type ContextCache struct {
	store Store
	opts  Options

	mu      sync.Mutex
	entries map[cacheKey]cacheEntry

	// Хуки наблюдаемости и межинстансной рассылки; без I/O под mu
	onLookup     func(result string)
	onInvalidate func(sessionID string)

	logger *zap.Logger
	now    func() time.Time
}

func NewContextCache(store Store, opts Options, logger *zap.Logger) *ContextCache {
	return &ContextCache{
		store:   store,
		opts:    opts,
		entries: make(map[cacheKey]cacheEntry),
		logger:  logger.Named("ctxcache"),
		now:     time.Now,
	}
}

// Исходы обращений к кэшу для хука OnLookup.
const (
	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupExpired = "expired"
	LookupEvicted = "evicted"
)

// OnLookup регистрирует хук исходов обращений (метрики).
func (c *ContextCache) OnLookup(fn func(result string)) { c.onLookup = fn }

// OnInvalidate регистрирует хук успешной записи (рассылка на другие инстансы).
func (c *ContextCache) OnInvalidate(fn func(sessionID string)) { c.onInvalidate = fn }

// Get возвращает последние maxTurns обменов сессии в хронологическом порядке.
// Живая запись кэша отдается без похода в хранилище; просроченная считается
// отсутствующей. На промахе — over-fetch 2×maxTurns сырых записей (чтобы
// собрать пары user+assistant), сортировка по времени, проекция в Turn.
func (c *ContextCache) Get(ctx context.Context, sessionID string, maxTurns int) ([]Turn, error) {
	key := cacheKey{sessionID: sessionID, maxTurns: maxTurns}

	expired := false
	c.mu.Lock()
	if entry, ok := c.entries[key]; ok {
		if c.now().Sub(entry.cachedAt) < c.opts.TTL {
			c.mu.Unlock()
			c.lookup(LookupHit)
			c.logger.Debug("cache hit", zap.String("session_id", sessionID))
			return entry.turns, nil
		}
		// Просрочено — запись считается отсутствующей
		delete(c.entries, key)
		expired = true
	}
	c.mu.Unlock()
	if expired {
		c.lookup(LookupExpired)
		c.logger.Debug("cache expired", zap.String("session_id", sessionID))
	} else {
		c.lookup(LookupMiss)
	}

	records, err := c.store.Query(ctx, sessionID, maxTurns*2, true)
	if err != nil {
		return nil, fmt.Errorf("session store query: %w", err)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.Before(records[j].Timestamp)
	})

	turns := make([]Turn, 0, len(records))
	for _, r := range records {
		turns = append(turns, Turn{Role: r.Role, Content: r.Content})
	}

	c.mu.Lock()
	c.entries[key] = cacheEntry{turns: turns, cachedAt: c.now()}
	evicted := c.evictIfNeeded()
	c.mu.Unlock()
	for i := 0; i < evicted; i++ {
		c.lookup(LookupEvicted)
	}

	return turns, nil
}

// evictIfNeeded выселяет глобально самую старую запись (по cachedAt, по всем
// ключам, не по-сессионно). Вызывается только под mu.
func (c *ContextCache) evictIfNeeded() (evicted int) {
	for len(c.entries) > c.opts.MaxSize {
		var oldestKey cacheKey
		var oldestAt time.Time
		first := true
		for k, e := range c.entries {
			if first || e.cachedAt.Before(oldestAt) {
				oldestKey, oldestAt = k, e.cachedAt
				first = false
			}
		}
		delete(c.entries, oldestKey)
		evicted++
		c.logger.Debug("cache eviction", zap.String("session_id", oldestKey.sessionID))
	}
	return evicted
}

// Invalidate сносит все записи сессии независимо от компоненты maxTurns.
func (c *ContextCache) Invalidate(sessionID string) {
	c.mu.Lock()
	removed := 0
	for k := range c.entries {
		if k.sessionID == sessionID {
			delete(c.entries, k)
			removed++
		}
	}
	c.mu.Unlock()

	if removed > 0 {
		c.logger.Debug("cache invalidate",
			zap.String("session_id", sessionID),
			zap.Int("removed", removed),
		)
	}
}

// Put пишет новые ходы в durable store одной пачкой и синхронно инвалидирует
// кэш сессии. При ошибке записи кэш НЕ трогаем: пусть живет устаревшая, но
// согласованная картина.
func (c *ContextCache) Put(ctx context.Context, sessionID, callerID string, turns []TurnWrite) error {
	base := c.now()
	expires := base.Add(c.opts.RecordTTL)

	records := make([]Record, 0, len(turns))
	for i, t := range turns {
		records = append(records, Record{
			SessionID: sessionID,
			// Разносим метки внутри пачки, чтобы сохранить порядок реплик
			Timestamp: base.Add(time.Duration(i) * time.Millisecond),
			Role:      t.Role,
			Content:   t.Content,
			CallerID:  callerID,
			Metadata:  t.Metadata,
			ExpiresAt: expires,
		})
	}

	if err := c.store.PutBatch(ctx, records); err != nil {
		return fmt.Errorf("session store put: %w", err)
	}

	c.Invalidate(sessionID)
	if c.onInvalidate != nil {
		c.onInvalidate(sessionID)
	}
	return nil
}

// Compact — вероятностная чистка хвоста истории. Авторитетная граница — TTL
// записей в хранилище, так что пропуск чистки безопасен. Удаления поштучные
// и независимые: частичный сбой не откатывает остальное.
func (c *ContextCache) Compact(ctx context.Context, sessionID string) {
	if rand.Float64() > c.opts.CompactProbability {
		return
	}
	c.compactNow(ctx, sessionID, c.opts.CompactKeepTurns)
}

func (c *ContextCache) compactNow(ctx context.Context, sessionID string, keepTurns int) {
	records, err := c.store.Query(ctx, sessionID, 0, true)
	if err != nil {
		c.logger.Warn("compact query failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}

	if len(records) <= keepTurns {
		return
	}

	// records отсортированы по убыванию времени: все после keepTurns — хвост
	deleted := 0
	for _, r := range records[keepTurns:] {
		if err := c.store.Delete(ctx, r.SessionID, r.Timestamp); err != nil {
			c.logger.Warn("compact delete failed",
				zap.String("session_id", sessionID),
				zap.Time("ts", r.Timestamp),
				zap.Error(err),
			)
			continue
		}
		deleted++
	}

	if deleted > 0 {
		c.logger.Info("compacted session history",
			zap.String("session_id", sessionID),
			zap.Int("deleted", deleted),
			zap.Int("kept", keepTurns),
		)
	}
}

func (c *ContextCache) lookup(result string) {
	if c.onLookup != nil {
		c.onLookup(result)
	}
}

// Len — текущий размер кэша (для тестов и дешевой диагностики).
func (c *ContextCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
