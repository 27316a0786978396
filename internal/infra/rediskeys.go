package infra

const (
	// RedisNamespace Базовый префикс для изоляции данных сервиса в Redis
	RedisNamespace = "dialoguard"
)

// Каналы Pub/Sub (события)
const (
	// RedisChanCacheInvalidate — рассылка инвалидаций кэша истории между инстансами.
	// Payload — session_id, чей кэш надо сбросить.
	RedisChanCacheInvalidate = RedisNamespace + ":sessions:invalidate-signal"
)
