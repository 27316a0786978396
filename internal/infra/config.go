package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config — корневая структура конфигурации всего сервиса.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Validation ValidationConfig `mapstructure:"validation"`
	Routing    RoutingConfig    `mapstructure:"routing"`
	Audit      AuditConfig      `mapstructure:"audit"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig описывает настройки HTTP-сервера для диалогового слоя.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Входной лимитер (token bucket): запросов в секунду и burst
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// DatabaseConfig описывает подключение к PostgreSQL (история диалогов + журнал валидации).
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// RedisConfig описывает подключение к Redis (рассылка инвалидаций кэша).
// Addr пустой — работаем в одноинстансном режиме без рассылки.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig содержит путь к публичному RSA ключу для проверки токенов диалогового слоя.
type AuthConfig struct {
	PublicKeyPath string `mapstructure:"public_key_path"`
	PublicKey     []byte
}

// BackendConfig — параметры генеративного бэкенда.
type BackendConfig struct {
	// openai-совместимый endpoint; пустой BaseURL = дефолт провайдера
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
	Model   string `mapstructure:"model"`
	// Жесткий таймаут одной попытки. Должен быть короче дедлайна вызывающей стороны.
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float32       `mapstructure:"temperature"`
}

// GatewayConfig — настройки отказоустойчивости вызова бэкенда.
type GatewayConfig struct {
	// Circuit Breaker
	FailureThreshold int           `mapstructure:"failure_threshold"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`

	// Retry
	MaxAttempts   int           `mapstructure:"max_attempts"`
	BackoffFactor float64       `mapstructure:"backoff_factor"`
	MaxDelay      time.Duration `mapstructure:"max_delay"`

	// Sliding window limiter на исходящие вызовы
	MaxCalls       int           `mapstructure:"max_calls"`
	WindowDuration time.Duration `mapstructure:"window_duration"`
}

// CacheConfig — кэш истории диалога.
type CacheConfig struct {
	TTL      time.Duration `mapstructure:"ttl"`
	MaxSize  int           `mapstructure:"max_size"`
	MaxTurns int           `mapstructure:"max_turns"`
	// Запись в durable store живет дольше кэша на порядки
	RecordTTL time.Duration `mapstructure:"record_ttl"`
	// Вероятностная компактация: доля запросов и сколько ходов оставлять
	CompactProbability float64 `mapstructure:"compact_probability"`
	CompactKeepTurns   int     `mapstructure:"compact_keep_turns"`
}

// ValidationConfig — движок проверки ответов.
type ValidationConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Имя персоны бота: попадает в allow-list проверки изоляции клиентов
	PersonaName string `mapstructure:"persona_name"`
}

// RoutingConfig — направления эскалации по тематикам.
// Пустая строка = направление не сконфигурировано, бакет пропускается.
type RoutingConfig struct {
	General    string `mapstructure:"general"`
	Accounts   string `mapstructure:"accounts"`
	Lending    string `mapstructure:"lending"`
	Onboarding string `mapstructure:"onboarding"`
}

// AuditConfig — асинхронный журнал инцидентов валидации.
type AuditConfig struct {
	BufferSize    int           `mapstructure:"buffer_size"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

// LoggerConfig настраивает поведение zap логгера.
type LoggerConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// LoadConfig инициализирует конфигурацию, объединяя значения из файла и ENV.
func LoadConfig() (*Config, error) {
	v := viper.New()

	// 1. Настройка поиска файла
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	// 2. ENV перекрывает файл: BACKEND_TIMEOUT=5s перекроет backend.timeout
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 3. Дефолты
	setDefaults(v)

	// 4. Чтение файла
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Файла нет — работаем на ENV и дефолтах
	}

	// 5. Маппинг в структуру
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode into struct: %w", err)
	}

	// 6. Ключ из файла ИЛИ напрямую из ENV (для Docker/K8s)
	cfg.Auth.PublicKey = loadKeyResource(cfg.Auth.PublicKeyPath, "AUTH_PUBLIC_KEY_DATA")

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 5*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.rate_limit", 100.0)
	v.SetDefault("server.rate_burst", 20)

	v.SetDefault("database.max_conns", 15)
	v.SetDefault("database.min_conns", 5)

	v.SetDefault("backend.timeout", 10*time.Second)
	v.SetDefault("backend.max_tokens", 1024)
	v.SetDefault("backend.temperature", 0.3)

	v.SetDefault("gateway.failure_threshold", 5)
	v.SetDefault("gateway.open_timeout", 60*time.Second)
	v.SetDefault("gateway.max_attempts", 3)
	v.SetDefault("gateway.backoff_factor", 2.0)
	v.SetDefault("gateway.max_delay", 30*time.Second)
	v.SetDefault("gateway.max_calls", 100)
	v.SetDefault("gateway.window_duration", 60*time.Second)

	v.SetDefault("cache.ttl", 300*time.Second)
	v.SetDefault("cache.max_size", 100)
	v.SetDefault("cache.max_turns", 10)
	v.SetDefault("cache.record_ttl", 90*24*time.Hour)
	v.SetDefault("cache.compact_probability", 0.1)
	v.SetDefault("cache.compact_keep_turns", 20)

	v.SetDefault("validation.enabled", true)
	v.SetDefault("validation.persona_name", "Emma Thompson")

	v.SetDefault("routing.general", "queue:general")

	v.SetDefault("audit.buffer_size", 1000)
	v.SetDefault("audit.flush_interval", 1*time.Second)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
}

// loadKeyResource — сначала смотрим ENV с самим PEM, потом путь из конфига.
func loadKeyResource(path string, envDataKey string) []byte {
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
