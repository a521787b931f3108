package app

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Поддерживаемые драйверы хранилищ.
const (
	StorageDriverMemory   = "memory"
	StorageDriverPostgres = "postgres"
	StorageDriverRedis    = "redis"
)

// Config описывает настройки запуска сервиса кассы.
type Config struct {
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	BackendURL     string
	BackendToken   string
	BackendTimeout time.Duration

	JWTSecret      string
	RequestTimeout time.Duration
	SubmitTimeout  time.Duration
	Currency       string

	// StorageDriver хранит отложенные заказы, outbox и idempotency-ключи.
	StorageDriver       string
	PostgresDSN         string
	PostgresAutoMigrate bool

	// CartStoreDriver хранит корзины между перезапусками.
	CartStoreDriver string
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	CartTTL         time.Duration

	KafkaBrokers  []string
	KafkaClientID string
	KafkaTopic    string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration

	ProbeInterval          time.Duration
	CatalogRefreshInterval time.Duration
	NotificationCapacity   int

	IdempotencyTTL              time.Duration
	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int

	LogLevel  string
	LogFormat string
}

// DefaultConfig возвращает настройки для локального запуска без внешних хранилищ.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:    ":8080",
		GRPCAddr:    ":50051",
		MetricsAddr: ":9090",

		BackendTimeout: 10 * time.Second,
		RequestTimeout: 30 * time.Second,
		SubmitTimeout:  20 * time.Second,

		StorageDriver:       StorageDriverMemory,
		PostgresAutoMigrate: true,
		CartStoreDriver:     StorageDriverMemory,
		CartTTL:             7 * 24 * time.Hour,

		KafkaClientID: "pos-service",

		OutboxPollInterval: time.Second,
		OutboxBatchSize:    100,
		OutboxMaxAttempts:  3,
		OutboxRetryDelay:   100 * time.Millisecond,

		ProbeInterval:          15 * time.Second,
		CatalogRefreshInterval: 10 * time.Minute,
		NotificationCapacity:   100,

		IdempotencyTTL:              24 * time.Hour,
		IdempotencyCleanupInterval:  time.Minute,
		IdempotencyCleanupBatchSize: 500,

		LogLevel:  "info",
		LogFormat: "text",
	}
}

// Ключи окружения. В .env используются те же имена.
const (
	keyHTTPAddr             = "POS_HTTP_ADDR"
	keyGRPCAddr             = "POS_GRPC_ADDR"
	keyMetricsAddr          = "POS_METRICS_ADDR"
	keyBackendURL           = "POS_BACKEND_URL"
	keyBackendToken         = "POS_BACKEND_TOKEN"
	keyBackendTimeout       = "POS_BACKEND_TIMEOUT"
	keyJWTSecret            = "POS_JWT_SECRET"
	keyRequestTimeout       = "POS_REQUEST_TIMEOUT"
	keySubmitTimeout        = "POS_SUBMIT_TIMEOUT"
	keyCurrency             = "POS_CURRENCY"
	keyStorageDriver        = "POS_STORAGE_DRIVER"
	keyPostgresDSN          = "POS_POSTGRES_DSN"
	keyPostgresAutoMigrate  = "POS_POSTGRES_AUTO_MIGRATE"
	keyCartStoreDriver      = "POS_CART_STORE"
	keyRedisAddr            = "POS_REDIS_ADDR"
	keyRedisPassword        = "POS_REDIS_PASSWORD"
	keyRedisDB              = "POS_REDIS_DB"
	keyCartTTL              = "POS_CART_TTL"
	keyKafkaBrokers         = "POS_KAFKA_BROKERS"
	keyKafkaClientID        = "POS_KAFKA_CLIENT_ID"
	keyKafkaTopic           = "POS_KAFKA_TOPIC"
	keyOutboxPollInterval   = "POS_OUTBOX_POLL_INTERVAL"
	keyOutboxBatchSize      = "POS_OUTBOX_BATCH_SIZE"
	keyOutboxMaxAttempts    = "POS_OUTBOX_MAX_ATTEMPTS"
	keyOutboxRetryDelay     = "POS_OUTBOX_RETRY_DELAY"
	keyProbeInterval        = "POS_PROBE_INTERVAL"
	keyCatalogRefresh       = "POS_CATALOG_REFRESH_INTERVAL"
	keyNotificationCapacity = "POS_NOTIFICATION_CAPACITY"
	keyIdempotencyTTL       = "POS_IDEMPOTENCY_TTL"
	keyIdempotencyInterval  = "POS_IDEMPOTENCY_CLEANUP_INTERVAL"
	keyIdempotencyBatchSize = "POS_IDEMPOTENCY_CLEANUP_BATCH_SIZE"
	keyLogLevel             = "POS_LOG_LEVEL"
	keyLogFormat            = "POS_LOG_FORMAT"
)

// LoadConfig читает настройки из envFile (если он есть) и переменных окружения.
// Переменные окружения важнее файла; отсутствующий файл не ошибка.
func LoadConfig(envFile string) (Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
				return Config{}, fmt.Errorf("read config %s: %w", envFile, err)
			}
		}
	}
	v.AutomaticEnv()

	cfg := Config{
		HTTPAddr:    v.GetString(keyHTTPAddr),
		GRPCAddr:    v.GetString(keyGRPCAddr),
		MetricsAddr: v.GetString(keyMetricsAddr),

		BackendURL:     strings.TrimSpace(v.GetString(keyBackendURL)),
		BackendToken:   v.GetString(keyBackendToken),
		BackendTimeout: v.GetDuration(keyBackendTimeout),

		JWTSecret:      v.GetString(keyJWTSecret),
		RequestTimeout: v.GetDuration(keyRequestTimeout),
		SubmitTimeout:  v.GetDuration(keySubmitTimeout),
		Currency:       strings.ToUpper(strings.TrimSpace(v.GetString(keyCurrency))),

		StorageDriver:       strings.ToLower(strings.TrimSpace(v.GetString(keyStorageDriver))),
		PostgresDSN:         strings.TrimSpace(v.GetString(keyPostgresDSN)),
		PostgresAutoMigrate: v.GetBool(keyPostgresAutoMigrate),

		CartStoreDriver: strings.ToLower(strings.TrimSpace(v.GetString(keyCartStoreDriver))),
		RedisAddr:       strings.TrimSpace(v.GetString(keyRedisAddr)),
		RedisPassword:   v.GetString(keyRedisPassword),
		RedisDB:         v.GetInt(keyRedisDB),
		CartTTL:         v.GetDuration(keyCartTTL),

		KafkaBrokers:  parseList(v.GetString(keyKafkaBrokers)),
		KafkaClientID: v.GetString(keyKafkaClientID),
		KafkaTopic:    v.GetString(keyKafkaTopic),

		OutboxPollInterval: v.GetDuration(keyOutboxPollInterval),
		OutboxBatchSize:    v.GetInt(keyOutboxBatchSize),
		OutboxMaxAttempts:  v.GetInt(keyOutboxMaxAttempts),
		OutboxRetryDelay:   v.GetDuration(keyOutboxRetryDelay),

		ProbeInterval:          v.GetDuration(keyProbeInterval),
		CatalogRefreshInterval: v.GetDuration(keyCatalogRefresh),
		NotificationCapacity:   v.GetInt(keyNotificationCapacity),

		IdempotencyTTL:              v.GetDuration(keyIdempotencyTTL),
		IdempotencyCleanupInterval:  v.GetDuration(keyIdempotencyInterval),
		IdempotencyCleanupBatchSize: v.GetInt(keyIdempotencyBatchSize),

		LogLevel:  strings.ToLower(v.GetString(keyLogLevel)),
		LogFormat: strings.ToLower(v.GetString(keyLogFormat)),
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault(keyHTTPAddr, d.HTTPAddr)
	v.SetDefault(keyGRPCAddr, d.GRPCAddr)
	v.SetDefault(keyMetricsAddr, d.MetricsAddr)
	v.SetDefault(keyBackendTimeout, d.BackendTimeout)
	v.SetDefault(keyRequestTimeout, d.RequestTimeout)
	v.SetDefault(keySubmitTimeout, d.SubmitTimeout)
	v.SetDefault(keyStorageDriver, d.StorageDriver)
	v.SetDefault(keyPostgresAutoMigrate, d.PostgresAutoMigrate)
	v.SetDefault(keyCartStoreDriver, d.CartStoreDriver)
	v.SetDefault(keyCartTTL, d.CartTTL)
	v.SetDefault(keyKafkaClientID, d.KafkaClientID)
	v.SetDefault(keyOutboxPollInterval, d.OutboxPollInterval)
	v.SetDefault(keyOutboxBatchSize, d.OutboxBatchSize)
	v.SetDefault(keyOutboxMaxAttempts, d.OutboxMaxAttempts)
	v.SetDefault(keyOutboxRetryDelay, d.OutboxRetryDelay)
	v.SetDefault(keyProbeInterval, d.ProbeInterval)
	v.SetDefault(keyCatalogRefresh, d.CatalogRefreshInterval)
	v.SetDefault(keyNotificationCapacity, d.NotificationCapacity)
	v.SetDefault(keyIdempotencyTTL, d.IdempotencyTTL)
	v.SetDefault(keyIdempotencyInterval, d.IdempotencyCleanupInterval)
	v.SetDefault(keyIdempotencyBatchSize, d.IdempotencyCleanupBatchSize)
	v.SetDefault(keyLogLevel, d.LogLevel)
	v.SetDefault(keyLogFormat, d.LogFormat)
}

func parseList(raw string) []string {
	var out []string
	for _, chunk := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(chunk); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate проверяет обязательные настройки до запуска серверов.
func (c Config) Validate() error {
	var errs []error
	if c.BackendURL == "" {
		errs = append(errs, fmt.Errorf("%s is required", keyBackendURL))
	}
	if strings.TrimSpace(c.JWTSecret) == "" {
		errs = append(errs, fmt.Errorf("%s is required", keyJWTSecret))
	}

	switch c.StorageDriver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, fmt.Errorf("%s is required for postgres storage", keyPostgresDSN))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported storage driver %q", c.StorageDriver))
	}

	switch c.CartStoreDriver {
	case StorageDriverMemory:
	case StorageDriverRedis:
		if c.RedisAddr == "" {
			errs = append(errs, fmt.Errorf("%s is required for redis cart store", keyRedisAddr))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported cart store %q", c.CartStoreDriver))
	}

	if c.NotificationCapacity <= 0 {
		errs = append(errs, fmt.Errorf("%s must be > 0", keyNotificationCapacity))
	}
	return errors.Join(errs...)
}
