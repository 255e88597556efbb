package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// StorageDriver определяет тип хранилища приложения.
type StorageDriver string

const (
	// StorageDriverMemory — in-memory хранилище для разработки и тестов.
	StorageDriverMemory StorageDriver = "memory"
	// StorageDriverPostgres — PostgreSQL для production.
	StorageDriverPostgres StorageDriver = "postgres"
)

// Режимы работы шлюзового слоя.
const (
	// GatewayModeMock — эквайеры эмулируются in-memory адаптерами.
	GatewayModeMock = "mock"
	// GatewayModeLive — реальные HTTP-адаптеры INICIS и NICEPAY.
	GatewayModeLive = "live"
)

// Config описывает настройки запуска приложения.
type Config struct {
	HTTPAddr    string
	MetricsAddr string

	StorageDriver       StorageDriver
	PostgresDSN         string
	PostgresAutoMigrate bool

	KafkaBrokers string

	GatewayMode    string
	GatewayWeights string

	InicisMID        string
	InicisSignKey    string
	InicisAPIKey     string
	InicisPaymentURL string
	InicisCancelURL  string

	NicepayMID         string
	NicepayMerchantKey string
	NicepayPaymentURL  string
	NicepayCancelURL   string

	TossClientKey  string
	TossSecretKey  string
	TossPaymentURL string
	TossAPIBaseURL string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	OutboxMaxAttempts  int
	OutboxRetryDelay   time.Duration
	OutboxMaxPending   int

	IdempotencyCleanupInterval  time.Duration
	IdempotencyCleanupBatchSize int
}

// DefaultConfig возвращает базовые настройки для локального запуска.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:                    ":8080",
		MetricsAddr:                 ":9090",
		StorageDriver:               StorageDriverMemory,
		PostgresAutoMigrate:         true,
		GatewayMode:                 GatewayModeMock,
		GatewayWeights:              "INICIS=60,NICEPAY=40",
		OutboxPollInterval:          time.Second,
		OutboxBatchSize:             100,
		OutboxMaxAttempts:           3,
		OutboxRetryDelay:            50 * time.Millisecond,
		OutboxMaxPending:            1000,
		IdempotencyCleanupInterval:  10 * time.Minute,
		IdempotencyCleanupBatchSize: 500,
	}
}

// ConfigFromEnv читает настройки из окружения поверх дефолтов.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("VIBEPAY_HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("VIBEPAY_METRICS_ADDR")); v != "" {
		cfg.MetricsAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("VIBEPAY_STORAGE_DRIVER")); v != "" {
		cfg.StorageDriver = StorageDriver(v)
	}
	if v := strings.TrimSpace(os.Getenv("VIBEPAY_POSTGRES_DSN")); v != "" {
		cfg.PostgresDSN = v
		if cfg.StorageDriver == StorageDriverMemory && os.Getenv("VIBEPAY_STORAGE_DRIVER") == "" {
			cfg.StorageDriver = StorageDriverPostgres
		}
	}
	if v := strings.TrimSpace(os.Getenv("VIBEPAY_POSTGRES_AUTO_MIGRATE")); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.PostgresAutoMigrate = parsed
		}
	}

	cfg.KafkaBrokers = strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))

	if v := strings.TrimSpace(os.Getenv("VIBEPAY_GATEWAY_MODE")); v != "" {
		cfg.GatewayMode = v
	}
	if v := strings.TrimSpace(os.Getenv("VIBEPAY_GATEWAY_WEIGHTS")); v != "" {
		cfg.GatewayWeights = v
	}

	cfg.InicisMID = envOr("VIBEPAY_INICIS_MID", cfg.InicisMID)
	cfg.InicisSignKey = envOr("VIBEPAY_INICIS_SIGN_KEY", cfg.InicisSignKey)
	cfg.InicisAPIKey = envOr("VIBEPAY_INICIS_API_KEY", cfg.InicisAPIKey)
	cfg.InicisPaymentURL = envOr("VIBEPAY_INICIS_PAYMENT_URL", cfg.InicisPaymentURL)
	cfg.InicisCancelURL = envOr("VIBEPAY_INICIS_CANCEL_URL", cfg.InicisCancelURL)

	cfg.NicepayMID = envOr("VIBEPAY_NICEPAY_MID", cfg.NicepayMID)
	cfg.NicepayMerchantKey = envOr("VIBEPAY_NICEPAY_MERCHANT_KEY", cfg.NicepayMerchantKey)
	cfg.NicepayPaymentURL = envOr("VIBEPAY_NICEPAY_PAYMENT_URL", cfg.NicepayPaymentURL)
	cfg.NicepayCancelURL = envOr("VIBEPAY_NICEPAY_CANCEL_URL", cfg.NicepayCancelURL)

	cfg.TossClientKey = envOr("VIBEPAY_TOSS_CLIENT_KEY", cfg.TossClientKey)
	cfg.TossSecretKey = envOr("VIBEPAY_TOSS_SECRET_KEY", cfg.TossSecretKey)
	cfg.TossPaymentURL = envOr("VIBEPAY_TOSS_PAYMENT_URL", cfg.TossPaymentURL)
	cfg.TossAPIBaseURL = envOr("VIBEPAY_TOSS_API_BASE_URL", cfg.TossAPIBaseURL)

	if v := strings.TrimSpace(os.Getenv("VIBEPAY_OUTBOX_POLL_INTERVAL")); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.OutboxPollInterval = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("VIBEPAY_OUTBOX_BATCH_SIZE")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.OutboxBatchSize = parsed
		}
	}
	if v := strings.TrimSpace(os.Getenv("VIBEPAY_IDEMPOTENCY_CLEANUP_INTERVAL")); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil && parsed > 0 {
			cfg.IdempotencyCleanupInterval = parsed
		}
	}

	return cfg
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
