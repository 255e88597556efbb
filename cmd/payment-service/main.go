package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/app"
)

// setupLogger настраивает формат и уровень логирования для сервиса.
func setupLogger() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)
}

// normalizeConfig приводит сомнительные значения к дефолтам и возвращает список предупреждений.
func normalizeConfig(cfg app.Config) (app.Config, []string) {
	defaults := app.DefaultConfig()

	var warnings []string

	if cfg.OutboxPollInterval <= 0 {
		warnings = append(warnings, fmt.Sprintf("outbox poll interval %s is not positive, using %s", cfg.OutboxPollInterval, defaults.OutboxPollInterval))
		cfg.OutboxPollInterval = defaults.OutboxPollInterval
	}
	if cfg.OutboxBatchSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("outbox batch size %d is not positive, using %d", cfg.OutboxBatchSize, defaults.OutboxBatchSize))
		cfg.OutboxBatchSize = defaults.OutboxBatchSize
	}
	if cfg.OutboxMaxAttempts <= 0 {
		warnings = append(warnings, fmt.Sprintf("outbox max attempts %d is not positive, using %d", cfg.OutboxMaxAttempts, defaults.OutboxMaxAttempts))
		cfg.OutboxMaxAttempts = defaults.OutboxMaxAttempts
	}
	if cfg.OutboxRetryDelay < 0 {
		warnings = append(warnings, fmt.Sprintf("outbox retry delay %s is negative, using %s", cfg.OutboxRetryDelay, defaults.OutboxRetryDelay))
		cfg.OutboxRetryDelay = defaults.OutboxRetryDelay
	}
	if cfg.IdempotencyCleanupInterval <= 0 {
		warnings = append(warnings, fmt.Sprintf("idempotency cleanup interval %s is not positive, using %s", cfg.IdempotencyCleanupInterval, defaults.IdempotencyCleanupInterval))
		cfg.IdempotencyCleanupInterval = defaults.IdempotencyCleanupInterval
	}
	if cfg.IdempotencyCleanupBatchSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("idempotency cleanup batch size %d is not positive, using %d", cfg.IdempotencyCleanupBatchSize, defaults.IdempotencyCleanupBatchSize))
		cfg.IdempotencyCleanupBatchSize = defaults.IdempotencyCleanupBatchSize
	}
	if cfg.GatewayMode != app.GatewayModeMock && cfg.GatewayMode != app.GatewayModeLive {
		warnings = append(warnings, fmt.Sprintf("unknown gateway mode %q, using %q", cfg.GatewayMode, defaults.GatewayMode))
		cfg.GatewayMode = defaults.GatewayMode
	}

	return cfg, warnings
}

func main() {
	setupLogger()

	cfg, warnings := normalizeConfig(app.ConfigFromEnv())
	for _, warning := range warnings {
		log.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(log.Fields{
		"http_addr":    cfg.HTTPAddr,
		"metrics_addr": cfg.MetricsAddr,
		"storage":      cfg.StorageDriver,
		"gateway_mode": cfg.GatewayMode,
	}).Info("запускаем payment service")

	if err := app.Run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Fatal("приложение завершилось с ошибкой")
	}

	log.Info("payment service остановлен")
}
