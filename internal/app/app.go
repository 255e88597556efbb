package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/api"
	healthcheck "github.com/vladislavdragonenkov/vibepay/internal/health"
	"github.com/vladislavdragonenkov/vibepay/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/vibepay/internal/service/idempotency"
	"github.com/vladislavdragonenkov/vibepay/internal/service/outbox"
	"github.com/vladislavdragonenkov/vibepay/internal/version"
)

const workerStopTimeout = 5 * time.Second

// Run поднимает платёжный сервис: хранилище, платёжный стек, HTTP API,
// метрики и фоновые воркеры. Блокируется до отмены ctx или ошибки сервера.
func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := initRuntimeDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	closeStorage := func() {
		if deps.closeFn == nil {
			return
		}
		if err := deps.closeFn(); err != nil {
			logger.WithError(err).Warn("failed to close storage")
		}
	}

	// Kafka опционален: без брокеров события остаются в outbox.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)

	svc, gatewayRegistry, err := createPaymentService(deps, cfg, kafkaProducer, logger)
	if err != nil {
		closeKafka(kafkaProducer, logger)
		closeStorage()
		return err
	}

	apiServer := api.NewServer(svc, deps.idempotencyRepo, logger.WithField("layer", "http"))

	healthHandler := healthcheck.NewHandler(version.GetVersion())
	if deps.storageChecker != nil {
		healthHandler.RegisterChecker("storage", deps.storageChecker)
	}
	// Эквайеры — вспомогательная зависимость: открытый breaker деградирует
	// сервис, но readiness не снимает.
	healthHandler.RegisterOptionalChecker("gateway", healthcheck.NewSimpleChecker("gateway", func() error {
		if open := gatewayRegistry.OpenBreakers(); len(open) > 0 {
			return fmt.Errorf("circuit open for acquirers: %s", strings.Join(open, ", "))
		}
		return nil
	}))

	metricsSrv := startMetricsServer(ctx, cfg.MetricsAddr, logger, healthHandler)

	workerCtx, workerCancel := context.WithCancel(ctx)
	defer workerCancel()

	var outboxDone chan struct{}
	if kafkaProducer != nil {
		worker := outbox.NewWorker(
			deps.outboxRepo,
			kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicOrderEvents),
			outbox.WithLogger(logger.WithField("component", "outbox-worker")),
			outbox.WithDLQPublisher(kafka.NewOutboxPublisher(kafkaProducer, kafka.TopicDeadLetterQueue)),
			outbox.WithPollInterval(cfg.OutboxPollInterval),
			outbox.WithBatchSize(cfg.OutboxBatchSize),
			outbox.WithMaxAttempts(cfg.OutboxMaxAttempts),
			outbox.WithRetryBaseDelay(cfg.OutboxRetryDelay),
		)
		outboxDone = make(chan struct{})
		go func() {
			defer close(outboxDone)
			worker.Run(workerCtx)
		}()
	}

	cleanupWorker := idempotency.NewCleanupWorker(
		deps.idempotencyRepo,
		idempotency.WithLogger(logger.WithField("component", "idempotency-cleanup")),
		idempotency.WithInterval(cfg.IdempotencyCleanupInterval),
		idempotency.WithBatchSize(cfg.IdempotencyCleanupBatchSize),
	)
	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		cleanupWorker.Run(workerCtx)
	}()

	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: apiServer.Router()}
	errCh := make(chan error, 1)
	go func() {
		logger.Infof("HTTP API слушает %s", cfg.HTTPAddr)
		errCh <- httpSrv.ListenAndServe()
	}()

	shutdown := func() {
		shutdownHTTP(httpSrv, logger)
		shutdownWorker(workerCancel, outboxDone, logger)
		shutdownWorker(nil, cleanupDone, logger)
		shutdownHTTP(metricsSrv, logger)
		closeKafka(kafkaProducer, logger)
		closeStorage()
	}

	select {
	case <-ctx.Done():
		logger.Info("получен сигнал остановки, останавливаем HTTP сервер")
		shutdown()
		return ctx.Err()
	case err := <-errCh:
		shutdown()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// shutdownWorker отменяет контекст воркера и ждёт его завершения с таймаутом.
func shutdownWorker(cancel context.CancelFunc, done <-chan struct{}, logger *log.Entry) {
	if cancel != nil {
		cancel()
	}
	if done == nil {
		return
	}
	select {
	case <-done:
	case <-time.After(workerStopTimeout):
		logger.Warn("worker stop exceeded timeout")
	}
}
