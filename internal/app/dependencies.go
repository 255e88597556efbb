package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
	healthcheck "github.com/vladislavdragonenkov/vibepay/internal/health"
	"github.com/vladislavdragonenkov/vibepay/internal/storage/memory"
	"github.com/vladislavdragonenkov/vibepay/internal/storage/postgres"
)

const pingTimeout = 2 * time.Second

// runtimeDependencies — хранилища и вспомогательные ресурсы, собранные под
// выбранный storage driver.
type runtimeDependencies struct {
	repo            domain.OrderRepository
	legRepo         domain.PaymentLegRepository
	lotRepo         domain.PointLotRepository
	allocRepo       domain.PointAllocationRepository
	outboxRepo      domain.OutboxRepository
	timelineRepo    domain.TimelineRepository
	idempotencyRepo domain.IdempotencyRepository
	gatewayLogRepo  domain.GatewayLogRepository
	seq             domain.Sequences

	storageChecker healthcheck.Checker
	closeFn        func() error
}

// initRuntimeDependencies собирает зависимости под cfg.StorageDriver.
func initRuntimeDependencies(ctx context.Context, cfg Config, logger *log.Entry) (runtimeDependencies, error) {
	if logger == nil {
		logger = log.WithField("component", "app")
	}

	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		return runtimeDependencies{
			repo:            memory.NewOrderRepository(),
			legRepo:         memory.NewPaymentLegRepository(),
			lotRepo:         memory.NewPointLotRepository(),
			allocRepo:       memory.NewPointAllocationRepository(),
			outboxRepo:      memory.NewOutboxRepository(),
			timelineRepo:    memory.NewTimelineRepository(),
			idempotencyRepo: memory.NewIdempotencyRepository(),
			gatewayLogRepo:  memory.NewGatewayLogRepository(),
			seq:             memory.NewSequences(),
		}, nil
	case StorageDriverPostgres:
		dsn := strings.TrimSpace(cfg.PostgresDSN)
		if dsn == "" {
			return runtimeDependencies{}, fmt.Errorf("postgres storage driver requires a DSN")
		}

		store, err := postgres.Open(ctx, dsn)
		if err != nil {
			return runtimeDependencies{}, fmt.Errorf("open postgres store: %w", err)
		}

		if cfg.PostgresAutoMigrate {
			if err := store.MigrateUp(ctx, 0); err != nil {
				_ = store.Close()
				return runtimeDependencies{}, fmt.Errorf("apply postgres migrations: %w", err)
			}
			logger.Info("postgres migrations applied")
		}

		checker := healthcheck.NewSimpleChecker("storage", func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
			defer cancel()
			return store.Ping(pingCtx)
		})

		return runtimeDependencies{
			repo:            postgres.NewOrderRepository(store),
			legRepo:         postgres.NewPaymentLegRepository(store),
			lotRepo:         postgres.NewPointLotRepository(store),
			allocRepo:       postgres.NewPointAllocationRepository(store),
			outboxRepo:      postgres.NewOutboxRepository(store),
			timelineRepo:    postgres.NewTimelineRepository(store),
			idempotencyRepo: postgres.NewIdempotencyRepository(store),
			gatewayLogRepo:  postgres.NewGatewayLogRepository(store),
			seq:             postgres.NewSequences(store),
			storageChecker:  checker,
			closeFn:         store.Close,
		}, nil
	default:
		return runtimeDependencies{}, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}
}
