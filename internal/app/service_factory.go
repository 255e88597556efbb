package app

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
	"github.com/vladislavdragonenkov/vibepay/internal/gateway"
	"github.com/vladislavdragonenkov/vibepay/internal/ledger"
	"github.com/vladislavdragonenkov/vibepay/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/vibepay/internal/metrics"
	"github.com/vladislavdragonenkov/vibepay/internal/service/payments"
	"github.com/vladislavdragonenkov/vibepay/internal/service/processor"
	"github.com/vladislavdragonenkov/vibepay/internal/service/settlement"
)

const (
	breakerMaxFailures  = 5
	breakerResetTimeout = 30 * time.Second
	gatewayCallTimeout  = 10 * time.Second
)

// parseGatewayWeights разбирает строку вида "INICIS=60,NICEPAY=40".
func parseGatewayWeights(spec string) ([]gateway.Weight, error) {
	var weights []gateway.Weight
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid gateway weight entry %q", part)
		}
		value, err := strconv.Atoi(strings.TrimSpace(kv[1]))
		if err != nil {
			return nil, fmt.Errorf("invalid gateway weight value in %q: %w", part, err)
		}
		weights = append(weights, gateway.Weight{
			Acquirer: strings.ToUpper(strings.TrimSpace(kv[0])),
			Value:    value,
		})
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("gateway weights spec %q has no entries", spec)
	}
	return weights, nil
}

// buildGatewayRegistry собирает адаптеры эквайеров согласно cfg.GatewayMode
// и заворачивает реальные адаптеры в circuit breaker.
func buildGatewayRegistry(cfg Config, logs domain.GatewayLogRepository, logger *log.Entry) (*gateway.Registry, error) {
	weights, err := parseGatewayWeights(cfg.GatewayWeights)
	if err != nil {
		return nil, err
	}

	selector, err := gateway.NewSelector(weights, logger)
	if err != nil {
		return nil, fmt.Errorf("build gateway selector: %w", err)
	}

	var adapters []domain.GatewayAdapter
	switch cfg.GatewayMode {
	case GatewayModeMock, "":
		for _, w := range weights {
			adapters = append(adapters, gateway.NewMockAdapter(w.Acquirer))
		}
	case GatewayModeLive:
		for _, w := range weights {
			adapter, err := buildLiveAdapter(cfg, w.Acquirer, logs, logger)
			if err != nil {
				return nil, err
			}
			retrying := gateway.NewRetryAdapter(adapter, gateway.DefaultRetryConfig(), logger)
			breaker := gateway.NewCircuitBreaker(breakerMaxFailures, breakerResetTimeout, logger)
			adapters = append(adapters, gateway.NewBreakerAdapter(retrying, breaker))
		}
	default:
		return nil, fmt.Errorf("unsupported gateway mode %q", cfg.GatewayMode)
	}

	registry, err := gateway.NewRegistry(adapters, selector)
	if err != nil {
		return nil, fmt.Errorf("build gateway registry: %w", err)
	}
	return registry, nil
}

func buildLiveAdapter(cfg Config, acquirer string, logs domain.GatewayLogRepository, logger *log.Entry) (domain.GatewayAdapter, error) {
	switch acquirer {
	case gateway.AcquirerInicis:
		return gateway.NewInicisAdapter(gateway.InicisConfig{
			MID:        cfg.InicisMID,
			SignKey:    cfg.InicisSignKey,
			APIKey:     cfg.InicisAPIKey,
			PaymentURL: cfg.InicisPaymentURL,
			CancelURL:  cfg.InicisCancelURL,
			Timeout:    gatewayCallTimeout,
		}, logs, logger), nil
	case gateway.AcquirerNicepay:
		return gateway.NewNicepayAdapter(gateway.NicepayConfig{
			MID:         cfg.NicepayMID,
			MerchantKey: cfg.NicepayMerchantKey,
			PaymentURL:  cfg.NicepayPaymentURL,
			CancelURL:   cfg.NicepayCancelURL,
			Timeout:     gatewayCallTimeout,
		}, logs, logger), nil
	case gateway.AcquirerToss:
		return gateway.NewTossAdapter(gateway.TossConfig{
			ClientKey:  cfg.TossClientKey,
			SecretKey:  cfg.TossSecretKey,
			PaymentURL: cfg.TossPaymentURL,
			APIBaseURL: cfg.TossAPIBaseURL,
			Timeout:    gatewayCallTimeout,
		}, logs, logger), nil
	default:
		return nil, fmt.Errorf("unknown acquirer %q in gateway weights", acquirer)
	}
}

// createOrchestrator собирает settlement-оркестратор с метриками и
// опциональным Kafka producer.
func createOrchestrator(
	deps runtimeDependencies,
	dispatcher *processor.Dispatcher,
	kafkaProducer *kafka.Producer,
	logger *log.Entry,
) *settlement.Orchestrator {
	options := []settlement.Option{
		settlement.WithMetrics(metrics.NewSettlementMetrics()),
	}
	if kafkaProducer != nil {
		options = append(options, settlement.WithKafkaProducer(kafkaProducer))
	}

	return settlement.NewOrchestrator(
		deps.repo,
		deps.legRepo,
		dispatcher,
		deps.outboxRepo,
		deps.timelineRepo,
		logger.WithField("component", "settlement"),
		options...,
	)
}

// createPaymentService собирает полный платёжный стек поверх зависимостей.
// Registry возвращается отдельно: app вешает на него health-проверку
// доступности эквайеров.
func createPaymentService(
	deps runtimeDependencies,
	cfg Config,
	kafkaProducer *kafka.Producer,
	logger *log.Entry,
) (*payments.Service, *gateway.Registry, error) {
	registry, err := buildGatewayRegistry(cfg, deps.gatewayLogRepo, logger.WithField("component", "gateway"))
	if err != nil {
		return nil, nil, err
	}

	pointLedger := ledger.NewEngine(
		deps.lotRepo,
		deps.allocRepo,
		deps.seq,
		logger.WithField("component", "point-ledger"),
	)

	dispatcher, err := processor.NewDispatcher(
		processor.NewCardProcessor(registry, logger.WithField("component", "card-processor")),
		processor.NewPointProcessor(pointLedger, logger.WithField("component", "point-processor")),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("build processor dispatcher: %w", err)
	}

	orch := createOrchestrator(deps, dispatcher, kafkaProducer, logger)

	svc := payments.NewService(
		deps.repo,
		deps.legRepo,
		deps.timelineRepo,
		deps.seq,
		registry,
		orch,
		pointLedger,
		logger.WithField("component", "payments"),
	)
	return svc, registry, nil
}
