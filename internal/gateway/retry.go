package gateway

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// RetryConfig — параметры повторов сетевых вызовов эквайера.
type RetryConfig struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
	}
}

// RetryAdapter повторяет net-cancel с экспоненциальной задержкой. Approve и
// Cancel не повторяются: эквайер не гарантирует идемпотентность этих вызовов,
// и повтор может привести к двойному проведению. Net-cancel идемпотентен по
// авторизационному токену, поэтому его безопасно добивать.
type RetryAdapter struct {
	adapter domain.GatewayAdapter
	config  RetryConfig
	logger  *log.Entry

	sleep func(context.Context, time.Duration) error
}

// NewRetryAdapter создаёт адаптер с повторами net-cancel.
func NewRetryAdapter(adapter domain.GatewayAdapter, config RetryConfig, logger *log.Entry) *RetryAdapter {
	if logger == nil {
		logger = log.New().WithField("component", "gateway-retry")
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}

	return &RetryAdapter{
		adapter: adapter,
		config:  config,
		logger:  logger,
		sleep:   sleepContext,
	}
}

func (r *RetryAdapter) Acquirer() string {
	return r.adapter.Acquirer()
}

func (r *RetryAdapter) Initiate(req domain.InitiateRequest) (domain.InitiateForm, error) {
	return r.adapter.Initiate(req)
}

func (r *RetryAdapter) Approve(ctx context.Context, req domain.ApproveRequest) (domain.ApprovalResult, error) {
	return r.adapter.Approve(ctx, req)
}

func (r *RetryAdapter) Cancel(ctx context.Context, transactionID string, amountMinor int64, reason string) (domain.CancelResult, error) {
	return r.adapter.Cancel(ctx, transactionID, amountMinor, reason)
}

func (r *RetryAdapter) NetCancel(ctx context.Context, req domain.NetCancelRequest) error {
	var lastErr error
	delay := r.config.InitialDelay

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		lastErr = r.adapter.NetCancel(ctx, req)
		if lastErr == nil {
			if attempt > 1 {
				r.logger.WithFields(log.Fields{
					"acquirer": r.adapter.Acquirer(),
					"attempt":  attempt,
				}).Info("net-cancel succeeded after retry")
			}
			return nil
		}
		if attempt == r.config.MaxAttempts {
			break
		}

		r.logger.WithError(lastErr).WithFields(log.Fields{
			"acquirer": r.adapter.Acquirer(),
			"attempt":  attempt,
			"delay":    delay,
		}).Warn("net-cancel failed, retrying")

		if err := r.sleep(ctx, delay); err != nil {
			return lastErr
		}

		delay = time.Duration(float64(delay) * r.config.BackoffFactor)
		if delay > r.config.MaxDelay {
			delay = r.config.MaxDelay
		}
	}

	return lastErr
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ domain.GatewayAdapter = (*RetryAdapter)(nil)
