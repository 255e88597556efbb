package gateway

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// CircuitBreaker — защита от деградировавшего эквайера: после maxFailures
// подряд идущих ошибок вызовы блокируются до истечения resetTimeout.
type CircuitBreaker struct {
	maxFailures  int
	resetTimeout time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	state       CircuitState
	logger      *log.Entry
}

type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// NewCircuitBreaker создаёт новый circuit breaker.
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration, logger *log.Entry) *CircuitBreaker {
	if logger == nil {
		logger = log.New().WithField("component", "circuit-breaker")
	}

	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        CircuitClosed,
		logger:       logger,
	}
}

// Execute выполняет операцию через circuit breaker. Если контур открыт,
// возвращает ErrGatewayUnavailable, не вызывая fn.
func (cb *CircuitBreaker) Execute(operation string, fn func() error) error {
	cb.mu.Lock()
	if cb.state == CircuitOpen {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = CircuitHalfOpen
			cb.logger.WithField("operation", operation).Info("Circuit breaker half-open")
		} else {
			cb.mu.Unlock()
			return domain.ErrGatewayUnavailable
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		cb.lastFailure = time.Now()

		if cb.state == CircuitHalfOpen || cb.failures >= cb.maxFailures {
			cb.state = CircuitOpen
			cb.logger.WithFields(log.Fields{
				"operation": operation,
				"failures":  cb.failures,
			}).Warn("Circuit breaker opened")
		}

		return err
	}

	// Успешное выполнение - сбрасываем счётчик
	if cb.state == CircuitHalfOpen {
		cb.state = CircuitClosed
		cb.logger.WithField("operation", operation).Info("Circuit breaker closed")
	}
	cb.failures = 0

	return nil
}

// State возвращает текущее состояние контура.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// BreakerAdapter оборачивает адаптер эквайера circuit breaker'ом.
// Initiate не ходит в сеть и выполняется без защиты.
type BreakerAdapter struct {
	adapter domain.GatewayAdapter
	breaker *CircuitBreaker
}

// NewBreakerAdapter создаёт защищённый адаптер.
func NewBreakerAdapter(adapter domain.GatewayAdapter, breaker *CircuitBreaker) *BreakerAdapter {
	return &BreakerAdapter{adapter: adapter, breaker: breaker}
}

func (b *BreakerAdapter) Acquirer() string {
	return b.adapter.Acquirer()
}

// BreakerOpen сообщает, что контур открыт и сетевые вызовы отклоняются.
func (b *BreakerAdapter) BreakerOpen() bool {
	return b.breaker.State() == CircuitOpen
}

func (b *BreakerAdapter) Initiate(req domain.InitiateRequest) (domain.InitiateForm, error) {
	return b.adapter.Initiate(req)
}

func (b *BreakerAdapter) Approve(ctx context.Context, req domain.ApproveRequest) (domain.ApprovalResult, error) {
	var result domain.ApprovalResult
	err := b.breaker.Execute("Approve", func() error {
		var inner error
		result, inner = b.adapter.Approve(ctx, req)
		return inner
	})
	return result, err
}

func (b *BreakerAdapter) Cancel(ctx context.Context, transactionID string, amountMinor int64, reason string) (domain.CancelResult, error) {
	var result domain.CancelResult
	err := b.breaker.Execute("Cancel", func() error {
		var inner error
		result, inner = b.adapter.Cancel(ctx, transactionID, amountMinor, reason)
		return inner
	})
	return result, err
}

func (b *BreakerAdapter) NetCancel(ctx context.Context, req domain.NetCancelRequest) error {
	return b.breaker.Execute("NetCancel", func() error {
		return b.adapter.NetCancel(ctx, req)
	})
}

var _ domain.GatewayAdapter = (*BreakerAdapter)(nil)
