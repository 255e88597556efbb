package processor

import (
	"context"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// MockProcessor — конфигурируемая заглушка Processor для тестов.
type MockProcessor struct {
	MethodCode domain.PaymentMethod

	ProcessErr    error
	CompensateErr error
	CancelErr     error

	ProcessCalls    int
	CompensateCalls int
	CancelCalls     int

	LastCancelAmt int64
}

// NewMockProcessor возвращает mock с успешным сценарием по умолчанию.
func NewMockProcessor(method domain.PaymentMethod) *MockProcessor {
	return &MockProcessor{MethodCode: method}
}

func (m *MockProcessor) Method() domain.PaymentMethod {
	return m.MethodCode
}

// Process имитирует успешное подтверждение и считает вызовы.
func (m *MockProcessor) Process(ctx context.Context, order domain.Order, leg *domain.PaymentLeg) error {
	m.ProcessCalls++
	if m.ProcessErr != nil {
		return m.ProcessErr
	}
	leg.Status = domain.LegStatusApproved
	leg.CancelableMinor = leg.AmountMinor
	return nil
}

// Compensate имитирует откат и считает вызовы.
func (m *MockProcessor) Compensate(ctx context.Context, order domain.Order, leg *domain.PaymentLeg) error {
	m.CompensateCalls++
	if m.CompensateErr != nil {
		leg.Status = domain.LegStatusNetCancelFailed
		return m.CompensateErr
	}
	if leg.Method == domain.PaymentMethodCard {
		leg.Status = domain.LegStatusNetCancelled
	} else {
		leg.Status = domain.LegStatusCancelled
	}
	leg.CancelableMinor = 0
	return nil
}

// Cancel имитирует возврат части суммы и считает вызовы.
func (m *MockProcessor) Cancel(ctx context.Context, order domain.Order, leg *domain.PaymentLeg, amountMinor int64, reason string) error {
	m.CancelCalls++
	m.LastCancelAmt = amountMinor
	return m.CancelErr
}

var _ Processor = (*MockProcessor)(nil)
