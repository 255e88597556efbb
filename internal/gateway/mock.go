package gateway

import (
	"context"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// MockAdapter — конфигурируемая заглушка GatewayAdapter для тестов.
type MockAdapter struct {
	Code string

	InitiateForm domain.InitiateForm
	InitiateErr  error
	ApproveRes   domain.ApprovalResult
	ApproveErr   error
	CancelRes    domain.CancelResult
	CancelErr    error
	NetCancelErr error

	InitiateCalls  int
	ApproveCalls   int
	CancelCalls    int
	NetCancelCalls int

	LastApprove   domain.ApproveRequest
	LastCancelTID string
	LastCancelAmt int64
	LastNetCancel domain.NetCancelRequest
}

// NewMockAdapter возвращает mock с успешным сценарием по умолчанию.
func NewMockAdapter(code string) *MockAdapter {
	return &MockAdapter{
		Code: code,
		ApproveRes: domain.ApprovalResult{
			ApprovalNo:    "APPR-1",
			TransactionID: "TID-1",
		},
	}
}

func (m *MockAdapter) Acquirer() string {
	return m.Code
}

// Initiate возвращает настроенную форму и считает вызовы.
func (m *MockAdapter) Initiate(req domain.InitiateRequest) (domain.InitiateForm, error) {
	m.InitiateCalls++
	return m.InitiateForm, m.InitiateErr
}

// Approve возвращает заранее настроенный результат и запоминает запрос.
// Сумма в ответе по умолчанию равна запрошенной.
func (m *MockAdapter) Approve(ctx context.Context, req domain.ApproveRequest) (domain.ApprovalResult, error) {
	m.ApproveCalls++
	m.LastApprove = req

	res := m.ApproveRes
	if res.AmountMinor == 0 {
		res.AmountMinor = req.AmountMinor
	}
	return res, m.ApproveErr
}

// Cancel возвращает настроенный результат и запоминает параметры.
func (m *MockAdapter) Cancel(ctx context.Context, transactionID string, amountMinor int64, reason string) (domain.CancelResult, error) {
	m.CancelCalls++
	m.LastCancelTID = transactionID
	m.LastCancelAmt = amountMinor

	res := m.CancelRes
	if res.CancelledMinor == 0 {
		res.CancelledMinor = amountMinor
	}
	return res, m.CancelErr
}

// NetCancel считает вызовы и возвращает настроенную ошибку.
func (m *MockAdapter) NetCancel(ctx context.Context, req domain.NetCancelRequest) error {
	m.NetCancelCalls++
	m.LastNetCancel = req
	return m.NetCancelErr
}

var _ domain.GatewayAdapter = (*MockAdapter)(nil)
