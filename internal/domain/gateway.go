package domain

import (
	"context"
	"time"
)

// ApproveRequest — данные, необходимые адаптеру для подтверждения авторизации
// у эквайера. AuthToken/AuthURL/NetCancelURL приходят из браузерного шага
// initiate и хранятся на леге до завершения расчёта.
type ApproveRequest struct {
	OrderRef     string
	MemberID     string
	AmountMinor  int64
	AuthToken    string
	AuthURL      string
	NetCancelURL string
	PaymentRef   string
}

// ApprovalResult — подтверждение эквайера.
type ApprovalResult struct {
	ApprovalNo    string
	TransactionID string
	AmountMinor   int64
}

// CancelResult — результат отмены у эквайера.
type CancelResult struct {
	CancelledMinor int64
	CancelDate     string
}

// NetCancelRequest — best-effort компенсация ранее полученного approve.
// Несёт только auth-токен и URL из initiate-шага: это не возврат средств,
// а «сделай вид, что списания не было».
type NetCancelRequest struct {
	OrderRef     string
	AuthToken    string
	NetCancelURL string
}

// InitiateRequest — запрос на подготовку параметров платёжной формы.
type InitiateRequest struct {
	OrderRef    string
	MemberID    string
	AmountMinor int64
	ProductName string
	BuyerName   string
	BuyerEmail  string
}

// InitiateForm — параметры формы, которые фронт отдаёт в окно эквайера.
// Состав полей у эквайеров различается, поэтому форма — упорядоченный набор
// пар ключ-значение.
type InitiateForm struct {
	Acquirer   string
	PaymentURL string
	Fields     map[string]string
}

// GatewayAdapter — единый контракт адаптера одного эквайера.
// Все сетевые вызовы блокирующие, с фиксированными таймаутами.
type GatewayAdapter interface {
	// Acquirer возвращает код эквайера (INICIS, NICEPAY, TOSS).
	Acquirer() string
	// Initiate готовит параметры платёжной формы без обращения к эквайеру.
	Initiate(req InitiateRequest) (InitiateForm, error)
	// Approve подтверждает авторизацию. Успех только при успешном коде ответа
	// и совпадении суммы.
	Approve(ctx context.Context, req ApproveRequest) (ApprovalResult, error)
	// Cancel отменяет подтверждённую транзакцию на сумму amountMinor.
	Cancel(ctx context.Context, transactionID string, amountMinor int64, reason string) (CancelResult, error)
	// NetCancel — компенсирующий вызов; ошибка не фатальна для вызывающего,
	// но обязана быть видимой (лог + статус лега).
	NetCancel(ctx context.Context, req NetCancelRequest) error
}

// GatewayRequestLog — запись одного HTTP-обмена с эквайером для аудита и
// ручной сверки.
type GatewayRequestLog struct {
	ID           string
	PaymentRef   string
	Acquirer     string
	Kind         string
	RequestBody  string
	ResponseBody string
	CreatedAt    time.Time
}

// Виды записей журнала обменов с эквайером.
const (
	GatewayLogApprove        = "APPROVE"
	GatewayLogCancel         = "CANCEL"
	GatewayLogNetCancel      = "NET_CANCEL"
	GatewayLogNetCancelError = "NET_CANCEL_ERROR"
)
