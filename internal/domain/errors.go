package domain

import "errors"

var (
	// Ошибка отсутствующего идентификатора участника.
	ErrMemberRequired = errors.New("member_id is required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка неположительной суммы (заказ, лег, поинты).
	ErrAmountInvalid = errors.New("amount_minor must be greater than zero")
	// Ошибка несоответствия суммы заказа и сумм легов.
	ErrLegAmountMismatch = errors.New("sum of leg amounts does not match order total")
	// Ошибка пустого списка легов при расчёте.
	ErrLegsRequired = errors.New("settlement requires at least one leg")
	// Ошибка некорректного окна действия лота (end не позже start).
	ErrLotWindowInvalid = errors.New("lot validity window is invalid")

	// ErrInsufficientBalance — запрошенное списание превышает доступный остаток поинтов.
	ErrInsufficientBalance = errors.New("insufficient point balance")
	// ErrUnsupportedPaymentMethod — для кода метода не зарегистрирован processor.
	ErrUnsupportedPaymentMethod = errors.New("unsupported payment method")
	// ErrUnknownAcquirer — для эквайера не зарегистрирован адаптер.
	ErrUnknownAcquirer = errors.New("unknown acquirer")
	// ErrZeroTotalWeight — конфигурация весов эквайеров не позволяет сделать выбор.
	ErrZeroTotalWeight = errors.New("total acquirer weight is zero")
	// ErrOverCancellation — запрошенная отмена превышает остаток cancelable amount.
	ErrOverCancellation = errors.New("cancel amount exceeds cancelable amount")

	// ErrAuthDataRequired — подтверждение карточного лега без auth-данных
	// браузерного шага.
	ErrAuthDataRequired = errors.New("card leg auth data is required")
	// ErrGatewayApprovalFailed — эквайер отклонил авторизацию либо вызов не удался.
	ErrGatewayApprovalFailed = errors.New("gateway approval failed")
	// ErrGatewayCancelFailed — эквайер отклонил отмену либо вызов не удался.
	ErrGatewayCancelFailed = errors.New("gateway cancel failed")
	// ErrNetCancelFailed — компенсирующий net-cancel сам завершился ошибкой;
	// лег остаётся в состоянии net_cancel_failed до ручной сверки.
	ErrNetCancelFailed = errors.New("net cancel failed")
	// ErrGatewayUnavailable — адаптер закрыт circuit breaker'ом.
	ErrGatewayUnavailable = errors.New("gateway temporarily unavailable")

	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrPaymentLegNotFound возвращается, если лег не найден.
	ErrPaymentLegNotFound = errors.New("payment leg not found")
	// ErrPointLotNotFound возвращается, если лот не найден.
	ErrPointLotNotFound = errors.New("point lot not found")
	// ErrOrderNotCancelable — заказ не в состоянии, допускающем отмену.
	ErrOrderNotCancelable = errors.New("order is not cancelable")
	// ErrOrderAlreadySettled — повторная попытка рассчитать завершённый заказ.
	ErrOrderAlreadySettled = errors.New("order is already settled")

	// ErrVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrVersionConflict = errors.New("record version conflict")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	// Ошибки идемпотентности confirm-запросов.
	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
)

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
