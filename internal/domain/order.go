package domain

import "time"

// OrderStatus описывает жизненный цикл заказа в платёжном контуре.
type OrderStatus string

const (
	// OrderStatusReceived — заказ принят, расчёт ещё не запускался.
	OrderStatusReceived OrderStatus = "received"
	// OrderStatusSettling — оркестратор проводит леги заказа.
	OrderStatusSettling OrderStatus = "settling"
	// OrderStatusCompleted — все леги подтверждены, заказ рассчитан.
	OrderStatusCompleted OrderStatus = "completed"
	// OrderStatusFailed — расчёт прерван, успевшие пройти леги компенсированы.
	OrderStatusFailed OrderStatus = "failed"
	// OrderStatusPartiallyCancelled — часть рассчитанной суммы возвращена.
	OrderStatusPartiallyCancelled OrderStatus = "partially_cancelled"
	// OrderStatusCancelled — cancelable amount всех легов исчерпан.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Order агрегирует заказ с точки зрения платёжного ядра: участник, сумма,
// статус расчёта. Позиции заказа живут в каталожном сервисе и здесь не нужны.
type Order struct {
	ID          string
	MemberID    string
	Status      OrderStatus
	AmountMinor int64
	Version     int64
	CreatedBy   string
	UpdatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ValidateInvariants проверяет базовые инварианты заказа и возвращает список замечаний.
func (o *Order) ValidateInvariants() []error {
	var errs []error

	if o.MemberID == "" {
		errs = append(errs, ErrMemberRequired)
	}
	if o.AmountMinor <= 0 {
		errs = append(errs, ErrAmountInvalid)
	}

	return errs
}

// Cancelable сообщает, допускает ли текущий статус cancel-flow.
func (o *Order) Cancelable() bool {
	return o.Status == OrderStatusCompleted || o.Status == OrderStatusPartiallyCancelled
}
