package domain

import "time"

// PaymentMethod — код платёжного инструмента лега.
type PaymentMethod string

const (
	// PaymentMethodCard — списание через внешнего эквайера.
	PaymentMethodCard PaymentMethod = "CARD"
	// PaymentMethodPoint — списание с внутреннего поинтового леджера.
	PaymentMethodPoint PaymentMethod = "POINT"
)

// Valid проверяет, что код метода поддерживается ядром.
func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCard, PaymentMethodPoint:
		return true
	default:
		return false
	}
}

// LegStatus описывает состояние одного платёжного лега.
type LegStatus string

const (
	// LegStatusPending — лег создан, подтверждение ещё не получено.
	LegStatusPending LegStatus = "pending"
	// LegStatusApproved — эквайер/леджер подтвердил списание.
	LegStatusApproved LegStatus = "approved"
	// LegStatusCancelled — cancelable amount лега исчерпан cancel-flow.
	LegStatusCancelled LegStatus = "cancelled"
	// LegStatusNetCancelled — подтверждённый лег аннулирован компенсацией
	// до того, как заказ считался рассчитанным.
	LegStatusNetCancelled LegStatus = "net_cancelled"
	// LegStatusNetCancelFailed — компенсация не прошла; запись расходится с
	// состоянием эквайера и ждёт ручной сверки.
	LegStatusNetCancelFailed LegStatus = "net_cancel_failed"
)

// PaymentLeg — вклад одного инструмента в расчёт заказа.
type PaymentLeg struct {
	ID       string
	OrderID  string
	MemberID string
	Method   PaymentMethod
	Status   LegStatus

	AmountMinor     int64
	CancelableMinor int64

	// Поля эквайера; для поинтовых легов остаются пустыми.
	Acquirer      string
	TransactionID string
	ApprovalNo    string
	AuthToken     string
	AuthURL       string
	NetCancelURL  string

	Version   int64
	CreatedBy string
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate проверяет корректность полей лега и возвращает ошибки, если они есть.
func (l *PaymentLeg) Validate() []error {
	var errs []error

	if l.OrderID == "" {
		errs = append(errs, ErrOrderIDRequired)
	}
	if l.MemberID == "" {
		errs = append(errs, ErrMemberRequired)
	}
	if !l.Method.Valid() {
		errs = append(errs, ErrUnsupportedPaymentMethod)
	}
	if l.AmountMinor <= 0 {
		errs = append(errs, ErrAmountInvalid)
	}
	if l.CancelableMinor < 0 || l.CancelableMinor > l.AmountMinor {
		errs = append(errs, ErrOverCancellation)
	}

	return errs
}

// ApplyCancel уменьшает cancelable amount на amount. Значение монотонно не
// растёт; запрос сверх остатка отклоняется без изменения состояния.
func (l *PaymentLeg) ApplyCancel(amount int64) error {
	if amount <= 0 {
		return ErrAmountInvalid
	}
	if amount > l.CancelableMinor {
		return ErrOverCancellation
	}
	l.CancelableMinor -= amount
	if l.CancelableMinor == 0 {
		l.Status = LegStatusCancelled
	}
	return nil
}
