package domain

import "time"

// LotKind различает происхождение лота: обычное начисление или возврат.
type LotKind string

const (
	// LotKindEarn — начисление (промо, ручное пополнение и т.п.).
	LotKindEarn LotKind = "earn"
	// LotKindRefund — зачисление, компенсирующее прежнее списание.
	LotKindRefund LotKind = "refund"
)

// PointLot — одно событие начисления поинтов с собственным окном действия
// [StartAt, EndAt). Лоты не сливаются; исчерпанные и истёкшие лоты остаются
// в истории.
type PointLot struct {
	ID             string
	MemberID       string
	Kind           LotKind
	AmountMinor    int64
	RemainingMinor int64
	StartAt        time.Time
	EndAt          time.Time
	ReasonRef      string
	Version        int64
	CreatedBy      string
	UpdatedBy      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Validate проверяет инварианты лота: 0 ≤ remaining ≤ amount, окно корректно.
func (l *PointLot) Validate() []error {
	var errs []error

	if l.MemberID == "" {
		errs = append(errs, ErrMemberRequired)
	}
	if l.AmountMinor <= 0 {
		errs = append(errs, ErrAmountInvalid)
	}
	if l.RemainingMinor < 0 || l.RemainingMinor > l.AmountMinor {
		errs = append(errs, ErrInsufficientBalance)
	}
	if !l.EndAt.After(l.StartAt) {
		errs = append(errs, ErrLotWindowInvalid)
	}

	return errs
}

// Usable сообщает, пригоден ли лот для списания в момент now.
func (l *PointLot) Usable(now time.Time) bool {
	return l.RemainingMinor > 0 && !now.Before(l.StartAt) && now.Before(l.EndAt)
}

// PointAllocation — списание, вычтенное ровно из одного лота в рамках одного
// use-запроса.
type PointAllocation struct {
	ID          string
	LotID       string
	MemberID    string
	AmountMinor int64
	ReasonRef   string
	CreatedBy   string
	CreatedAt   time.Time
}
