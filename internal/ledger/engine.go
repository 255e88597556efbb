package ledger

import (
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

const (
	// defaultRefundValidity — окно действия лота, созданного возвратом.
	// Возврат не воскрешает срок исходного лота: участник получает свежий
	// лот с политикой «год с момента возврата».
	defaultRefundValidity = 365 * 24 * time.Hour

	ledgerActor = "ledger"
)

// Engine реализует поинтовый леджер поверх репозиториев лотов и списаний.
// Все мутации одного участника сериализованы через per-member mutex, чтобы
// два конкурентных Use не прочитали один и тот же остаток.
type Engine struct {
	lots   domain.PointLotRepository
	allocs domain.PointAllocationRepository
	seq    domain.Sequences
	logger *log.Entry

	refundValidity time.Duration
	now            func() time.Time

	mu          sync.Mutex
	memberLocks map[string]*sync.Mutex
}

// Option настраивает Engine.
type Option func(*Engine)

// WithRefundValidity задаёт окно действия refund-лотов.
func WithRefundValidity(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.refundValidity = d
		}
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEngine создаёт рабочий экземпляр леджера.
func NewEngine(
	lots domain.PointLotRepository,
	allocs domain.PointAllocationRepository,
	seq domain.Sequences,
	logger *log.Entry,
	options ...Option,
) *Engine {
	if logger == nil {
		logger = log.New().WithField("component", "point-ledger")
	}
	engine := &Engine{
		lots:           lots,
		allocs:         allocs,
		seq:            seq,
		logger:         logger,
		refundValidity: defaultRefundValidity,
		now:            func() time.Time { return time.Now().UTC() },
		memberLocks:    make(map[string]*sync.Mutex),
	}
	for _, option := range options {
		option(engine)
	}
	return engine
}

// lockMember возвращает unlock-функцию, удерживая mutex участника.
func (e *Engine) lockMember(memberID string) func() {
	e.mu.Lock()
	lock, ok := e.memberLocks[memberID]
	if !ok {
		lock = &sync.Mutex{}
		e.memberLocks[memberID] = lock
	}
	e.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

// Earn создаёт новый лот. Лоты не сливаются с существующими.
func (e *Engine) Earn(memberID string, amountMinor int64, startAt, endAt time.Time, reasonRef string) (string, error) {
	return e.credit(domain.LotKindEarn, memberID, amountMinor, startAt, endAt, reasonRef)
}

// Refund зачисляет amount свежим лотом с политикой refundValidity.
func (e *Engine) Refund(memberID string, amountMinor int64, reasonRef string) (string, error) {
	now := e.now()
	return e.credit(domain.LotKindRefund, memberID, amountMinor, now, now.Add(e.refundValidity), reasonRef)
}

func (e *Engine) credit(kind domain.LotKind, memberID string, amountMinor int64, startAt, endAt time.Time, reasonRef string) (string, error) {
	if memberID == "" {
		return "", domain.ErrMemberRequired
	}
	if amountMinor <= 0 {
		return "", domain.ErrAmountInvalid
	}
	if !endAt.After(startAt) {
		return "", domain.ErrLotWindowInvalid
	}

	unlock := e.lockMember(memberID)
	defer unlock()

	seq, err := e.seq.Next(domain.SequenceLot)
	if err != nil {
		return "", fmt.Errorf("next lot sequence: %w", err)
	}

	now := e.now()
	lot := domain.PointLot{
		ID:             domain.BusinessID(domain.IDPrefixLot, seq, now),
		MemberID:       memberID,
		Kind:           kind,
		AmountMinor:    amountMinor,
		RemainingMinor: amountMinor,
		StartAt:        startAt,
		EndAt:          endAt,
		ReasonRef:      reasonRef,
		CreatedBy:      ledgerActor,
		UpdatedBy:      ledgerActor,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if errs := lot.Validate(); len(errs) != 0 {
		return "", errs[0]
	}
	if err := e.lots.Create(lot); err != nil {
		return "", fmt.Errorf("create lot: %w", err)
	}

	e.logger.WithFields(log.Fields{
		"member_id":    memberID,
		"lot_id":       lot.ID,
		"kind":         kind,
		"amount_minor": amountMinor,
	}).Info("point lot credited")

	return lot.ID, nil
}

// Use списывает amount по лотам в порядке возрастания EndAt (при равенстве —
// по порядку создания), так что первыми расходуются поинты, ближайшие к
// сгоранию. При нехватке остатка операция не оставляет частичных эффектов.
func (e *Engine) Use(memberID string, amountMinor int64, reasonRef string) ([]domain.PointAllocation, error) {
	if memberID == "" {
		return nil, domain.ErrMemberRequired
	}
	if amountMinor <= 0 {
		return nil, domain.ErrAmountInvalid
	}

	unlock := e.lockMember(memberID)
	defer unlock()

	now := e.now()
	usable, err := e.lots.ListUsable(memberID, now)
	if err != nil {
		return nil, fmt.Errorf("list usable lots: %w", err)
	}

	var available int64
	for _, lot := range usable {
		available += lot.RemainingMinor
	}
	if available < amountMinor {
		return nil, domain.ErrInsufficientBalance
	}

	// Сначала план списания, затем мутации: отказ выше этой точки не должен
	// оставлять следов.
	type draw struct {
		lot    domain.PointLot
		amount int64
	}
	var plan []draw
	needed := amountMinor
	for _, lot := range usable {
		if needed == 0 {
			break
		}
		take := lot.RemainingMinor
		if take > needed {
			take = needed
		}
		plan = append(plan, draw{lot: lot, amount: take})
		needed -= take
	}

	allocations := make([]domain.PointAllocation, 0, len(plan))
	for _, d := range plan {
		seq, err := e.seq.Next(domain.SequenceAllocation)
		if err != nil {
			return nil, fmt.Errorf("next allocation sequence: %w", err)
		}

		lot := d.lot
		lot.RemainingMinor -= d.amount
		lot.UpdatedBy = ledgerActor
		lot.UpdatedAt = now
		if err := e.lots.Save(lot); err != nil {
			return nil, fmt.Errorf("save lot %s: %w", lot.ID, err)
		}

		alloc := domain.PointAllocation{
			ID:          domain.BusinessID(domain.IDPrefixAllocation, seq, now),
			LotID:       lot.ID,
			MemberID:    memberID,
			AmountMinor: d.amount,
			ReasonRef:   reasonRef,
			CreatedBy:   ledgerActor,
			CreatedAt:   now,
		}
		if err := e.allocs.Create(alloc); err != nil {
			return nil, fmt.Errorf("create allocation: %w", err)
		}
		allocations = append(allocations, alloc)
	}

	e.logger.WithFields(log.Fields{
		"member_id":    memberID,
		"amount_minor": amountMinor,
		"lots_used":    len(allocations),
		"reason_ref":   reasonRef,
	}).Info("points used")

	return allocations, nil
}

// Balance возвращает сумму остатков по пригодным к списанию лотам.
func (e *Engine) Balance(memberID string) (int64, error) {
	if memberID == "" {
		return 0, domain.ErrMemberRequired
	}

	usable, err := e.lots.ListUsable(memberID, e.now())
	if err != nil {
		return 0, fmt.Errorf("list usable lots: %w", err)
	}

	var balance int64
	for _, lot := range usable {
		balance += lot.RemainingMinor
	}
	return balance, nil
}

// Statistics — агрегаты по истории поинтов участника.
type Statistics struct {
	MemberID      string
	BalanceMinor  int64
	EarnedMinor   int64
	UsedMinor     int64
	RefundedMinor int64
	EarnCount     int
	UseCount      int
	RefundCount   int
}

// History возвращает списания участника в порядке создания.
func (e *Engine) History(memberID string) ([]domain.PointAllocation, error) {
	if memberID == "" {
		return nil, domain.ErrMemberRequired
	}
	return e.allocs.ListByMember(memberID)
}

// Stats считает агрегаты по лотам и списаниям участника.
func (e *Engine) Stats(memberID string) (Statistics, error) {
	if memberID == "" {
		return Statistics{}, domain.ErrMemberRequired
	}

	unlock := e.lockMember(memberID)
	defer unlock()

	lots, err := e.lots.ListByMember(memberID)
	if err != nil {
		return Statistics{}, fmt.Errorf("list lots: %w", err)
	}
	allocs, err := e.allocs.ListByMember(memberID)
	if err != nil {
		return Statistics{}, fmt.Errorf("list allocations: %w", err)
	}

	stats := Statistics{MemberID: memberID}
	now := e.now()
	for _, lot := range lots {
		switch lot.Kind {
		case domain.LotKindRefund:
			stats.RefundedMinor += lot.AmountMinor
			stats.RefundCount++
		default:
			stats.EarnedMinor += lot.AmountMinor
			stats.EarnCount++
		}
		if lot.Usable(now) {
			stats.BalanceMinor += lot.RemainingMinor
		}
	}
	for _, alloc := range allocs {
		stats.UsedMinor += alloc.AmountMinor
		stats.UseCount++
	}

	return stats, nil
}

var _ domain.PointLedger = (*Engine)(nil)
