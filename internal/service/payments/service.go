package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
	"github.com/vladislavdragonenkov/vibepay/internal/gateway"
	"github.com/vladislavdragonenkov/vibepay/internal/ledger"
	"github.com/vladislavdragonenkov/vibepay/internal/service/settlement"
)

const (
	defaultListOrdersLimit = 100
	defaultEarnValidity    = 365 * 24 * time.Hour
)

// Service — прикладной фасад платёжного ядра: приём заказа с подготовкой
// платёжных форм, подтверждение (расчёт), отмена и запросы состояния.
// Транспорт (HTTP) остаётся тонким и ходит только сюда.
type Service struct {
	orders   domain.OrderRepository
	legs     domain.PaymentLegRepository
	timeline domain.TimelineRepository
	seq      domain.Sequences
	registry *gateway.Registry
	orch     *settlement.Orchestrator
	ledger   *ledger.Engine

	logger *log.Entry
	now    func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService конструирует сервис с зависимостями.
func NewService(
	orders domain.OrderRepository,
	legs domain.PaymentLegRepository,
	timeline domain.TimelineRepository,
	seq domain.Sequences,
	registry *gateway.Registry,
	orch *settlement.Orchestrator,
	pointLedger *ledger.Engine,
	logger *log.Entry,
	options ...Option,
) *Service {
	if logger == nil {
		logger = log.New().WithField("component", "payments")
	}
	s := &Service{
		orders:   orders,
		legs:     legs,
		timeline: timeline,
		seq:      seq,
		registry: registry,
		orch:     orch,
		ledger:   pointLedger,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// LegInput — вклад одного платёжного метода в запросе инициации.
type LegInput struct {
	Method      domain.PaymentMethod
	AmountMinor int64
}

// InitiateRequest — запрос на приём заказа.
type InitiateRequest struct {
	MemberID    string
	AmountMinor int64
	ProductName string
	BuyerName   string
	BuyerEmail  string
	Legs        []LegInput
}

// InitiateResult — принятый заказ, его леги и платёжные формы карточных легов.
type InitiateResult struct {
	Order domain.Order
	Legs  []domain.PaymentLeg
	Forms map[string]domain.InitiateForm // leg ID → форма эквайера
}

// Initiate принимает заказ: создаёт запись received, леги pending и готовит
// параметры платёжной формы для каждого карточного лега. Эквайер карточного
// лега выбирается взвешенным селектором в момент инициации и фиксируется на
// леге до конца жизни заказа.
func (s *Service) Initiate(_ context.Context, req InitiateRequest, actor string) (InitiateResult, error) {
	if err := validateInitiate(req); err != nil {
		return InitiateResult{}, err
	}

	now := s.now()
	orderSeq, err := s.seq.Next(domain.SequenceOrder)
	if err != nil {
		return InitiateResult{}, fmt.Errorf("next order sequence: %w", err)
	}

	order := domain.Order{
		ID:          domain.BusinessID(domain.IDPrefixOrder, orderSeq, now),
		MemberID:    req.MemberID,
		Status:      domain.OrderStatusReceived,
		AmountMinor: req.AmountMinor,
		CreatedBy:   actor,
		UpdatedBy:   actor,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return InitiateResult{}, errs[0]
	}

	legs := make([]domain.PaymentLeg, 0, len(req.Legs))
	forms := make(map[string]domain.InitiateForm)
	for _, input := range req.Legs {
		legSeq, err := s.seq.Next(domain.SequencePayment)
		if err != nil {
			return InitiateResult{}, fmt.Errorf("next payment sequence: %w", err)
		}
		leg := domain.PaymentLeg{
			ID:          domain.BusinessID(domain.IDPrefixPayment, legSeq, now),
			OrderID:     order.ID,
			MemberID:    req.MemberID,
			Method:      input.Method,
			Status:      domain.LegStatusPending,
			AmountMinor: input.AmountMinor,
			CreatedBy:   actor,
			UpdatedBy:   actor,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		if input.Method == domain.PaymentMethodCard {
			adapter, err := s.registry.PickAdapter()
			if err != nil {
				return InitiateResult{}, fmt.Errorf("pick acquirer: %w", err)
			}
			form, err := adapter.Initiate(domain.InitiateRequest{
				OrderRef:    order.ID,
				MemberID:    req.MemberID,
				AmountMinor: input.AmountMinor,
				ProductName: req.ProductName,
				BuyerName:   req.BuyerName,
				BuyerEmail:  req.BuyerEmail,
			})
			if err != nil {
				return InitiateResult{}, fmt.Errorf("initiate %s leg: %w", adapter.Acquirer(), err)
			}
			leg.Acquirer = adapter.Acquirer()
			forms[leg.ID] = form
		}

		legs = append(legs, leg)
	}

	if err := s.orders.Create(order); err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to create order")
		return InitiateResult{}, fmt.Errorf("create order: %w", err)
	}
	for i := range legs {
		if err := s.legs.Create(legs[i]); err != nil {
			s.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"leg_id":   legs[i].ID,
			}).Error("failed to create payment leg")
			return InitiateResult{}, fmt.Errorf("create leg: %w", err)
		}
	}

	s.appendTimeline(order.ID, "OrderReceived", "", now)
	s.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"member_id": order.MemberID,
		"legs":      len(legs),
	}).Info("order received")

	return InitiateResult{Order: order, Legs: legs, Forms: forms}, nil
}

func validateInitiate(req InitiateRequest) error {
	if req.MemberID == "" {
		return domain.ErrMemberRequired
	}
	if req.AmountMinor <= 0 {
		return domain.ErrAmountInvalid
	}
	if len(req.Legs) == 0 {
		return domain.ErrLegsRequired
	}
	var total int64
	for _, leg := range req.Legs {
		if !leg.Method.Valid() {
			return fmt.Errorf("method %s: %w", leg.Method, domain.ErrUnsupportedPaymentMethod)
		}
		if leg.AmountMinor <= 0 {
			return domain.ErrAmountInvalid
		}
		total += leg.AmountMinor
	}
	if total != req.AmountMinor {
		return domain.ErrLegAmountMismatch
	}
	return nil
}

// LegAuth — авторизационные данные карточного лега из браузерного шага.
type LegAuth struct {
	LegID        string
	AuthToken    string
	AuthURL      string
	NetCancelURL string
}

// ConfirmRequest — запрос подтверждения заказа.
type ConfirmRequest struct {
	OrderID string
	Auths   []LegAuth
}

// ConfirmResult — итог расчёта заказа.
type ConfirmResult struct {
	Order domain.Order
	Legs  []domain.PaymentLeg
}

// Confirm сохраняет авторизационные данные карточных легов и запускает расчёт.
// Ошибка расчёта возвращается вызывающему вместе с финальным состоянием заказа.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest, actor string) (ConfirmResult, error) {
	if req.OrderID == "" {
		return ConfirmResult{}, domain.ErrOrderIDRequired
	}
	order, err := s.orders.Get(req.OrderID)
	if err != nil {
		return ConfirmResult{}, err
	}

	for _, auth := range req.Auths {
		if err := s.applyAuth(order, auth, actor); err != nil {
			return ConfirmResult{Order: order}, err
		}
	}

	order, settleErr := s.orch.Settle(ctx, order.ID, actor)

	legs, err := s.legs.ListByOrder(order.ID)
	if err != nil {
		s.logger.WithError(err).WithField("order_id", order.ID).Error("failed to reload legs after settlement")
		if settleErr == nil {
			settleErr = err
		}
	}
	return ConfirmResult{Order: order, Legs: legs}, settleErr
}

// applyAuth переносит авторизационные данные браузерного шага на карточный лег.
func (s *Service) applyAuth(order domain.Order, auth LegAuth, actor string) error {
	if auth.LegID == "" || auth.AuthToken == "" {
		return domain.ErrAuthDataRequired
	}
	leg, err := s.legs.Get(auth.LegID)
	if err != nil {
		return err
	}
	if leg.OrderID != order.ID {
		return fmt.Errorf("leg %s belongs to order %s: %w", leg.ID, leg.OrderID, domain.ErrPaymentLegNotFound)
	}
	if leg.Method != domain.PaymentMethodCard {
		return fmt.Errorf("leg %s is %s: %w", leg.ID, leg.Method, domain.ErrAuthDataRequired)
	}
	if leg.Status != domain.LegStatusPending {
		return fmt.Errorf("leg %s in status %s: %w", leg.ID, leg.Status, domain.ErrOrderAlreadySettled)
	}

	leg.AuthToken = auth.AuthToken
	leg.AuthURL = auth.AuthURL
	leg.NetCancelURL = auth.NetCancelURL
	leg.UpdatedBy = actor
	leg.UpdatedAt = s.now()
	if err := s.legs.Save(leg); err != nil {
		return fmt.Errorf("save leg %s: %w", leg.ID, err)
	}
	return nil
}

// Cancel возвращает amountMinor из рассчитанного заказа. amountMinor <= 0
// означает полный возврат остатка.
func (s *Service) Cancel(ctx context.Context, orderID string, amountMinor int64, reason, actor string) (domain.Order, error) {
	if orderID == "" {
		return domain.Order{}, domain.ErrOrderIDRequired
	}
	return s.orch.Cancel(ctx, orderID, amountMinor, reason, actor)
}

// OrderDetails — заказ вместе с легами и таймлайном.
type OrderDetails struct {
	Order    domain.Order
	Legs     []domain.PaymentLeg
	Timeline []domain.TimelineEvent
}

// GetOrder возвращает заказ, его леги и таймлайн событий.
func (s *Service) GetOrder(orderID string) (OrderDetails, error) {
	if orderID == "" {
		return OrderDetails{}, domain.ErrOrderIDRequired
	}
	order, err := s.orders.Get(orderID)
	if err != nil {
		return OrderDetails{}, err
	}
	legs, err := s.legs.ListByOrder(orderID)
	if err != nil {
		return OrderDetails{}, fmt.Errorf("list legs: %w", err)
	}

	var events []domain.TimelineEvent
	if s.timeline != nil {
		events, err = s.timeline.List(orderID)
		if err != nil {
			s.logger.WithError(err).WithField("order_id", orderID).Warn("failed to list timeline events")
			events = nil
		}
	}

	return OrderDetails{Order: order, Legs: legs, Timeline: events}, nil
}

// ListOrders возвращает заказы участника, не больше limit.
func (s *Service) ListOrders(memberID string, limit int) ([]domain.Order, error) {
	if memberID == "" {
		return nil, domain.ErrMemberRequired
	}
	if limit <= 0 {
		limit = defaultListOrdersLimit
	}
	return s.orders.ListByMember(memberID, limit)
}

// EarnPoints начисляет поинты свежим лотом. Нулевая validity означает
// политику по умолчанию (365 дней).
func (s *Service) EarnPoints(memberID string, amountMinor int64, validity time.Duration, reasonRef string) (string, error) {
	if validity <= 0 {
		validity = defaultEarnValidity
	}
	now := s.now()
	return s.ledger.Earn(memberID, amountMinor, now, now.Add(validity), reasonRef)
}

// PointBalance возвращает текущий доступный остаток участника.
func (s *Service) PointBalance(memberID string) (int64, error) {
	return s.ledger.Balance(memberID)
}

// PointHistory возвращает историю списаний участника.
func (s *Service) PointHistory(memberID string) ([]domain.PointAllocation, error) {
	return s.ledger.History(memberID)
}

// PointStats возвращает агрегаты начислено/списано/возвращено/остаток.
func (s *Service) PointStats(memberID string) (ledger.Statistics, error) {
	return s.ledger.Stats(memberID)
}

func (s *Service) appendTimeline(orderID, eventType, reason string, occurred time.Time) {
	if s.timeline == nil {
		return
	}
	event := domain.TimelineEvent{
		OrderID:  orderID,
		Type:     eventType,
		Reason:   reason,
		Occurred: occurred,
	}
	if err := s.timeline.Append(event); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Warn("failed to append timeline event")
	}
}

// IsNotFound сообщает, является ли ошибка отсутствием сущности.
func IsNotFound(err error) bool {
	return errors.Is(err, domain.ErrOrderNotFound) || errors.Is(err, domain.ErrPaymentLegNotFound)
}
