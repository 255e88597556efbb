package settlement

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
	"github.com/vladislavdragonenkov/vibepay/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/vibepay/internal/metrics"
	"github.com/vladislavdragonenkov/vibepay/internal/service/processor"
)

// Orchestrator проводит расчёт заказа по легам и отменяет рассчитанные
// заказы. Эквайер не знает транзакций, поэтому единственный способ удержать
// согласованность — компенсация: успевшие пройти леги откатываются в
// обратном порядке.
type Orchestrator struct {
	orders     domain.OrderRepository
	legs       domain.PaymentLegRepository
	dispatcher *processor.Dispatcher
	outbox     domain.OutboxRepository
	timeline   domain.TimelineRepository

	logger        *log.Entry
	metrics       *metrics.SettlementMetrics
	kafkaProducer *kafka.Producer // опциональный Kafka producer для event-driven архитектуры
	now           func() time.Time
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithKafkaProducer включает публикацию событий расчёта в Kafka.
func WithKafkaProducer(producer *kafka.Producer) Option {
	return func(o *Orchestrator) {
		o.kafkaProducer = producer
	}
}

// WithMetrics подключает метрики. По умолчанию метрики выключены, чтобы
// тесты не регистрировали коллекторы в глобальном реестре.
func WithMetrics(m *metrics.SettlementMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithClock подменяет источник времени (для тестов).
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator создаёт рабочий экземпляр оркестратора.
func NewOrchestrator(
	orders domain.OrderRepository,
	legs domain.PaymentLegRepository,
	dispatcher *processor.Dispatcher,
	outbox domain.OutboxRepository,
	timeline domain.TimelineRepository,
	logger *log.Entry,
	options ...Option,
) *Orchestrator {
	if logger == nil {
		logger = log.New().WithField("component", "settlement")
	}
	o := &Orchestrator{
		orders:     orders,
		legs:       legs,
		dispatcher: dispatcher,
		outbox:     outbox,
		timeline:   timeline,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, option := range options {
		option(o)
	}
	return o
}

// Settle проводит все леги заказа. При провале любого лега успевшие пройти
// леги компенсируются в обратном порядке, заказ переходит в failed, а
// исходная ошибка возвращается вызывающему.
func (o *Orchestrator) Settle(ctx context.Context, orderID, actor string) (domain.Order, error) {
	start := o.now()
	if o.metrics != nil {
		o.metrics.RecordSettlementStarted()
	}

	order, err := o.orders.Get(orderID)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Warn("order not found for settlement")
		if o.metrics != nil {
			o.metrics.RecordSettlementFailed()
		}
		return domain.Order{}, err
	}

	switch order.Status {
	case domain.OrderStatusReceived:
		// рабочий путь
	case domain.OrderStatusCompleted:
		return order, domain.ErrOrderAlreadySettled
	default:
		return order, fmt.Errorf("order %s in status %s: %w", order.ID, order.Status, domain.ErrOrderNotCancelable)
	}

	legs, err := o.legs.ListByOrder(order.ID)
	if err != nil {
		if o.metrics != nil {
			o.metrics.RecordSettlementFailed()
		}
		return order, fmt.Errorf("list legs: %w", err)
	}
	if err := o.checkLegs(order, legs); err != nil {
		if o.metrics != nil {
			o.metrics.RecordSettlementFailed()
		}
		return order, err
	}

	o.publishSettlementEvent(kafka.EventTypeSettlementStarted, order.ID, map[string]interface{}{
		"member_id":  order.MemberID,
		"legs_count": len(legs),
	})

	if err := o.updateStatus(&order, domain.OrderStatusSettling, actor); err != nil {
		if o.metrics != nil {
			o.metrics.RecordSettlementFailed()
		}
		return order, err
	}

	approved := make([]int, 0, len(legs))
	for i := range legs {
		leg := &legs[i]
		if leg.Status != domain.LegStatusPending {
			continue
		}

		stepStart := o.now()
		err := o.processLeg(ctx, order, leg, actor)
		if o.metrics != nil {
			o.metrics.RecordStepDuration(string(domain.SettlementStepApprove), o.now().Sub(stepStart))
		}
		if err != nil {
			o.unwind(ctx, order, legs, approved, actor)
			o.failOrder(&order, actor, err)
			if o.metrics != nil {
				o.metrics.RecordSettlementDuration(o.now().Sub(start))
			}
			return order, err
		}
		approved = append(approved, i)
	}

	if err := o.updateStatus(&order, domain.OrderStatusCompleted, actor); err != nil {
		if o.metrics != nil {
			o.metrics.RecordSettlementFailed()
		}
		return order, err
	}

	o.logger.WithField("order_id", order.ID).Info("settlement completed")
	if o.metrics != nil {
		o.metrics.RecordSettlementCompleted()
		o.metrics.RecordSettlementDuration(o.now().Sub(start))
	}
	o.publishSettlementEvent(kafka.EventTypeSettlementCompleted, order.ID, map[string]interface{}{
		"member_id":    order.MemberID,
		"amount_minor": order.AmountMinor,
	})
	return order, nil
}

// checkLegs валидирует набор легов перед расчётом: леги есть, их суммы дают
// ровно сумму заказа.
func (o *Orchestrator) checkLegs(order domain.Order, legs []domain.PaymentLeg) error {
	if len(legs) == 0 {
		return domain.ErrLegsRequired
	}
	var total int64
	for i := range legs {
		if errs := legs[i].Validate(); len(errs) != 0 {
			return fmt.Errorf("leg %s: %w", legs[i].ID, errs[0])
		}
		total += legs[i].AmountMinor
	}
	if total != order.AmountMinor {
		return fmt.Errorf("order %s: legs total %d, order amount %d: %w",
			order.ID, total, order.AmountMinor, domain.ErrLegAmountMismatch)
	}
	return nil
}

// processLeg подтверждает один лег и персистит результат.
func (o *Orchestrator) processLeg(ctx context.Context, order domain.Order, leg *domain.PaymentLeg, actor string) error {
	proc, err := o.dispatcher.Processor(leg.Method)
	if err != nil {
		return err
	}
	if err := proc.Process(ctx, order, leg); err != nil {
		return err
	}
	if err := o.saveLeg(leg, actor); err != nil {
		return err
	}
	return nil
}

// unwind компенсирует успевшие пройти леги в обратном порядке. Ошибка
// компенсации не останавливает откат остальных легов: каждый лег фиксирует
// свой исход самостоятельно.
func (o *Orchestrator) unwind(ctx context.Context, order domain.Order, legs []domain.PaymentLeg, approved []int, actor string) {
	for i := len(approved) - 1; i >= 0; i-- {
		leg := &legs[approved[i]]

		proc, err := o.dispatcher.Processor(leg.Method)
		if err != nil {
			o.logger.WithError(err).WithField("leg_id", leg.ID).Error("no processor for compensation")
			continue
		}

		stepStart := o.now()
		compErr := proc.Compensate(ctx, order, leg)
		if o.metrics != nil {
			o.metrics.RecordStepDuration(string(domain.SettlementStepNetCancel), o.now().Sub(stepStart))
		}
		if compErr != nil {
			if o.metrics != nil {
				o.metrics.RecordNetCancelFailed()
			}
			o.emitEvent(order.ID, "LegNetCancelFailed", map[string]interface{}{
				"leg_id": leg.ID,
				"reason": compErr.Error(),
				"ts":     o.now().Format(time.RFC3339Nano),
			})
			o.publishSettlementEvent(kafka.EventTypeSettlementNetCancelFailed, order.ID, map[string]interface{}{
				"leg_id":   leg.ID,
				"acquirer": leg.Acquirer,
				"reason":   compErr.Error(),
			})
		}

		if err := o.saveLeg(leg, actor); err != nil {
			o.logger.WithError(err).WithField("leg_id", leg.ID).Error("persist compensated leg failed")
		}
	}
}

// Cancel возвращает amountMinor из рассчитанной суммы заказа, распределяя
// запрос по легам в порядке их создания. amountMinor <= 0 означает полный
// возврат остатка.
func (o *Orchestrator) Cancel(ctx context.Context, orderID string, amountMinor int64, reason, actor string) (domain.Order, error) {
	order, err := o.orders.Get(orderID)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", orderID).Warn("order not found for cancel")
		return domain.Order{}, err
	}
	if !order.Cancelable() {
		return order, fmt.Errorf("order %s in status %s: %w", order.ID, order.Status, domain.ErrOrderNotCancelable)
	}

	legs, err := o.legs.ListByOrder(order.ID)
	if err != nil {
		return order, fmt.Errorf("list legs: %w", err)
	}

	var cancelable int64
	for i := range legs {
		cancelable += legs[i].CancelableMinor
	}
	if amountMinor <= 0 {
		amountMinor = cancelable
	}
	if amountMinor > cancelable {
		return order, fmt.Errorf("order %s: requested %d, cancelable %d: %w",
			order.ID, amountMinor, cancelable, domain.ErrOverCancellation)
	}
	if amountMinor == 0 {
		return order, domain.ErrAmountInvalid
	}

	var cancelled int64
	remaining := amountMinor
	for i := range legs {
		if remaining == 0 {
			break
		}
		leg := &legs[i]
		if leg.CancelableMinor == 0 {
			continue
		}

		portion := leg.CancelableMinor
		if portion > remaining {
			portion = remaining
		}

		proc, err := o.dispatcher.Processor(leg.Method)
		if err != nil {
			return o.finishCancel(order, cancelled, actor, err)
		}

		stepStart := o.now()
		cancelErr := proc.Cancel(ctx, order, leg, portion, reason)
		if o.metrics != nil {
			o.metrics.RecordStepDuration(string(domain.SettlementStepCancel), o.now().Sub(stepStart))
		}
		if cancelErr != nil {
			o.logger.WithError(cancelErr).WithFields(log.Fields{
				"order_id":     order.ID,
				"leg_id":       leg.ID,
				"amount_minor": portion,
			}).Warn("leg cancel failed")
			return o.finishCancel(order, cancelled, actor, cancelErr)
		}

		// Cancelable уменьшается только после подтверждённого возврата.
		if err := leg.ApplyCancel(portion); err != nil {
			return o.finishCancel(order, cancelled, actor, err)
		}
		if err := o.saveLeg(leg, actor); err != nil {
			return o.finishCancel(order, cancelled, actor, err)
		}

		cancelled += portion
		remaining -= portion
	}

	return o.finishCancel(order, cancelled, actor, nil)
}

// finishCancel доводит статус заказа до согласованного с остатками легов и
// эмитит события. При частичном успехе возврата исходная ошибка сохраняется.
func (o *Orchestrator) finishCancel(order domain.Order, cancelled int64, actor string, cause error) (domain.Order, error) {
	if cancelled == 0 {
		return order, cause
	}

	legs, err := o.legs.ListByOrder(order.ID)
	if err != nil {
		o.logger.WithError(err).WithField("order_id", order.ID).Error("reload legs after cancel failed")
		return order, cause
	}

	var remaining int64
	for i := range legs {
		remaining += legs[i].CancelableMinor
	}

	newStatus := domain.OrderStatusPartiallyCancelled
	eventType := kafka.EventTypeOrderPartiallyCancelled
	if remaining == 0 {
		newStatus = domain.OrderStatusCancelled
		eventType = kafka.EventTypeOrderCancelled
	}

	if err := o.updateStatus(&order, newStatus, actor); err != nil {
		if cause == nil {
			cause = err
		}
		return order, cause
	}
	if o.metrics != nil {
		o.metrics.RecordOrderCancelled()
	}

	o.emitEvent(order.ID, "OrderCancelApplied", map[string]interface{}{
		"cancelled_minor": cancelled,
		"remaining_minor": remaining,
		"ts":              o.now().Format(time.RFC3339Nano),
	})
	o.publishSettlementEvent(eventType, order.ID, map[string]interface{}{
		"member_id":       order.MemberID,
		"cancelled_minor": cancelled,
		"remaining_minor": remaining,
	})

	return order, cause
}

func (o *Orchestrator) failOrder(order *domain.Order, actor string, rootErr error) {
	if o.metrics != nil {
		o.metrics.RecordSettlementFailed()
	}
	if err := o.updateStatus(order, domain.OrderStatusFailed, actor); err != nil {
		return
	}

	o.emitEvent(order.ID, "OrderSettlementFailed", map[string]interface{}{
		"reason": rootErr.Error(),
		"ts":     o.now().Format(time.RFC3339Nano),
	})
	o.publishSettlementEvent(kafka.EventTypeSettlementFailed, order.ID, map[string]interface{}{
		"reason":    rootErr.Error(),
		"member_id": order.MemberID,
	})
}

// saveLeg персистит лег с повтором при конфликте версий.
func (o *Orchestrator) saveLeg(leg *domain.PaymentLeg, actor string) error {
	const maxRetries = 3

	leg.UpdatedBy = actor
	leg.UpdatedAt = o.now()

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := o.legs.Save(*leg)
		if err == nil {
			leg.Version++
			return nil
		}
		if !domain.IsVersionConflict(err) || attempt == maxRetries-1 {
			return fmt.Errorf("save leg %s: %w", leg.ID, err)
		}

		fresh, loadErr := o.legs.Get(leg.ID)
		if loadErr != nil {
			return fmt.Errorf("reload leg %s: %w", leg.ID, loadErr)
		}
		// Состояние лега принадлежит этому вызову; с диска берём только версию.
		leg.Version = fresh.Version
	}
	return domain.ErrVersionConflict
}

// updateStatus меняет статус заказа и эмитит событие в timeline.
// Реализует retry логику с exponential backoff для обработки version conflicts.
func (o *Orchestrator) updateStatus(order *domain.Order, newStatus domain.OrderStatus, actor string) error {
	if order.Status == newStatus {
		return nil
	}

	const maxRetries = 3
	const baseDelay = 10 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		previousStatus := order.Status
		order.Status = newStatus
		order.UpdatedBy = actor
		order.UpdatedAt = o.now()
		prevVersion := order.Version

		if err := o.orders.Save(*order); err != nil {
			if domain.IsVersionConflict(err) && attempt < maxRetries-1 {
				o.logger.WithFields(log.Fields{
					"order_id": order.ID,
					"attempt":  attempt + 1,
					"version":  order.Version,
				}).Warn("version conflict detected, retrying")

				fresh, loadErr := o.orders.Get(order.ID)
				if loadErr != nil {
					o.logger.WithError(loadErr).WithField("order_id", order.ID).Error("failed to reload order after conflict")
					return loadErr
				}
				*order = fresh

				delay := baseDelay * time.Duration(1<<uint(attempt))
				time.Sleep(delay)
				continue
			}

			order.Status = previousStatus
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": order.ID,
				"attempt":  attempt + 1,
			}).Error("failed to persist status")
			return err
		}

		order.Version = prevVersion + 1
		o.emitEvent(order.ID, "OrderStatusChanged", map[string]interface{}{
			"status":     string(order.Status),
			"updated_at": order.UpdatedAt.Format(time.RFC3339Nano),
			"ts":         order.UpdatedAt.Format(time.RFC3339Nano),
		})
		return nil
	}

	return domain.ErrVersionConflict
}

func (o *Orchestrator) emitEvent(orderID, eventType string, payload map[string]interface{}) {
	if payload == nil {
		payload = make(map[string]interface{})
	}
	payload["order_id"] = orderID
	data, err := json.Marshal(payload)
	if err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("marshal event failed")
		return
	}

	msg := domain.OutboxMessage{
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     eventType,
		Payload:       data,
	}
	if _, err := o.outbox.Enqueue(msg); err != nil {
		o.logger.WithError(err).WithFields(log.Fields{
			"order_id": orderID,
			"event":    eventType,
		}).Error("enqueue event failed")
	} else if o.metrics != nil {
		o.metrics.RecordOutboxEvent()
	}

	if o.timeline != nil {
		var reason string
		if r, ok := payload["reason"].(string); ok {
			reason = r
		}
		occurred := o.now()
		if ts, ok := payload["ts"].(string); ok {
			if parsed, parseErr := time.Parse(time.RFC3339Nano, ts); parseErr == nil {
				occurred = parsed
			}
		}
		event := domain.TimelineEvent{
			OrderID:  orderID,
			Type:     eventType,
			Reason:   reason,
			Occurred: occurred,
		}
		if err := o.timeline.Append(event); err != nil {
			o.logger.WithError(err).WithFields(log.Fields{
				"order_id": orderID,
				"event":    eventType,
			}).Warn("append timeline event failed")
		} else if o.metrics != nil {
			o.metrics.RecordTimelineEvent()
		}
	}
}

// publishSettlementEvent публикует событие расчёта в Kafka (если producer настроен)
func (o *Orchestrator) publishSettlementEvent(eventType kafka.EventType, orderID string, metadata map[string]interface{}) {
	if o.kafkaProducer == nil {
		return // Kafka не настроен, пропускаем
	}

	if err := o.kafkaProducer.PublishSettlementEvent(eventType, orderID, metadata); err != nil {
		// Логируем ошибку, но не прерываем расчёт - Kafka опциональный
		o.logger.WithError(err).WithFields(log.Fields{
			"event_type": eventType,
			"order_id":   orderID,
		}).Warn("failed to publish settlement event to kafka")
	}
}
