package processor

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// PointProcessor проводит поинтовые леги через леджер. Внешних вызовов нет:
// и списание, и возврат локальны и атомарны на уровне участника.
type PointProcessor struct {
	ledger domain.PointLedger
	logger *log.Entry
}

// NewPointProcessor создаёт процессор поинтовых легов.
func NewPointProcessor(ledger domain.PointLedger, logger *log.Entry) *PointProcessor {
	if logger == nil {
		logger = log.New().WithField("component", "point-processor")
	}
	return &PointProcessor{ledger: ledger, logger: logger}
}

// Method возвращает обслуживаемый метод.
func (p *PointProcessor) Method() domain.PaymentMethod {
	return domain.PaymentMethodPoint
}

// Process списывает поинты участника. При нехватке остатка леджер не
// оставляет частичных эффектов, поэтому откатывать здесь нечего.
func (p *PointProcessor) Process(ctx context.Context, order domain.Order, leg *domain.PaymentLeg) error {
	allocations, err := p.ledger.Use(order.MemberID, leg.AmountMinor, order.ID)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"order_id":     order.ID,
			"leg_id":       leg.ID,
			"amount_minor": leg.AmountMinor,
		}).Warn("point use failed")
		return err
	}

	p.logger.WithFields(log.Fields{
		"order_id":  order.ID,
		"leg_id":    leg.ID,
		"lots_used": len(allocations),
	}).Info("points charged")

	leg.Status = domain.LegStatusApproved
	leg.CancelableMinor = leg.AmountMinor
	return nil
}

// Compensate возвращает списанные поинты свежим лотом.
func (p *PointProcessor) Compensate(ctx context.Context, order domain.Order, leg *domain.PaymentLeg) error {
	if _, err := p.ledger.Refund(order.MemberID, leg.AmountMinor, order.ID); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"leg_id":   leg.ID,
		}).Error("point refund during compensation failed")
		return err
	}

	leg.Status = domain.LegStatusCancelled
	leg.CancelableMinor = 0
	return nil
}

// Cancel возвращает часть рассчитанной суммы лега свежим лотом.
func (p *PointProcessor) Cancel(ctx context.Context, order domain.Order, leg *domain.PaymentLeg, amountMinor int64, reason string) error {
	if _, err := p.ledger.Refund(order.MemberID, amountMinor, order.ID); err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"order_id":     order.ID,
			"leg_id":       leg.ID,
			"amount_minor": amountMinor,
		}).Warn("point refund failed")
		return err
	}
	return nil
}

var _ Processor = (*PointProcessor)(nil)
