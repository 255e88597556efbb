package processor

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
	"github.com/vladislavdragonenkov/vibepay/internal/gateway"
)

// CardProcessor проводит карточные леги через адаптеры эквайеров.
type CardProcessor struct {
	registry *gateway.Registry
	logger   *log.Entry
}

// NewCardProcessor создаёт процессор карточных легов.
func NewCardProcessor(registry *gateway.Registry, logger *log.Entry) *CardProcessor {
	if logger == nil {
		logger = log.New().WithField("component", "card-processor")
	}
	return &CardProcessor{registry: registry, logger: logger}
}

// Method возвращает обслуживаемый метод.
func (p *CardProcessor) Method() domain.PaymentMethod {
	return domain.PaymentMethodCard
}

// Process подтверждает авторизацию у эквайера лега. Эквайер выбран на
// initiate-шаге и записан на леге вместе с auth-токеном.
func (p *CardProcessor) Process(ctx context.Context, order domain.Order, leg *domain.PaymentLeg) error {
	adapter, err := p.registry.Adapter(leg.Acquirer)
	if err != nil {
		return err
	}

	result, err := adapter.Approve(ctx, domain.ApproveRequest{
		OrderRef:     order.ID,
		MemberID:     order.MemberID,
		AmountMinor:  leg.AmountMinor,
		AuthToken:    leg.AuthToken,
		AuthURL:      leg.AuthURL,
		NetCancelURL: leg.NetCancelURL,
		PaymentRef:   leg.ID,
	})
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"leg_id":   leg.ID,
			"acquirer": leg.Acquirer,
		}).Warn("card approve failed")
		return err
	}

	leg.Status = domain.LegStatusApproved
	leg.TransactionID = result.TransactionID
	leg.ApprovalNo = result.ApprovalNo
	leg.CancelableMinor = leg.AmountMinor
	return nil
}

// Compensate аннулирует подтверждённый лег через net-cancel. Неуспех
// оставляет лег в net_cancel_failed для ручной сверки.
func (p *CardProcessor) Compensate(ctx context.Context, order domain.Order, leg *domain.PaymentLeg) error {
	adapter, err := p.registry.Adapter(leg.Acquirer)
	if err != nil {
		return err
	}

	err = adapter.NetCancel(ctx, domain.NetCancelRequest{
		OrderRef:     order.ID,
		AuthToken:    leg.AuthToken,
		NetCancelURL: leg.NetCancelURL,
	})
	if err != nil {
		leg.Status = domain.LegStatusNetCancelFailed
		p.logger.WithError(err).WithFields(log.Fields{
			"order_id": order.ID,
			"leg_id":   leg.ID,
			"acquirer": leg.Acquirer,
		}).Error("net cancel failed, leg requires manual reconciliation")
		return fmt.Errorf("leg %s: %w", leg.ID, domain.ErrNetCancelFailed)
	}

	leg.Status = domain.LegStatusNetCancelled
	leg.CancelableMinor = 0
	return nil
}

// Cancel возвращает часть суммы лега через refund API эквайера.
func (p *CardProcessor) Cancel(ctx context.Context, order domain.Order, leg *domain.PaymentLeg, amountMinor int64, reason string) error {
	adapter, err := p.registry.Adapter(leg.Acquirer)
	if err != nil {
		return err
	}

	result, err := adapter.Cancel(ctx, leg.TransactionID, amountMinor, reason)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"order_id":     order.ID,
			"leg_id":       leg.ID,
			"amount_minor": amountMinor,
		}).Warn("card cancel failed")
		return err
	}
	if result.CancelledMinor != amountMinor {
		return fmt.Errorf("%w: requested %d, acquirer cancelled %d",
			domain.ErrGatewayCancelFailed, amountMinor, result.CancelledMinor)
	}
	return nil
}

var _ Processor = (*CardProcessor)(nil)
