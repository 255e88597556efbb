package gateway

import (
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// recordExchange пишет один HTTP-обмен с эквайером в журнал. Журнал
// вспомогательный: его ошибка не должна ронять платёжный вызов.
func recordExchange(logs domain.GatewayLogRepository, logger *log.Entry, now time.Time, acquirer, paymentRef, kind, request, response string) {
	if logs == nil {
		return
	}

	entry := domain.GatewayRequestLog{
		ID:           uuid.NewString(),
		PaymentRef:   paymentRef,
		Acquirer:     acquirer,
		Kind:         kind,
		RequestBody:  request,
		ResponseBody: response,
		CreatedAt:    now,
	}
	if err := logs.Insert(entry); err != nil && logger != nil {
		logger.WithFields(log.Fields{
			"acquirer":    acquirer,
			"payment_ref": paymentRef,
			"kind":        kind,
			"error":       err,
		}).Warn("Failed to record gateway exchange")
	}
}
