package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// gatewayLogRepositoryInMemory — append-only журнал обменов с эквайерами.
type gatewayLogRepositoryInMemory struct {
	mu    sync.RWMutex
	items []domain.GatewayRequestLog
}

// NewGatewayLogRepository возвращает in-memory журнал запросов к эквайерам.
func NewGatewayLogRepository() domain.GatewayLogRepository {
	return &gatewayLogRepositoryInMemory{}
}

// Insert добавляет запись обмена. Журнал best-effort: ошибок не возвращает.
func (r *gatewayLogRepositoryInMemory) Insert(entry domain.GatewayRequestLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, entry)
	return nil
}

// ListByPaymentRef возвращает обмены по платёжной ссылке в порядке записи.
func (r *gatewayLogRepositoryInMemory) ListByPaymentRef(paymentRef string) ([]domain.GatewayRequestLog, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.GatewayRequestLog, 0, len(r.items))
	for _, entry := range r.items {
		if entry.PaymentRef == paymentRef {
			result = append(result, entry)
		}
	}
	return result, nil
}

var _ domain.GatewayLogRepository = (*gatewayLogRepositoryInMemory)(nil)
