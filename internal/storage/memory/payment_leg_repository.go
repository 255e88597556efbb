package memory

import (
	"sort"
	"sync"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// paymentLegRepositoryInMemory — in-memory реализация PaymentLegRepository.
type paymentLegRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.PaymentLeg
}

// NewPaymentLegRepository возвращает in-memory репозиторий платёжных легов.
func NewPaymentLegRepository() domain.PaymentLegRepository {
	return &paymentLegRepositoryInMemory{
		items: make(map[string]domain.PaymentLeg),
	}
}

// Create сохраняет новый лег, если ID ещё не занят.
func (r *paymentLegRepositoryInMemory) Create(leg domain.PaymentLeg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[leg.ID]; exists {
		return domain.ErrVersionConflict
	}
	r.items[leg.ID] = leg
	return nil
}

// Get возвращает лег или ErrPaymentLegNotFound.
func (r *paymentLegRepositoryInMemory) Get(id string) (domain.PaymentLeg, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	leg, ok := r.items[id]
	if !ok {
		return domain.PaymentLeg{}, domain.ErrPaymentLegNotFound
	}
	return leg, nil
}

// ListByOrder возвращает леги заказа в порядке создания.
func (r *paymentLegRepositoryInMemory) ListByOrder(orderID string) ([]domain.PaymentLeg, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.PaymentLeg, 0, 2)
	for _, leg := range r.items {
		if leg.OrderID != orderID {
			continue
		}
		result = append(result, leg)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return result, nil
}

// Save перезаписывает лег, проверяя версию.
func (r *paymentLegRepositoryInMemory) Save(leg domain.PaymentLeg) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[leg.ID]
	if !ok {
		return domain.ErrPaymentLegNotFound
	}
	if current.Version != leg.Version {
		return domain.ErrVersionConflict
	}
	leg.Version++
	r.items[leg.ID] = leg
	return nil
}

var _ domain.PaymentLegRepository = (*paymentLegRepositoryInMemory)(nil)
