package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// pointAllocationRepositoryInMemory — append-only in-memory журнал списаний.
type pointAllocationRepositoryInMemory struct {
	mu    sync.RWMutex
	items []domain.PointAllocation
}

// NewPointAllocationRepository возвращает in-memory репозиторий списаний поинтов.
func NewPointAllocationRepository() domain.PointAllocationRepository {
	return &pointAllocationRepositoryInMemory{}
}

// Create добавляет запись списания.
func (r *pointAllocationRepositoryInMemory) Create(alloc domain.PointAllocation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.items = append(r.items, alloc)
	return nil
}

// ListByMember возвращает списания участника в порядке создания.
func (r *pointAllocationRepositoryInMemory) ListByMember(memberID string) ([]domain.PointAllocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.PointAllocation, 0, len(r.items))
	for _, alloc := range r.items {
		if alloc.MemberID == memberID {
			result = append(result, alloc)
		}
	}
	return result, nil
}

// ListByReference возвращает списания, привязанные к заказу/легу.
func (r *pointAllocationRepositoryInMemory) ListByReference(reasonRef string) ([]domain.PointAllocation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.PointAllocation, 0, len(r.items))
	for _, alloc := range r.items {
		if alloc.ReasonRef == reasonRef {
			result = append(result, alloc)
		}
	}
	return result, nil
}

var _ domain.PointAllocationRepository = (*pointAllocationRepositoryInMemory)(nil)
