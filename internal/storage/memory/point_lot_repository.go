package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// pointLotRepositoryInMemory — in-memory реализация PointLotRepository.
// Порядок создания запоминается явно, чтобы ListUsable давал стабильный
// tie-break при равных EndAt.
type pointLotRepositoryInMemory struct {
	mu    sync.RWMutex
	items map[string]domain.PointLot
	order map[string]int
	next  int
}

// NewPointLotRepository возвращает in-memory репозиторий поинтовых лотов.
func NewPointLotRepository() domain.PointLotRepository {
	return &pointLotRepositoryInMemory{
		items: make(map[string]domain.PointLot),
		order: make(map[string]int),
	}
}

// Create сохраняет новый лот, если ID ещё не занят.
func (r *pointLotRepositoryInMemory) Create(lot domain.PointLot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.items[lot.ID]; exists {
		return domain.ErrVersionConflict
	}
	r.items[lot.ID] = lot
	r.order[lot.ID] = r.next
	r.next++
	return nil
}

// Get возвращает лот или ErrPointLotNotFound.
func (r *pointLotRepositoryInMemory) Get(id string) (domain.PointLot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lot, ok := r.items[id]
	if !ok {
		return domain.PointLot{}, domain.ErrPointLotNotFound
	}
	return lot, nil
}

// ListUsable возвращает лоты участника с ненулевым остатком в окне действия,
// по возрастанию EndAt; при равных EndAt — по порядку создания.
func (r *pointLotRepositoryInMemory) ListUsable(memberID string, now time.Time) ([]domain.PointLot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.PointLot, 0, len(r.items))
	for _, lot := range r.items {
		if lot.MemberID != memberID || !lot.Usable(now) {
			continue
		}
		result = append(result, lot)
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].EndAt.Equal(result[j].EndAt) {
			return result[i].EndAt.Before(result[j].EndAt)
		}
		return r.order[result[i].ID] < r.order[result[j].ID]
	})

	return result, nil
}

// ListByMember возвращает все лоты участника, включая исчерпанные и истёкшие.
func (r *pointLotRepositoryInMemory) ListByMember(memberID string) ([]domain.PointLot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]domain.PointLot, 0, len(r.items))
	for _, lot := range r.items {
		if lot.MemberID != memberID {
			continue
		}
		result = append(result, lot)
	}

	sort.Slice(result, func(i, j int) bool {
		return r.order[result[i].ID] < r.order[result[j].ID]
	})

	return result, nil
}

// Save перезаписывает лот, проверяя версию.
func (r *pointLotRepositoryInMemory) Save(lot domain.PointLot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.items[lot.ID]
	if !ok {
		return domain.ErrPointLotNotFound
	}
	if current.Version != lot.Version {
		return domain.ErrVersionConflict
	}
	lot.Version++
	r.items[lot.ID] = lot
	return nil
}

var _ domain.PointLotRepository = (*pointLotRepositoryInMemory)(nil)
