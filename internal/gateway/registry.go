package gateway

import (
	"fmt"
	"sort"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// Коды поддерживаемых эквайеров.
const (
	AcquirerInicis  = "INICIS"
	AcquirerNicepay = "NICEPAY"
	AcquirerToss    = "TOSS"
)

// Registry — таблица адаптеров по коду эквайера, собранная на старте.
// После сборки только читается, поэтому синхронизация не нужна.
type Registry struct {
	adapters map[string]domain.GatewayAdapter
	selector *Selector
}

// NewRegistry строит реестр. Каждый вес конфигурации обязан ссылаться на
// зарегистрированный адаптер.
func NewRegistry(adapters []domain.GatewayAdapter, selector *Selector) (*Registry, error) {
	r := &Registry{
		adapters: make(map[string]domain.GatewayAdapter, len(adapters)),
		selector: selector,
	}
	for _, adapter := range adapters {
		code := adapter.Acquirer()
		if _, exists := r.adapters[code]; exists {
			return nil, fmt.Errorf("duplicate gateway adapter: %s", code)
		}
		r.adapters[code] = adapter
	}

	if selector != nil {
		for _, w := range selector.weights {
			if _, ok := r.adapters[w.Acquirer]; !ok {
				return nil, fmt.Errorf("weight for unregistered acquirer %s: %w", w.Acquirer, domain.ErrUnknownAcquirer)
			}
		}
	}

	return r, nil
}

// Adapter возвращает адаптер по коду эквайера.
func (r *Registry) Adapter(acquirer string) (domain.GatewayAdapter, error) {
	adapter, ok := r.adapters[acquirer]
	if !ok {
		return nil, fmt.Errorf("acquirer %s: %w", acquirer, domain.ErrUnknownAcquirer)
	}
	return adapter, nil
}

// OpenBreakers возвращает эквайеров, у которых открыт circuit breaker.
// Адаптеры без breaker'а (mock) считаются доступными.
func (r *Registry) OpenBreakers() []string {
	var open []string
	for code, adapter := range r.adapters {
		guarded, ok := adapter.(interface{ BreakerOpen() bool })
		if ok && guarded.BreakerOpen() {
			open = append(open, code)
		}
	}
	sort.Strings(open)
	return open
}

// PickAdapter выбирает эквайера взвешенным случайным образом и возвращает его
// адаптер.
func (r *Registry) PickAdapter() (domain.GatewayAdapter, error) {
	if r.selector == nil {
		return nil, domain.ErrZeroTotalWeight
	}
	return r.Adapter(r.selector.Pick())
}
