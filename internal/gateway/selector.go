package gateway

import (
	"math/rand"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// Weight — доля трафика одного эквайера.
type Weight struct {
	Acquirer string
	Value    int
}

// Selector выбирает эквайера взвешенным случайным образом. Порядок записей
// конфигурации сохраняется: при детерминированном источнике случайности выбор
// воспроизводим.
type Selector struct {
	weights []Weight
	total   int
	intn    func(n int) int
	logger  *log.Entry
}

// SelectorOption настраивает Selector.
type SelectorOption func(*Selector)

// WithRandSource подменяет источник случайности (для тестов). Источник
// должен быть безопасен для конкурентных вызовов.
func WithRandSource(intn func(n int) int) SelectorOption {
	return func(s *Selector) {
		if intn != nil {
			s.intn = intn
		}
	}
}

// NewSelector строит селектор по конфигурации весов. Записи с нулевым или
// отрицательным весом исключаются из выбора.
func NewSelector(weights []Weight, logger *log.Entry, options ...SelectorOption) (*Selector, error) {
	if logger == nil {
		logger = log.New().WithField("component", "gateway-selector")
	}

	// Pick вызывается из параллельных запросов, поэтому по умолчанию берём
	// глобальный источник: он защищён внутренней блокировкой, в отличие от
	// отдельного *rand.Rand.
	s := &Selector{
		logger: logger,
		intn:   rand.Intn,
	}
	for _, w := range weights {
		if w.Value <= 0 {
			continue
		}
		s.weights = append(s.weights, w)
		s.total += w.Value
	}
	for _, option := range options {
		option(s)
	}

	if s.total == 0 {
		return nil, domain.ErrZeroTotalWeight
	}
	return s, nil
}

// Pick возвращает код эквайера пропорционально весам.
func (s *Selector) Pick() string {
	roll := s.intn(s.total)
	for _, w := range s.weights {
		roll -= w.Value
		if roll < 0 {
			return w.Acquirer
		}
	}
	// Достижимо только если intn вернул значение вне [0, total).
	return s.weights[len(s.weights)-1].Acquirer
}
