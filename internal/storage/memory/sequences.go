package memory

import (
	"sync"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// sequencesInMemory выдаёт монотонные номера по именованным счётчикам.
type sequencesInMemory struct {
	mu       sync.Mutex
	counters map[string]int64
}

// NewSequences возвращает in-memory источник бизнес-номеров.
func NewSequences() domain.Sequences {
	return &sequencesInMemory{
		counters: make(map[string]int64),
	}
}

// Next возвращает следующий номер для счётчика kind, начиная с 1.
func (s *sequencesInMemory) Next(kind string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters[kind]++
	return s.counters[kind], nil
}

var _ domain.Sequences = (*sequencesInMemory)(nil)
