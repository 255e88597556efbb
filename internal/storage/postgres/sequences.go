package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// Нативные последовательности создаются миграциями, по одной на вид
// бизнес-идентификатора.
var sequenceNames = map[string]string{
	domain.SequenceOrder:      "seq_business_order",
	domain.SequencePayment:    "seq_business_payment",
	domain.SequenceLot:        "seq_business_point_lot",
	domain.SequenceAllocation: "seq_business_point_allocation",
}

type sequences struct {
	db *sql.DB
}

// NewSequences создаёт генератор номеров поверх PostgreSQL sequence-объектов.
func NewSequences(store *Store) domain.Sequences {
	return &sequences{db: store.DB()}
}

func (s *sequences) Next(kind string) (int64, error) {
	name, ok := sequenceNames[kind]
	if !ok {
		return 0, fmt.Errorf("unknown sequence kind %q", kind)
	}

	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	var next int64
	if err := s.db.QueryRowContext(ctx, `SELECT nextval($1)`, name).Scan(&next); err != nil {
		return 0, fmt.Errorf("nextval %s: %w", name, err)
	}

	return next, nil
}

var _ domain.Sequences = (*sequences)(nil)
