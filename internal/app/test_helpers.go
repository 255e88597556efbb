package app

import (
	"time"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// newTestOrder создаёт тестовый заказ для использования в тестах.
func newTestOrder() domain.Order {
	now := time.Now().UTC()
	return domain.Order{
		ID:          "20250918O00000001",
		MemberID:    "test-member-1",
		Status:      domain.OrderStatusReceived,
		AmountMinor: 10000,
		Version:     0,
		CreatedBy:   "api",
		UpdatedBy:   "api",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
