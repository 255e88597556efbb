package kafka

import "time"

// EventType определяет тип события
type EventType string

const (
	// События расчёта заказа
	EventTypeSettlementStarted         EventType = "settlement.started"
	EventTypeSettlementCompleted       EventType = "settlement.completed"
	EventTypeSettlementFailed          EventType = "settlement.failed"
	EventTypeSettlementNetCancelFailed EventType = "settlement.net_cancel_failed"

	// События заказа
	EventTypeOrderReceived           EventType = "order.received"
	EventTypeOrderCancelled          EventType = "order.cancelled"
	EventTypeOrderPartiallyCancelled EventType = "order.partially_cancelled"

	// События поинтов
	EventTypePointsEarned   EventType = "points.earned"
	EventTypePointsUsed     EventType = "points.used"
	EventTypePointsRefunded EventType = "points.refunded"
)

// Topics для Kafka
const (
	TopicSettlementEvents = "vibepay.settlement.events"
	TopicOrderEvents      = "vibepay.order.events"
	TopicDeadLetterQueue  = "vibepay.dlq" // Dead Letter Queue для failed messages
)

// Kafka headers для retry логики
const (
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// SettlementEvent представляет событие расчёта заказа
type SettlementEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// OrderEvent представляет событие заказа
type OrderEvent struct {
	EventType EventType              `json:"event_type"`
	OrderID   string                 `json:"order_id"`
	MemberID  string                 `json:"member_id"`
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// NewSettlementEvent создает новое событие расчёта
func NewSettlementEvent(eventType EventType, orderID string, metadata map[string]interface{}) *SettlementEvent {
	return &SettlementEvent{
		EventType: eventType,
		OrderID:   orderID,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}

// NewOrderEvent создает новое событие заказа
func NewOrderEvent(eventType EventType, orderID, memberID, status string, metadata map[string]interface{}) *OrderEvent {
	return &OrderEvent{
		EventType: eventType,
		OrderID:   orderID,
		MemberID:  memberID,
		Status:    status,
		Timestamp: time.Now(),
		Metadata:  metadata,
	}
}
