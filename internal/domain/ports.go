package domain

import "time"

// PointLedger описывает поинтовый движок, которым оркестратор пользуется,
// но который мутирует лоты и списания сам.
type PointLedger interface {
	// Earn создаёт новый лот с remaining = amount и возвращает его идентификатор.
	Earn(memberID string, amountMinor int64, startAt, endAt time.Time, reasonRef string) (string, error)
	// Use списывает amount по лотам в порядке возрастания срока годности.
	// При нехватке остатка возвращает ErrInsufficientBalance без частичных эффектов.
	Use(memberID string, amountMinor int64, reasonRef string) ([]PointAllocation, error)
	// Refund зачисляет amount свежим лотом; срок действия исходных лотов не восстанавливается.
	Refund(memberID string, amountMinor int64, reasonRef string) (string, error)
	// Balance возвращает сумму остатков по пригодным к списанию лотам.
	Balance(memberID string) (int64, error)
}

// Sequences выдаёт строго возрастающие номера для бизнес-идентификаторов.
type Sequences interface {
	Next(kind string) (int64, error)
}

// Виды последовательностей бизнес-идентификаторов.
const (
	SequenceOrder      = "order"
	SequencePayment    = "payment"
	SequenceLot        = "point_lot"
	SequenceAllocation = "point_allocation"
)

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// TimelineRepository хранит события жизненного цикла заказа.
type TimelineRepository interface {
	Append(event TimelineEvent) error
	List(orderID string) ([]TimelineEvent, error)
}

// IdempotencyRepository хранит состояние обработки запросов по idempotency-key.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

// SettlementStep задаёт константы шагов расчёта для метрик/логов.
type SettlementStep string

const (
	SettlementStepApprove   SettlementStep = "approve"
	SettlementStepUsePoints SettlementStep = "use_points"
	SettlementStepComplete  SettlementStep = "complete"
	SettlementStepNetCancel SettlementStep = "net_cancel"
	SettlementStepCancel    SettlementStep = "cancel"
	SettlementStepRefund    SettlementStep = "refund"
)

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
