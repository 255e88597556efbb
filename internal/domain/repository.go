package domain

import "time"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Create сохраняет новый заказ. Возвращает ошибку, если запись с таким ID уже существует.
	Create(order Order) error
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(id string) (Order, error)
	// ListByMember возвращает заказы участника с опциональным ограничением на количество.
	ListByMember(memberID string, limit int) ([]Order, error)
	// Save применяет обновления к заказу с учётом optimistic locking.
	Save(order Order) error
}

// PaymentLegRepository описывает хранилище платёжных легов.
type PaymentLegRepository interface {
	Create(leg PaymentLeg) error
	Get(id string) (PaymentLeg, error)
	// ListByOrder возвращает леги заказа в порядке создания.
	ListByOrder(orderID string) ([]PaymentLeg, error)
	Save(leg PaymentLeg) error
}

// PointLotRepository описывает хранилище лотов поинтов.
type PointLotRepository interface {
	Create(lot PointLot) error
	Get(id string) (PointLot, error)
	// ListUsable возвращает лоты участника, пригодные к списанию в момент now,
	// отсортированные по возрастанию EndAt; при равенстве — по порядку создания.
	ListUsable(memberID string, now time.Time) ([]PointLot, error)
	// ListByMember возвращает все лоты участника, включая исчерпанные и истёкшие.
	ListByMember(memberID string) ([]PointLot, error)
	Save(lot PointLot) error
}

// PointAllocationRepository описывает журнал списаний.
type PointAllocationRepository interface {
	Create(alloc PointAllocation) error
	ListByMember(memberID string) ([]PointAllocation, error)
	// ListByReference возвращает списания, привязанные к заказу/легу.
	ListByReference(reasonRef string) ([]PointAllocation, error)
}

// GatewayLogRepository сохраняет журнал обменов с эквайерами.
type GatewayLogRepository interface {
	Insert(entry GatewayRequestLog) error
	ListByPaymentRef(paymentRef string) ([]GatewayRequestLog, error)
}
