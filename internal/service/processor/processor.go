package processor

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
)

// Processor проводит леги одного платёжного метода: подтверждение при
// расчёте, компенсацию при откате и возврат при отмене. Мутирует переданный
// лег; персистит его вызывающая сторона.
type Processor interface {
	// Method возвращает код метода, который обслуживает процессор.
	Method() domain.PaymentMethod
	// Process подтверждает списание. При успехе лег переходит в approved
	// с заполненным cancelable amount.
	Process(ctx context.Context, order domain.Order, leg *domain.PaymentLeg) error
	// Compensate откатывает подтверждённый лег при провале расчёта.
	Compensate(ctx context.Context, order domain.Order, leg *domain.PaymentLeg) error
	// Cancel возвращает часть рассчитанной суммы лега. Cancelable amount
	// уменьшает вызывающая сторона после успеха.
	Cancel(ctx context.Context, order domain.Order, leg *domain.PaymentLeg, amountMinor int64, reason string) error
}

// Dispatcher — таблица процессоров по коду метода, собранная на старте.
// После сборки только читается.
type Dispatcher struct {
	processors map[domain.PaymentMethod]Processor
}

// NewDispatcher строит таблицу диспетчеризации.
func NewDispatcher(processors ...Processor) (*Dispatcher, error) {
	d := &Dispatcher{
		processors: make(map[domain.PaymentMethod]Processor, len(processors)),
	}
	for _, p := range processors {
		method := p.Method()
		if !method.Valid() {
			return nil, fmt.Errorf("processor for %s: %w", method, domain.ErrUnsupportedPaymentMethod)
		}
		if _, exists := d.processors[method]; exists {
			return nil, fmt.Errorf("duplicate processor for method %s", method)
		}
		d.processors[method] = p
	}
	return d, nil
}

// Processor возвращает процессор метода или ErrUnsupportedPaymentMethod.
func (d *Dispatcher) Processor(method domain.PaymentMethod) (Processor, error) {
	p, ok := d.processors[method]
	if !ok {
		return nil, fmt.Errorf("method %s: %w", method, domain.ErrUnsupportedPaymentMethod)
	}
	return p, nil
}
