package settlement

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/domain"
	"github.com/vladislavdragonenkov/vibepay/internal/metrics"
	"github.com/vladislavdragonenkov/vibepay/internal/service/processor"
	"github.com/vladislavdragonenkov/vibepay/internal/storage/memory"
)

type orchestratorFixture struct {
	orders   domain.OrderRepository
	legs     domain.PaymentLegRepository
	outbox   domain.OutboxRepository
	timeline domain.TimelineRepository
	card     *processor.MockProcessor
	point    *processor.MockProcessor
	orch     *Orchestrator
}

func newOrchestratorFixture(t *testing.T, extra ...Option) *orchestratorFixture {
	t.Helper()

	card := processor.NewMockProcessor(domain.PaymentMethodCard)
	point := processor.NewMockProcessor(domain.PaymentMethodPoint)
	dispatcher, err := processor.NewDispatcher(card, point)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}

	logger := log.New()
	logger.SetOutput(io.Discard)

	orders := memory.NewOrderRepository()
	legs := memory.NewPaymentLegRepository()
	outbox := memory.NewOutboxRepository()
	timeline := memory.NewTimelineRepository()

	options := []Option{
		WithClock(func() time.Time { return time.Date(2025, 9, 18, 12, 0, 0, 0, time.UTC) }),
	}
	options = append(options, extra...)

	orch := NewOrchestrator(
		orders,
		legs,
		dispatcher,
		outbox,
		timeline,
		logger.WithField("test", "settlement"),
		options...,
	)

	return &orchestratorFixture{
		orders:   orders,
		legs:     legs,
		outbox:   outbox,
		timeline: timeline,
		card:     card,
		point:    point,
		orch:     orch,
	}
}

func (f *orchestratorFixture) seedOrder(t *testing.T, id string, status domain.OrderStatus, amount int64) domain.Order {
	t.Helper()
	order := domain.Order{
		ID:          id,
		MemberID:    "MBR-1001",
		Status:      status,
		AmountMinor: amount,
		CreatedBy:   "api",
	}
	if err := f.orders.Create(order); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	return order
}

func (f *orchestratorFixture) seedLeg(t *testing.T, leg domain.PaymentLeg) {
	t.Helper()
	if leg.MemberID == "" {
		leg.MemberID = "MBR-1001"
	}
	if err := f.legs.Create(leg); err != nil {
		t.Fatalf("seed leg: %v", err)
	}
}

func (f *orchestratorFixture) leg(t *testing.T, id string) domain.PaymentLeg {
	t.Helper()
	leg, err := f.legs.Get(id)
	if err != nil {
		t.Fatalf("get leg %s: %v", id, err)
	}
	return leg
}

func (f *orchestratorFixture) outboxEvents(t *testing.T) map[string]int {
	t.Helper()
	pending, err := f.outbox.PullPending(100)
	if err != nil {
		t.Fatalf("pull outbox: %v", err)
	}
	counts := make(map[string]int)
	for _, msg := range pending {
		counts[msg.EventType]++
	}
	return counts
}

func TestSettleTwoLegsCompleted(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedOrder(t, "ord-1", domain.OrderStatusReceived, 15000)
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-card", OrderID: "ord-1", Method: domain.PaymentMethodCard, Status: domain.LegStatusPending, AmountMinor: 10000})
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-point", OrderID: "ord-1", Method: domain.PaymentMethodPoint, Status: domain.LegStatusPending, AmountMinor: 5000})

	order, err := f.orch.Settle(context.Background(), "ord-1", "api")
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("unexpected order status: %s", order.Status)
	}
	if f.card.ProcessCalls != 1 || f.point.ProcessCalls != 1 {
		t.Fatalf("unexpected process calls: card=%d point=%d", f.card.ProcessCalls, f.point.ProcessCalls)
	}

	cardLeg := f.leg(t, "leg-card")
	if cardLeg.Status != domain.LegStatusApproved || cardLeg.CancelableMinor != 10000 {
		t.Fatalf("card leg not approved: status=%s cancelable=%d", cardLeg.Status, cardLeg.CancelableMinor)
	}
	pointLeg := f.leg(t, "leg-point")
	if pointLeg.Status != domain.LegStatusApproved || pointLeg.CancelableMinor != 5000 {
		t.Fatalf("point leg not approved: status=%s cancelable=%d", pointLeg.Status, pointLeg.CancelableMinor)
	}

	events := f.outboxEvents(t)
	if events["OrderStatusChanged"] != 2 {
		t.Fatalf("expected 2 status change events, got %d", events["OrderStatusChanged"])
	}

	timeline, err := f.timeline.List("ord-1")
	if err != nil {
		t.Fatalf("timeline: %v", err)
	}
	if len(timeline) != 2 {
		t.Fatalf("expected 2 timeline events, got %d", len(timeline))
	}
}

func TestSettleSecondLegFailsCompensatesFirst(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedOrder(t, "ord-2", domain.OrderStatusReceived, 15000)
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-card", OrderID: "ord-2", Method: domain.PaymentMethodCard, Status: domain.LegStatusPending, AmountMinor: 10000})
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-point", OrderID: "ord-2", Method: domain.PaymentMethodPoint, Status: domain.LegStatusPending, AmountMinor: 5000})

	f.point.ProcessErr = domain.ErrInsufficientBalance

	order, err := f.orch.Settle(context.Background(), "ord-2", "api")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("expected original cause, got %v", err)
	}
	if order.Status != domain.OrderStatusFailed {
		t.Fatalf("unexpected order status: %s", order.Status)
	}
	if f.card.CompensateCalls != 1 {
		t.Fatalf("card leg must be compensated exactly once, got %d", f.card.CompensateCalls)
	}
	if f.point.CompensateCalls != 0 {
		t.Fatalf("failed leg must not be compensated, got %d", f.point.CompensateCalls)
	}

	cardLeg := f.leg(t, "leg-card")
	if cardLeg.Status != domain.LegStatusNetCancelled {
		t.Fatalf("card leg not net-cancelled: %s", cardLeg.Status)
	}
	if cardLeg.CancelableMinor != 0 {
		t.Fatalf("net-cancelled leg keeps cancelable %d", cardLeg.CancelableMinor)
	}

	events := f.outboxEvents(t)
	if events["OrderSettlementFailed"] != 1 {
		t.Fatalf("expected settlement failed event, got %v", events)
	}
}

func TestSettleCompensationFailureRecorded(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedOrder(t, "ord-3", domain.OrderStatusReceived, 15000)
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-card", OrderID: "ord-3", Method: domain.PaymentMethodCard, Status: domain.LegStatusPending, AmountMinor: 10000})
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-point", OrderID: "ord-3", Method: domain.PaymentMethodPoint, Status: domain.LegStatusPending, AmountMinor: 5000})

	f.point.ProcessErr = errors.New("ledger unavailable")
	f.card.CompensateErr = domain.ErrNetCancelFailed

	order, err := f.orch.Settle(context.Background(), "ord-3", "api")
	if err == nil {
		t.Fatal("expected settlement error")
	}
	if order.Status != domain.OrderStatusFailed {
		t.Fatalf("unexpected order status: %s", order.Status)
	}

	cardLeg := f.leg(t, "leg-card")
	if cardLeg.Status != domain.LegStatusNetCancelFailed {
		t.Fatalf("expected net_cancel_failed leg, got %s", cardLeg.Status)
	}

	events := f.outboxEvents(t)
	if events["LegNetCancelFailed"] != 1 {
		t.Fatalf("expected net cancel failure event, got %v", events)
	}
}

func TestSettleLegValidation(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedOrder(t, "ord-4", domain.OrderStatusReceived, 15000)

	if _, err := f.orch.Settle(context.Background(), "ord-4", "api"); !errors.Is(err, domain.ErrLegsRequired) {
		t.Fatalf("expected ErrLegsRequired, got %v", err)
	}

	f.seedLeg(t, domain.PaymentLeg{ID: "leg-card", OrderID: "ord-4", Method: domain.PaymentMethodCard, Status: domain.LegStatusPending, AmountMinor: 10000})
	if _, err := f.orch.Settle(context.Background(), "ord-4", "api"); !errors.Is(err, domain.ErrLegAmountMismatch) {
		t.Fatalf("expected ErrLegAmountMismatch, got %v", err)
	}
	if f.card.ProcessCalls != 0 {
		t.Fatalf("legs must not be processed before validation passes, got %d calls", f.card.ProcessCalls)
	}
}

func TestSettleStatusGates(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedOrder(t, "ord-done", domain.OrderStatusCompleted, 10000)
	if _, err := f.orch.Settle(context.Background(), "ord-done", "api"); !errors.Is(err, domain.ErrOrderAlreadySettled) {
		t.Fatalf("expected ErrOrderAlreadySettled, got %v", err)
	}

	f.seedOrder(t, "ord-failed", domain.OrderStatusFailed, 10000)
	if _, err := f.orch.Settle(context.Background(), "ord-failed", "api"); !errors.Is(err, domain.ErrOrderNotCancelable) {
		t.Fatalf("expected ErrOrderNotCancelable, got %v", err)
	}

	if _, err := f.orch.Settle(context.Background(), "no-such-order", "api"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestCancelPartial(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedOrder(t, "ord-5", domain.OrderStatusCompleted, 15000)
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-card", OrderID: "ord-5", Method: domain.PaymentMethodCard, Status: domain.LegStatusApproved, AmountMinor: 10000, CancelableMinor: 10000})
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-point", OrderID: "ord-5", Method: domain.PaymentMethodPoint, Status: domain.LegStatusApproved, AmountMinor: 5000, CancelableMinor: 5000})

	order, err := f.orch.Cancel(context.Background(), "ord-5", 4000, "customer request", "api")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if order.Status != domain.OrderStatusPartiallyCancelled {
		t.Fatalf("unexpected order status: %s", order.Status)
	}
	if f.card.CancelCalls != 1 || f.card.LastCancelAmt != 4000 {
		t.Fatalf("card cancel calls=%d amount=%d", f.card.CancelCalls, f.card.LastCancelAmt)
	}
	if f.point.CancelCalls != 0 {
		t.Fatalf("point leg must not be touched, got %d calls", f.point.CancelCalls)
	}

	cardLeg := f.leg(t, "leg-card")
	if cardLeg.CancelableMinor != 6000 {
		t.Fatalf("card cancelable = %d, want 6000", cardLeg.CancelableMinor)
	}
	if cardLeg.Status != domain.LegStatusApproved {
		t.Fatalf("partially cancelled leg stays approved, got %s", cardLeg.Status)
	}

	events := f.outboxEvents(t)
	if events["OrderCancelApplied"] != 1 {
		t.Fatalf("expected cancel applied event, got %v", events)
	}
}

func TestCancelFullDrainsAllLegs(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedOrder(t, "ord-6", domain.OrderStatusCompleted, 15000)
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-card", OrderID: "ord-6", Method: domain.PaymentMethodCard, Status: domain.LegStatusApproved, AmountMinor: 10000, CancelableMinor: 10000})
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-point", OrderID: "ord-6", Method: domain.PaymentMethodPoint, Status: domain.LegStatusApproved, AmountMinor: 5000, CancelableMinor: 5000})

	// amountMinor <= 0 означает полный возврат остатка.
	order, err := f.orch.Cancel(context.Background(), "ord-6", 0, "operator refund", "ops")
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("unexpected order status: %s", order.Status)
	}
	if f.card.CancelCalls != 1 || f.point.CancelCalls != 1 {
		t.Fatalf("cancel calls: card=%d point=%d", f.card.CancelCalls, f.point.CancelCalls)
	}

	for _, id := range []string{"leg-card", "leg-point"} {
		leg := f.leg(t, id)
		if leg.CancelableMinor != 0 {
			t.Fatalf("leg %s keeps cancelable %d", id, leg.CancelableMinor)
		}
		if leg.Status != domain.LegStatusCancelled {
			t.Fatalf("leg %s status %s, want cancelled", id, leg.Status)
		}
	}
}

func TestCancelSecondStagePartiallyThenFully(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedOrder(t, "ord-7", domain.OrderStatusCompleted, 10000)
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-card", OrderID: "ord-7", Method: domain.PaymentMethodCard, Status: domain.LegStatusApproved, AmountMinor: 10000, CancelableMinor: 10000})

	if _, err := f.orch.Cancel(context.Background(), "ord-7", 3000, "first", "api"); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	order, err := f.orch.Cancel(context.Background(), "ord-7", 7000, "second", "api")
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("unexpected order status: %s", order.Status)
	}
	if leg := f.leg(t, "leg-card"); leg.CancelableMinor != 0 {
		t.Fatalf("leg cancelable = %d", leg.CancelableMinor)
	}
}

func TestCancelOverCancellationRejected(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedOrder(t, "ord-8", domain.OrderStatusCompleted, 10000)
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-card", OrderID: "ord-8", Method: domain.PaymentMethodCard, Status: domain.LegStatusApproved, AmountMinor: 10000, CancelableMinor: 10000})

	if _, err := f.orch.Cancel(context.Background(), "ord-8", 10001, "too much", "api"); !errors.Is(err, domain.ErrOverCancellation) {
		t.Fatalf("expected ErrOverCancellation, got %v", err)
	}
	if f.card.CancelCalls != 0 {
		t.Fatalf("no gateway call expected, got %d", f.card.CancelCalls)
	}
	if leg := f.leg(t, "leg-card"); leg.CancelableMinor != 10000 {
		t.Fatalf("cancelable must stay intact: %d", leg.CancelableMinor)
	}
}

func TestCancelMetricCountsOnlyAppliedCancels(t *testing.T) {
	f := newOrchestratorFixture(t, WithMetrics(metrics.NewSettlementMetrics()))
	f.seedOrder(t, "ord-metric", domain.OrderStatusCompleted, 10000)
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-card", OrderID: "ord-metric", Method: domain.PaymentMethodCard, Status: domain.LegStatusApproved, AmountMinor: 10000, CancelableMinor: 10000})

	before := orderCancelledTotal(t)

	if _, err := f.orch.Cancel(context.Background(), "ord-metric", 10001, "too much", "api"); !errors.Is(err, domain.ErrOverCancellation) {
		t.Fatalf("expected ErrOverCancellation, got %v", err)
	}
	if got := orderCancelledTotal(t); got != before {
		t.Fatalf("rejected cancel must not count: before=%v after=%v", before, got)
	}

	if _, err := f.orch.Cancel(context.Background(), "ord-metric", 4000, "customer", "api"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if got := orderCancelledTotal(t); got != before+1 {
		t.Fatalf("applied cancel must count once: before=%v after=%v", before, got)
	}
}

func orderCancelledTotal(t *testing.T) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, family := range families {
		if family.GetName() == "vibepay_order_cancelled_total" {
			return family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func TestSettleStampsLegsWithActor(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedOrder(t, "ord-actor", domain.OrderStatusReceived, 10000)
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-card", OrderID: "ord-actor", Method: domain.PaymentMethodCard, Status: domain.LegStatusPending, AmountMinor: 10000})

	if _, err := f.orch.Settle(context.Background(), "ord-actor", "batch-runner"); err != nil {
		t.Fatalf("settle failed: %v", err)
	}

	if leg := f.leg(t, "leg-card"); leg.UpdatedBy != "batch-runner" {
		t.Fatalf("leg must carry the caller actor, got %q", leg.UpdatedBy)
	}
}

func TestCancelGatewayFailureKeepsCancelable(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedOrder(t, "ord-9", domain.OrderStatusCompleted, 10000)
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-card", OrderID: "ord-9", Method: domain.PaymentMethodCard, Status: domain.LegStatusApproved, AmountMinor: 10000, CancelableMinor: 10000})

	f.card.CancelErr = domain.ErrGatewayCancelFailed

	order, err := f.orch.Cancel(context.Background(), "ord-9", 5000, "refund", "api")
	if !errors.Is(err, domain.ErrGatewayCancelFailed) {
		t.Fatalf("expected gateway error, got %v", err)
	}
	if order.Status != domain.OrderStatusCompleted {
		t.Fatalf("order must stay completed, got %s", order.Status)
	}
	// Cancelable уменьшается только после подтверждённого возврата.
	if leg := f.leg(t, "leg-card"); leg.CancelableMinor != 10000 {
		t.Fatalf("cancelable reduced without gateway confirmation: %d", leg.CancelableMinor)
	}
}

func TestCancelStatusGate(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedOrder(t, "ord-10", domain.OrderStatusReceived, 10000)
	if _, err := f.orch.Cancel(context.Background(), "ord-10", 1000, "early", "api"); !errors.Is(err, domain.ErrOrderNotCancelable) {
		t.Fatalf("expected ErrOrderNotCancelable, got %v", err)
	}
}

func TestCancelDrainedOrderRejectsZeroAmount(t *testing.T) {
	f := newOrchestratorFixture(t)
	f.seedOrder(t, "ord-11", domain.OrderStatusPartiallyCancelled, 10000)
	f.seedLeg(t, domain.PaymentLeg{ID: "leg-card", OrderID: "ord-11", Method: domain.PaymentMethodCard, Status: domain.LegStatusCancelled, AmountMinor: 10000, CancelableMinor: 0})

	if _, err := f.orch.Cancel(context.Background(), "ord-11", 0, "noop", "api"); !errors.Is(err, domain.ErrAmountInvalid) {
		t.Fatalf("expected ErrAmountInvalid, got %v", err)
	}
}
