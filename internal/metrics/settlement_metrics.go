package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// SettlementMetrics содержит метрики платёжного контура.
type SettlementMetrics struct {
	// Счётчики операций
	settlementStarted   prometheus.Counter
	settlementCompleted prometheus.Counter
	settlementFailed    prometheus.Counter
	orderCancelled      prometheus.Counter
	netCancelFailed     prometheus.Counter

	// Гистограммы времени выполнения
	settlementDuration prometheus.Histogram
	stepDuration       *prometheus.HistogramVec

	// Счётчики по эквайерам
	gatewayCalls *prometheus.CounterVec

	// Счётчики событий timeline и outbox
	timelineEvents prometheus.Counter
	outboxEvents   prometheus.Counter

	// Gauge для активных расчётов
	activeSettlements prometheus.Gauge
}

// NewSettlementMetrics создаёт новый экземпляр метрик расчёта.
func NewSettlementMetrics() *SettlementMetrics {
	return newSettlementMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newSettlementMetricsWithRegisterer(registerer prometheus.Registerer) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &SettlementMetrics{
		settlementStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "vibepay_settlement_started_total",
			Help: "Total number of order settlements started",
		}),
		settlementCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "vibepay_settlement_completed_total",
			Help: "Total number of order settlements completed successfully",
		}),
		settlementFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "vibepay_settlement_failed_total",
			Help: "Total number of order settlements failed",
		}),
		orderCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "vibepay_order_cancelled_total",
			Help: "Total number of order cancellations processed",
		}),
		netCancelFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "vibepay_net_cancel_failed_total",
			Help: "Total number of net-cancel compensations that failed",
		}),
		settlementDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "vibepay_settlement_duration_seconds",
			Help:    "Duration of order settlements in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "vibepay_settlement_step_duration_seconds",
			Help:    "Duration of individual settlement steps in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0},
		}, []string{"step"}),
		gatewayCalls: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "vibepay_gateway_calls_total",
			Help: "Total number of acquirer gateway calls by acquirer and outcome",
		}, []string{"acquirer", "operation", "outcome"}),
		timelineEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "vibepay_timeline_events_total",
			Help: "Total number of timeline events recorded",
		}),
		outboxEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "vibepay_outbox_events_total",
			Help: "Total number of outbox events published",
		}),
		activeSettlements: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "vibepay_active_settlements",
			Help: "Number of currently active order settlements",
		}),
	}
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}

// RecordSettlementStarted увеличивает счётчик запущенных расчётов.
func (m *SettlementMetrics) RecordSettlementStarted() {
	m.settlementStarted.Inc()
	m.activeSettlements.Inc()
}

// RecordSettlementCompleted увеличивает счётчик завершённых расчётов.
func (m *SettlementMetrics) RecordSettlementCompleted() {
	m.settlementCompleted.Inc()
	m.activeSettlements.Dec()
}

// RecordSettlementFailed увеличивает счётчик неудачных расчётов.
func (m *SettlementMetrics) RecordSettlementFailed() {
	m.settlementFailed.Inc()
	m.activeSettlements.Dec()
}

// RecordOrderCancelled увеличивает счётчик обработанных отмен.
func (m *SettlementMetrics) RecordOrderCancelled() {
	m.orderCancelled.Inc()
}

// RecordNetCancelFailed увеличивает счётчик проваленных net-cancel.
func (m *SettlementMetrics) RecordNetCancelFailed() {
	m.netCancelFailed.Inc()
}

// RecordSettlementDuration записывает время выполнения расчёта.
func (m *SettlementMetrics) RecordSettlementDuration(duration time.Duration) {
	m.settlementDuration.Observe(duration.Seconds())
}

// RecordStepDuration записывает время выполнения шага расчёта.
func (m *SettlementMetrics) RecordStepDuration(step string, duration time.Duration) {
	m.stepDuration.WithLabelValues(step).Observe(duration.Seconds())
}

// RecordGatewayCall увеличивает счётчик вызовов эквайера.
func (m *SettlementMetrics) RecordGatewayCall(acquirer, operation, outcome string) {
	m.gatewayCalls.WithLabelValues(acquirer, operation, outcome).Inc()
}

// RecordTimelineEvent увеличивает счётчик событий timeline.
func (m *SettlementMetrics) RecordTimelineEvent() {
	m.timelineEvents.Inc()
}

// RecordOutboxEvent увеличивает счётчик событий outbox.
func (m *SettlementMetrics) RecordOutboxEvent() {
	m.outboxEvents.Inc()
}
