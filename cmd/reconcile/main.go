package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/vibepay/internal/messaging/kafka"
)

const (
	defaultGroupID    = "vibepay-reconcile"
	defaultMaxRetries = 3
)

type config struct {
	brokers    []string
	groupID    string
	topic      string
	logPath    string
	maxRetries int
	dlqEnabled bool
}

// reconcileEntry — строка журнала ручной сверки. Каждое событие неуспешной
// компенсации попадает сюда и дальше разбирается оператором вручную.
type reconcileEntry struct {
	EventType  string `json:"event_type"`
	OrderID    string `json:"order_id"`
	LegID      string `json:"leg_id,omitempty"`
	Acquirer   string `json:"acquirer,omitempty"`
	Reason     string `json:"reason,omitempty"`
	OccurredAt string `json:"occurred_at,omitempty"`
	Topic      string `json:"topic"`
	Partition  int32  `json:"partition"`
	Offset     int64  `json:"offset"`
	RecordedAt string `json:"recorded_at"`
}

// reconciler фильтрует поток событий расчёта и пишет проблемные в журнал.
type reconciler struct {
	mu     sync.Mutex
	out    io.Writer
	logger *log.Entry
	now    func() time.Time

	recorded int
	skipped  int
}

func newReconciler(out io.Writer) *reconciler {
	return &reconciler{
		out:    out,
		logger: log.WithField("component", "reconcile"),
		now:    time.Now,
	}
}

// watchedEvent сообщает, требует ли событие ручной сверки.
func watchedEvent(eventType kafka.EventType) bool {
	switch eventType {
	case kafka.EventTypeSettlementNetCancelFailed, kafka.EventTypeSettlementFailed:
		return true
	default:
		return false
	}
}

// handle разбирает сообщение из Kafka. Нечитаемый payload возвращает ошибку,
// чтобы consumer после retry отправил сообщение в DLQ.
func (r *reconciler) handle(_ context.Context, message *sarama.ConsumerMessage) error {
	var event kafka.SettlementEvent
	if err := json.Unmarshal(message.Value, &event); err != nil {
		return fmt.Errorf("decode settlement event at %s[%d]@%d: %w", message.Topic, message.Partition, message.Offset, err)
	}
	if event.EventType == "" {
		return fmt.Errorf("settlement event at %s[%d]@%d has no event_type", message.Topic, message.Partition, message.Offset)
	}

	if !watchedEvent(event.EventType) {
		r.mu.Lock()
		r.skipped++
		r.mu.Unlock()
		return nil
	}

	entry := reconcileEntry{
		EventType:  string(event.EventType),
		OrderID:    event.OrderID,
		Topic:      message.Topic,
		Partition:  message.Partition,
		Offset:     message.Offset,
		RecordedAt: r.now().UTC().Format(time.RFC3339Nano),
	}
	if !event.Timestamp.IsZero() {
		entry.OccurredAt = event.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if legID, ok := event.Metadata["leg_id"].(string); ok {
		entry.LegID = legID
	}
	if acquirer, ok := event.Metadata["acquirer"].(string); ok {
		entry.Acquirer = acquirer
	}
	if reason, ok := event.Metadata["reason"].(string); ok {
		entry.Reason = reason
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode reconcile entry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.out.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("write reconcile entry: %w", err)
	}
	r.recorded++

	r.logger.WithFields(log.Fields{
		"event_type": entry.EventType,
		"order_id":   entry.OrderID,
		"leg_id":     entry.LegID,
	}).Warn("compensation failure recorded for manual reconciliation")
	return nil
}

func (r *reconciler) stats() (recorded, skipped int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.recorded, r.skipped
}

type eventConsumer interface {
	Start(ctx context.Context) error
	Stop() error
}

var newEventConsumer = func(cfg config, handler kafka.MessageHandler) (eventConsumer, func(), error) {
	var dlqProducer *kafka.Producer
	cleanup := func() {}

	if cfg.dlqEnabled {
		producer, err := kafka.NewProducer(cfg.brokers)
		if err != nil {
			return nil, nil, fmt.Errorf("create dlq producer: %w", err)
		}
		dlqProducer = producer
		cleanup = func() { _ = producer.Close() }
	}

	consumer, err := kafka.NewConsumerWithDLQ(cfg.brokers, cfg.groupID, []string{cfg.topic}, handler, dlqProducer, cfg.maxRetries)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	return consumer, cleanup, nil
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.InfoLevel)

	cfg, err := readConfig()
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		fail("reconcile failed: %v", err)
	}
}

func readConfig() (config, error) {
	var (
		brokersRaw string
		cfg        config
	)

	flag.StringVar(&brokersRaw, "brokers", "", "Kafka brokers as comma-separated list (fallback: KAFKA_BROKERS)")
	flag.StringVar(&cfg.groupID, "group", defaultGroupID, "consumer group id")
	flag.StringVar(&cfg.topic, "topic", kafka.TopicSettlementEvents, "settlement events topic")
	flag.StringVar(&cfg.logPath, "log", "reconcile.log", "reconciliation log file (\"-\" for stdout)")
	flag.IntVar(&cfg.maxRetries, "max-retries", defaultMaxRetries, "handler retries before DLQ")
	flag.BoolVar(&cfg.dlqEnabled, "dlq", true, "send poison messages to the dead letter queue")
	flag.Parse()

	if strings.TrimSpace(brokersRaw) == "" {
		brokersRaw = os.Getenv("KAFKA_BROKERS")
	}

	cfg.brokers = parseBrokers(brokersRaw)
	if len(cfg.brokers) == 0 {
		return config{}, fmt.Errorf("kafka brokers are required (-brokers or KAFKA_BROKERS)")
	}
	if strings.TrimSpace(cfg.groupID) == "" {
		return config{}, fmt.Errorf("group is required")
	}
	if strings.TrimSpace(cfg.topic) == "" {
		return config{}, fmt.Errorf("topic is required")
	}
	if strings.TrimSpace(cfg.logPath) == "" {
		return config{}, fmt.Errorf("log path is required")
	}
	if cfg.maxRetries < 0 {
		return config{}, fmt.Errorf("max-retries must be >= 0")
	}

	return cfg, nil
}

func parseBrokers(raw string) []string {
	chunks := strings.Split(raw, ",")
	brokers := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		broker := strings.TrimSpace(chunk)
		if broker == "" {
			continue
		}
		brokers = append(brokers, broker)
	}
	return brokers
}

func openReconcileLog(path string) (io.Writer, func(), error) {
	if path == "-" {
		return os.Stdout, func() {}, nil
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open reconciliation log %s: %w", path, err)
	}
	return file, func() { _ = file.Close() }, nil
}

func run(ctx context.Context, cfg config) error {
	log.WithFields(log.Fields{
		"group":       cfg.groupID,
		"topic":       cfg.topic,
		"log":         cfg.logPath,
		"max_retries": cfg.maxRetries,
		"dlq":         cfg.dlqEnabled,
	}).Info("starting reconciliation consumer")

	out, closeLog, err := openReconcileLog(cfg.logPath)
	if err != nil {
		return err
	}
	defer closeLog()

	rec := newReconciler(out)

	consumer, cleanup, err := newEventConsumer(cfg, rec.handle)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start kafka consumer: %w", err)
	}

	<-ctx.Done()

	if err := consumer.Stop(); err != nil {
		log.WithError(err).Error("failed to stop kafka consumer")
	}

	recorded, skipped := rec.stats()
	log.WithFields(log.Fields{
		"recorded": recorded,
		"skipped":  skipped,
	}).Info("reconciliation consumer stopped")

	return nil
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
