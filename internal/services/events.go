package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"function-ticketing-platform/internal/models"
)

// Producer is the part of a kafka writer the publisher needs
type Producer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter creates a kafka writer for brokers
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// LoggingProducer logs messages instead of publishing them. It is used when
// no brokers are configured.
type LoggingProducer struct {
	logger *slog.Logger
}

// NewLoggingProducer creates a producer that only logs
func NewLoggingProducer(logger *slog.Logger) *LoggingProducer {
	return &LoggingProducer{logger: logger}
}

func (p *LoggingProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	for _, msg := range msgs {
		p.logger.Info("domain event",
			"key", string(msg.Key),
			"bytes", len(msg.Value),
			"headers", len(msg.Headers),
		)
	}
	return nil
}

// EventPublisher turns outbox events into kafka messages keyed by aggregate
type EventPublisher struct {
	logger   *slog.Logger
	producer Producer
}

// NewEventPublisher creates an event publisher
func NewEventPublisher(logger *slog.Logger, producer Producer) *EventPublisher {
	return &EventPublisher{logger: logger, producer: producer}
}

// Publish writes event with its type and the current trace context as headers
func (p *EventPublisher) Publish(ctx context.Context, event models.OutboxEvent) error {
	headers := []kafka.Header{
		{Key: "event_type", Value: []byte(event.Type)},
		{Key: "aggregate_type", Value: []byte(event.AggregateType)},
	}

	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for k, v := range carrier {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	msg := kafka.Message{
		Key:     []byte(event.AggregateID),
		Value:   event.Payload,
		Headers: headers,
	}
	if err := p.producer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("event publish failed", "event_id", event.ID, "error", err)
		return err
	}
	p.logger.Info("event published", "event_id", event.ID, "type", event.Type)
	return nil
}

// OutboxRelay leases pending outbox events and publishes them
type OutboxRelay struct {
	logger     *slog.Logger
	store      OutboxStore
	publisher  *EventPublisher
	metrics    *Metrics
	batchSize  int
	interval   time.Duration
	lease      time.Duration
	retryAfter time.Duration
}

// NewOutboxRelay creates a relay with default batch and timing settings
func NewOutboxRelay(logger *slog.Logger, store OutboxStore, publisher *EventPublisher, metrics *Metrics) *OutboxRelay {
	return &OutboxRelay{
		logger:     logger,
		store:      store,
		publisher:  publisher,
		metrics:    metrics,
		batchSize:  100,
		interval:   500 * time.Millisecond,
		lease:      30 * time.Second,
		retryAfter: 10 * time.Second,
	}
}

// Run polls until ctx is done
func (r *OutboxRelay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopping")
			return nil
		case <-t.C:
			if _, err := r.RunOnce(ctx); err != nil {
				r.logger.Error("outbox relay error", "error", err)
			}
		}
	}
}

// RunOnce publishes one batch and returns the number of events sent
func (r *OutboxRelay) RunOnce(ctx context.Context) (int, error) {
	events, err := r.store.LockEvents(ctx, r.batchSize, r.lease)
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	ids := make([]int64, 0, len(events))
	for _, e := range events {
		if err := r.publisher.Publish(ctx, e); err != nil {
			r.observe("failed")
			if markErr := r.store.MarkEventFailed(ctx, e.ID, err.Error(), r.retryAfter); markErr != nil {
				r.logger.Error("outbox mark failed error", "event_id", e.ID, "error", markErr)
			}
			continue
		}
		r.observe("sent")
		ids = append(ids, e.ID)
	}

	if len(ids) > 0 {
		if err := r.store.MarkEventsSent(ctx, ids); err != nil {
			return 0, err
		}
	}
	return len(ids), nil
}

func (r *OutboxRelay) observe(result string) {
	if r.metrics != nil {
		r.metrics.OutboxPublished.WithLabelValues(result).Inc()
	}
}
