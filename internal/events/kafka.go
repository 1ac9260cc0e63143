package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"inventory-ledger/internal/core"
)

// messageWriter is the subset of the traced Kafka writer the publisher uses.
type messageWriter interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// KafkaPublisher publishes ledger events as JSON to one topic. Messages are
// keyed by event type and entity ID so the status history of one entity
// stays on one partition in commit order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	logger *zap.Logger
}

// NewKafkaPublisher builds a traced writer for brokers/topic. Trace context is
// injected into message headers.
func NewKafkaPublisher(brokers []string, topic, clientID string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           10 * time.Millisecond,
		BatchSize:              100,
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	writer, err := otelkafka.NewWriter(base,
		otelkafka.WithTracerProvider(otel.GetTracerProvider()),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(topic),
				attribute.String("messaging.kafka.client_id", clientID),
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka writer: %w", err)
	}
	return newKafkaPublisher(writer, topic, logger), nil
}

func newKafkaPublisher(w messageWriter, topic string, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: w, topic: topic, logger: logger}
}

// Publish implements core.EventPublisher.
func (p *KafkaPublisher) Publish(ctx context.Context, evt core.LedgerEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", evt.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(string(evt.Type) + ":" + strconv.Itoa(evt.EntityID)),
		Value: payload,
		Time:  evt.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(evt.Type)},
			{Key: "event_id", Value: []byte(evt.ID)},
		},
	}
	if err := p.writer.WriteMessage(ctx, msg); err != nil {
		return fmt.Errorf("failed to publish %s event to %s: %w", evt.Type, p.topic, err)
	}

	p.logger.Debug("published ledger event",
		zap.String("event_type", string(evt.Type)),
		zap.Int("entity_id", evt.EntityID),
		zap.String("status", evt.Status),
	)
	return nil
}

// Close flushes buffered messages and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

var _ core.EventPublisher = (*KafkaPublisher)(nil)
