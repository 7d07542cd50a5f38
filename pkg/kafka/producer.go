package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/segmentio/kafka-go"

	"github.com/Ramsey-B/sage/pkg/tracing"
)

// Producer writes domain events to a single topic.
type Producer struct {
	writer *kafka.Writer
	logger ectologger.Logger
	topic  string
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	BatchSize    int
	BatchTimeout time.Duration
	RequiredAcks int
	Compression  string
}

func NewProducer(cfg ProducerConfig, logger ectologger.Logger) *Producer {
	compression := kafka.Snappy
	switch cfg.Compression {
	case "gzip":
		compression = kafka.Gzip
	case "lz4":
		compression = kafka.Lz4
	case "zstd":
		compression = kafka.Zstd
	case "none":
		compression = 0
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		BatchSize:              cfg.BatchSize,
		BatchTimeout:           cfg.BatchTimeout,
		RequiredAcks:           kafka.RequiredAcks(cfg.RequiredAcks),
		Compression:            compression,
		AllowAutoTopicCreation: true,
	}

	return &Producer{
		writer: writer,
		logger: logger,
		topic:  cfg.Topic,
	}
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

// Event is the envelope for everything published to the events topic. Messages are keyed by
// entity id so events for one entity stay ordered within a partition.
type Event struct {
	EventType     string          `json:"event_type"`
	SchemaVersion string          `json:"schema_version"`
	TenantID      string          `json:"tenant_id"`
	EntityID      string          `json:"entity_id"`
	EntityType    string          `json:"entity_type"`
	ActorID       string          `json:"actor_id,omitempty"`
	Data          json.RawMessage `json:"data,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// Publish writes the events as one batch.
func (p *Producer) Publish(ctx context.Context, events ...*Event) error {
	ctx, span := tracing.StartSpan(ctx, "kafka.Producer.Publish")
	defer span.End()

	if len(events) == 0 {
		return nil
	}

	messages := make([]kafka.Message, len(events))
	for i, event := range events {
		if event.Timestamp.IsZero() {
			event.Timestamp = time.Now().UTC()
		}

		data, err := json.Marshal(event)
		if err != nil {
			return err
		}

		messages[i] = kafka.Message{
			Topic: p.topic,
			Key:   []byte(event.EntityID),
			Value: data,
			Headers: []kafka.Header{
				{Key: "event_type", Value: []byte(event.EventType)},
				{Key: "tenant_id", Value: []byte(event.TenantID)},
				{Key: "entity_type", Value: []byte(event.EntityType)},
				{Key: "schema_version", Value: []byte(event.SchemaVersion)},
			},
		}
	}

	if err := p.writer.WriteMessages(ctx, messages...); err != nil {
		p.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"batch_size": len(events),
			"event_type": events[0].EventType,
		}).Error("Failed to publish events")
		return err
	}

	p.logger.WithContext(ctx).WithFields(map[string]any{
		"batch_size": len(events),
		"event_type": events[0].EventType,
	}).Debug("Published events")

	return nil
}
