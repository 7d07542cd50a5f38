package kafka

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// IncomingMessage is a fetched message with its headers flattened.
type IncomingMessage struct {
	Key       string
	Value     []byte
	Headers   map[string]string
	Partition int
	Offset    int64
	Timestamp time.Time
	Topic     string
}

func NewIncomingMessage(msg kafka.Message) *IncomingMessage {
	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &IncomingMessage{
		Key:       string(msg.Key),
		Value:     msg.Value,
		Headers:   headers,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Timestamp: msg.Time,
		Topic:     msg.Topic,
	}
}

func (m *IncomingMessage) TenantID() string {
	return m.Headers["tenant_id"]
}
