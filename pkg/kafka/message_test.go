package kafka

import (
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestNewIncomingMessage(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := NewIncomingMessage(kafka.Message{
		Topic:     "parsed-postings",
		Partition: 2,
		Offset:    41,
		Key:       []byte("msg-1"),
		Value:     []byte(`{}`),
		Time:      at,
		Headers: []kafka.Header{
			{Key: "tenant_id", Value: []byte("0b7c6f54-8d0e-4a43-9d1c-8f4c86a0f001")},
			{Key: "source", Value: []byte("email")},
		},
	})

	assert.Equal(t, "msg-1", msg.Key)
	assert.Equal(t, 2, msg.Partition)
	assert.Equal(t, int64(41), msg.Offset)
	assert.Equal(t, at, msg.Timestamp)
	assert.Equal(t, "0b7c6f54-8d0e-4a43-9d1c-8f4c86a0f001", msg.TenantID())
	assert.Equal(t, "email", msg.Headers["source"])
}
