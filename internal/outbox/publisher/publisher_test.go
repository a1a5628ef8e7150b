package publisher

import (
	"bytes"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tumi/internal/outbox/models"
)

type captureSender struct {
	key     string
	body    []byte
	headers map[string]string
}

func (c *captureSender) Publish(_ context.Context, key string, body []byte, headers map[string]string) error {
	c.key, c.body, c.headers = key, body, headers
	return nil
}

func testMessage(t *testing.T) models.Message {
	m, err := models.NewMessage("stripe_payment", "pay-42", "payment.succeeded", map[string]string{"status": "succeeded"}, time.Now())
	require.NoError(t, err)
	return m
}

func TestKafkaKeysByAggregate(t *testing.T) {
	sender := &captureSender{}
	m := testMessage(t)

	require.NoError(t, Kafka(sender).Publish(context.Background(), m))
	assert.Equal(t, "pay-42", sender.key)
	assert.JSONEq(t, `{"status":"succeeded"}`, string(sender.body))
	assert.Equal(t, m.ID.String(), sender.headers["message_id"])
	assert.Equal(t, "payment.succeeded", sender.headers["event_type"])
}

func TestAMQPRoutesByEventType(t *testing.T) {
	sender := &captureSender{}
	require.NoError(t, AMQP(sender).Publish(context.Background(), testMessage(t)))
	assert.Equal(t, "payment.succeeded", sender.key)
	assert.Equal(t, "stripe_payment", sender.headers["aggregate_type"])
}

func TestLogPublisher(t *testing.T) {
	var buf bytes.Buffer
	l := NewLog(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, l.Publish(context.Background(), testMessage(t)))
	assert.Contains(t, buf.String(), "event_type=payment.succeeded")
	assert.Contains(t, buf.String(), "aggregate_id=pay-42")
}
