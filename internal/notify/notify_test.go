package notify

import (
	"context"
	"testing"
	"time"

	segkafka "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace-core/internal/kafka"
)

type capture struct {
	key, value []byte
	headers    []segkafka.Header
}

func (c *capture) Publish(key, value []byte, headers ...segkafka.Header) {
	c.key, c.value, c.headers = key, value, headers
}

func TestKafkaNotifierWrapsEnvelope(t *testing.T) {
	c := &capture{}
	n := NewKafka(c, "marketplace-api", nil)

	n.Notify(context.Background(), Event{
		Type:    "OrderPlaced",
		Key:     "o-1",
		At:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Payload: map[string]string{"order_id": "o-1"},
	})

	assert.Equal(t, "o-1", string(c.key))
	require.Len(t, c.headers, 1)
	assert.Equal(t, "OrderPlaced", string(c.headers[0].Value))

	env, err := kafka.UnmarshalEnvelope(c.value)
	require.NoError(t, err)
	assert.Equal(t, "OrderPlaced", env.EventType)
	assert.Equal(t, "o-1", env.CorrelationID)
	assert.Equal(t, "marketplace-api", env.Producer)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(env.Payload))
}

func TestKafkaNotifierSwallowsEncodeErrors(t *testing.T) {
	c := &capture{}
	n := NewKafka(c, "api", nil)
	n.Notify(context.Background(), Event{Type: "Bad", Key: "k", Payload: make(chan int)})
	assert.Nil(t, c.value)
}
