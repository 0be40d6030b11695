package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	fail   bool
	closed bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("broker down")
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
	return nil
}

func TestProducerFlushesOnShutdown(t *testing.T) {
	w := &fakeWriter{}
	p := NewProducerWithWriter(w, 16, nil)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)

	for i := 0; i < 5; i++ {
		p.Publish([]byte("order-1"), []byte(`{}`))
	}
	cancel()
	p.WaitClosed()

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Len(t, w.msgs, 5)
	assert.True(t, w.closed)
	assert.Equal(t, "order-1", string(w.msgs[0].Key))
}

func TestProducerWriteErrorsDoNotStopLoop(t *testing.T) {
	w := &fakeWriter{fail: true}
	p := NewProducerWithWriter(w, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	p.Publish([]byte("k"), []byte("v"))
	time.Sleep(20 * time.Millisecond)
	cancel()
	p.WaitClosed()
	assert.True(t, w.closed)
}

func TestSendReportsWriteErrors(t *testing.T) {
	w := &fakeWriter{fail: true}
	p := NewProducerWithWriter(w, 1, nil)
	err := p.Send(context.Background(), []byte("pi_1"), []byte(`{}`))
	assert.ErrorContains(t, err, "broker down")

	w.mu.Lock()
	w.fail = false
	w.mu.Unlock()
	require.NoError(t, p.Send(context.Background(), []byte("pi_1"), []byte(`{}`), kafka.Header{Key: "event_type", Value: []byte("x")}))
	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "pi_1", string(w.msgs[0].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)
}

func TestEnvelopeRoundTrip(t *testing.T) {
	type payload struct {
		OrderID string `json:"order_id"`
	}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	env, err := NewEnvelope("OrderPlaced", "marketplace-api", "o-1", at, payload{OrderID: "o-1"})
	require.NoError(t, err)
	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, 1, env.EventVersion)

	decoded, err := UnmarshalEnvelope(MustMarshal(env))
	require.NoError(t, err)
	got, err := UnwrapPayload[payload](decoded.Payload)
	require.NoError(t, err)
	assert.Equal(t, "o-1", got.OrderID)
	assert.Equal(t, at, decoded.OccurredAt)
}
