// Package notify delivers domain events to downstream consumers (email,
// push, seller dashboards). Delivery is best effort: failures are logged
// and never surface to the caller.
package notify

import (
	"context"
	"sync"
	"time"

	segkafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/kafka"
)

type Event struct {
	Type string
	// Key orders events of one aggregate; it is the order id for order and
	// payment events.
	Key     string
	At      time.Time
	Payload any
}

type Notifier interface {
	Notify(ctx context.Context, e Event)
}

type Nop struct{}

func (Nop) Notify(context.Context, Event) {}

// Log writes events to the logger; used when no broker is configured.
type Log struct{ Logger *zap.Logger }

func (l Log) Notify(_ context.Context, e Event) {
	if l.Logger == nil {
		return
	}
	l.Logger.Info("event", zap.String("event_type", e.Type), zap.String("key", e.Key), zap.Any("payload", e.Payload))
}

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(key, value []byte, headers ...segkafka.Header)
}

type Kafka struct {
	pub      Publisher
	producer string
	logger   *zap.Logger
}

func NewKafka(pub Publisher, producer string, logger *zap.Logger) *Kafka {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Kafka{pub: pub, producer: producer, logger: logger}
}

func (k *Kafka) Notify(_ context.Context, e Event) {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	env, err := kafka.NewEnvelope(e.Type, k.producer, e.Key, at, e.Payload)
	if err != nil {
		k.logger.Error("notify: encode event", zap.String("event_type", e.Type), zap.Error(err))
		return
	}
	k.pub.Publish([]byte(e.Key), kafka.MustMarshal(env), segkafka.Header{Key: "event_type", Value: []byte(e.Type)})
}

// Recorder keeps events in memory for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []string {
	var out []string
	for _, e := range r.Events() {
		out = append(out, e.Type)
	}
	return out
}
