package kafka

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer buffers messages and writes them from a single goroutine.
// Publish never blocks; when the buffer is full the message is dropped and
// logged. Send bypasses the buffer for messages that must not be lost.
type Producer struct {
	w       MessageWriter
	inbox   chan kafka.Message
	closeCh chan struct{}
	logger  *zap.Logger
}

func NewProducer(brokers []string, topic string, buf int, logger *zap.Logger) *Producer {
	return NewProducerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
	}, buf, logger)
}

func NewProducerWithWriter(w MessageWriter, buf int, logger *zap.Logger) *Producer {
	if buf <= 0 {
		buf = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		w:       w,
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		logger:  logger,
	}
}

// Start runs the write loop until ctx is done, then flushes what is buffered.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.drain()
				return
			case m := <-p.inbox:
				p.write(m)
			}
		}
	}()
}

func (p *Producer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			if err := p.w.Close(); err != nil {
				p.logger.Warn("kafka writer close", zap.Error(err))
			}
			return
		}
	}
}

const writeTimeout = 10 * time.Second

func (p *Producer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.logger.Error("kafka publish failed", zap.ByteString("key", m.Key), zap.Error(err))
	}
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) {
	m := kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}
	select {
	case p.inbox <- m:
	default:
		p.logger.Warn("kafka producer buffer full, dropping message", zap.ByteString("key", key))
	}
}

// Send writes one message and returns once the broker has acknowledged it.
func (p *Producer) Send(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	m := kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}
	if err := p.w.WriteMessages(ctx, m); err != nil {
		return fmt.Errorf("kafka send: %w", err)
	}
	return nil
}

// WaitClosed blocks until the write loop has flushed and exited.
func (p *Producer) WaitClosed() { <-p.closeCh }
