package payments

import (
	"context"

	segkafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
	"github.com/ariefcatur/go-marketplace-core/internal/kafka"
)

// HandleGatewayMessage is the kafka.Handler for TopicGatewayEvents. Messages
// of other types and undecodable payloads are acknowledged and dropped;
// failures to apply are returned so the message is redelivered.
func (r *Reconciler) HandleGatewayMessage(ctx context.Context, m segkafka.Message) error {
	env, err := kafka.UnmarshalEnvelope(m.Value)
	if err != nil {
		r.logger.Error("drop undecodable gateway message", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != EventGatewayReceived {
		return nil
	}
	ev, err := kafka.UnwrapPayload[GatewayEvent](env.Payload)
	if err != nil {
		r.logger.Error("drop gateway message", zap.String("envelope_id", env.EventID), zap.Error(err))
		return nil
	}
	err = r.ApplyGatewayEvent(ctx, ev)
	if apperr.IsKind(err, apperr.KindValidation) {
		r.logger.Warn("drop invalid gateway event", zap.String("event_id", ev.ID), zap.Error(err))
		return nil
	}
	return err
}
