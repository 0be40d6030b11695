package httpx

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	segkafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
	"github.com/ariefcatur/go-marketplace-core/internal/kafka"
	"github.com/ariefcatur/go-marketplace-core/internal/observability"
	"github.com/ariefcatur/go-marketplace-core/internal/payments"
)

const maxWebhookBody = 64 << 10

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Send(ctx context.Context, key, value []byte, headers ...segkafka.Header) error
}

// WebhookHandler verifies gateway webhooks. With a Publisher the event is
// written to Kafka for the reconciler worker before the gateway gets a 2xx;
// if the write fails, or there is no Publisher, it is applied inline. The
// gateway sees a 5xx, and redelivers, only when neither path stored it.
type WebhookHandler struct {
	Secret     string
	Publisher  Publisher
	Reconciler *payments.Reconciler
	Service    string

	// Parse defaults to payments.ParseWebhook.
	Parse func(payload []byte, signature, secret string) (payments.GatewayEvent, error)
}

func (h *WebhookHandler) Register(r chi.Router) {
	r.Post("/webhooks/stripe", h.stripe)
}

func (h *WebhookHandler) stripe(w http.ResponseWriter, r *http.Request) {
	logger := observability.FromContext(r.Context(), nil)
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, r, apperr.Validation("read webhook body: %v", err))
		return
	}
	parse := h.Parse
	if parse == nil {
		parse = payments.ParseWebhook
	}
	ev, err := parse(payload, r.Header.Get("Stripe-Signature"), h.Secret)
	if errors.Is(err, payments.ErrUnhandledEvent) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}
	if err != nil {
		logger.Warn("webhook rejected", zap.Error(err))
		writeError(w, r, apperr.Validation("invalid webhook signature or payload"))
		return
	}

	if h.Publisher != nil {
		env, err := kafka.NewEnvelope(payments.EventGatewayReceived, h.Service, ev.OrderID, time.Now(), ev)
		if err != nil {
			writeError(w, r, err)
			return
		}
		env.TraceID = r.Header.Get("X-Request-Id")
		err = h.Publisher.Send(r.Context(), []byte(ev.IntentID), kafka.MustMarshal(env),
			segkafka.Header{Key: "event_type", Value: []byte(payments.EventGatewayReceived)})
		if err == nil {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
			return
		}
		if h.Reconciler == nil {
			writeError(w, r, apperr.Wrap(apperr.KindInternal, "event_queue_unavailable", err))
			return
		}
		logger.Warn("webhook not queued, applying inline", zap.String("event_id", ev.ID), zap.Error(err))
	}
	if err := h.Reconciler.ApplyGatewayEvent(r.Context(), ev); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "applied"})
}
