package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/observability"
)

type stripeIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

type stripeRefundAPI interface {
	New(params *stripe.RefundParams) (*stripe.Refund, error)
}

type StripeConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Logger   *zap.Logger

	intents stripeIntentAPI
	refunds stripeRefundAPI
}

// StripeGateway implements Gateway on Stripe PaymentIntents and Refunds.
type StripeGateway struct {
	intents stripeIntentAPI
	refunds stripeRefundAPI
	logger  *zap.Logger
}

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" && cfg.intents == nil {
		return nil, errors.New("stripe: api key is required")
	}
	g := &StripeGateway{intents: cfg.intents, refunds: cfg.refunds, logger: observability.OrNop(cfg.Logger)}
	if g.intents == nil || g.refunds == nil {
		sc := client.New(key, cfg.Backends)
		g.intents = sc.PaymentIntents
		g.refunds = sc.Refunds
	}
	return g, nil
}

func (g *StripeGateway) Name() string { return "stripe" }

func (g *StripeGateway) CreateIntent(ctx context.Context, req IntentRequest) (GatewayIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		Metadata: map[string]string{"order_id": req.OrderID},
	}
	if req.Method == "card" {
		params.PaymentMethodTypes = stripe.StringSlice([]string{"card"})
	} else {
		params.AutomaticPaymentMethods = &stripe.PaymentIntentAutomaticPaymentMethodsParams{Enabled: stripe.Bool(true)}
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	pi, err := g.intents.New(params)
	if err != nil {
		return GatewayIntent{}, stripeErr("create payment intent", err)
	}
	g.logger.Info("stripe intent created",
		zap.String("order_id", req.OrderID), zap.String("payment_intent", pi.ID), zap.String("status", string(pi.Status)))
	return intentFromStripe(pi), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, intentID string) (GatewayIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.intents.Get(intentID, params)
	if err != nil {
		return GatewayIntent{}, stripeErr("lookup payment intent", err)
	}
	return intentFromStripe(pi), nil
}

func (g *StripeGateway) Refund(ctx context.Context, req RefundRequest) (GatewayRefund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.IntentID),
		Amount:        stripe.Int64(req.Amount),
	}
	if req.Ref != "" {
		params.Metadata = map[string]string{"refund_ref": req.Ref}
	}
	if reason := refundReason(req.Reason); reason != "" {
		params.Reason = stripe.String(reason)
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	rf, err := g.refunds.New(params)
	if err != nil {
		return GatewayRefund{}, stripeErr("refund payment intent", err)
	}
	g.logger.Info("stripe refund created",
		zap.String("payment_intent", req.IntentID), zap.String("refund", rf.ID), zap.Int64("amount", rf.Amount))
	return GatewayRefund{ID: rf.ID, Amount: rf.Amount}, nil
}

func intentStatus(s stripe.PaymentIntentStatus) Status {
	switch s {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusCompleted
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusPending
	}
}

func intentFromStripe(pi *stripe.PaymentIntent) GatewayIntent {
	out := GatewayIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       intentStatus(pi.Status),
		Amount:       pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
	}
	if pi.LatestCharge != nil {
		out.TransactionID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		out.FailureReason = pi.LastPaymentError.Msg
		// requires_payment_method after a decline is a failed attempt
		if pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod {
			out.Status = StatusFailed
		}
	}
	return out
}

// stripeErr sorts Stripe errors into declines and outages.
func stripeErr(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		switch {
		case se.Type == stripe.ErrorTypeCard:
			return ErrPaymentRejected.With("stripe: %s: %s", op, se.Msg)
		case se.HTTPStatusCode >= 500 || se.HTTPStatusCode == 429 || se.Type == stripe.ErrorTypeAPI:
			return ErrGatewayUnavailable.With("stripe: %s: %s", op, se.Msg)
		case se.HTTPStatusCode >= 400:
			return ErrPaymentRejected.With("stripe: %s: %s", op, se.Msg)
		}
	}
	return classify(fmt.Errorf("stripe: %s: %w", op, err))
}

func refundReason(reason string) string {
	switch r := strings.ToLower(strings.TrimSpace(reason)); r {
	case string(stripe.RefundReasonDuplicate), string(stripe.RefundReasonFraudulent), string(stripe.RefundReasonRequestedByCustomer):
		return r
	default:
		return ""
	}
}

// ErrUnhandledEvent marks webhook events the reconciler does not consume.
var ErrUnhandledEvent = errors.New("stripe: unhandled event type")

// ParseWebhook verifies the Stripe-Signature header and normalizes the
// event. Event types the reconciler ignores return ErrUnhandledEvent.
func ParseWebhook(payload []byte, signature, secret string) (GatewayEvent, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return GatewayEvent{}, fmt.Errorf("stripe: verify webhook: %w", err)
	}
	return eventFromStripe(ev)
}

func eventFromStripe(ev stripe.Event) (GatewayEvent, error) {
	out := GatewayEvent{ID: ev.ID, Type: string(ev.Type), OccurredAt: time.Unix(ev.Created, 0).UTC()}
	if ev.Data == nil {
		return GatewayEvent{}, ErrUnhandledEvent
	}
	switch out.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled", "payment_intent.processing":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
			return GatewayEvent{}, fmt.Errorf("stripe: decode payment intent: %w", err)
		}
		gi := intentFromStripe(&pi)
		out.IntentID = pi.ID
		out.OrderID = pi.Metadata["order_id"]
		out.Status = gi.Status
		out.TransactionID = gi.TransactionID
		if out.Type == "payment_intent.payment_failed" {
			out.Status = StatusFailed
		}
		return out, nil
	case "refund.created", "refund.updated":
		var rf stripe.Refund
		if err := json.Unmarshal(ev.Data.Raw, &rf); err != nil {
			return GatewayEvent{}, fmt.Errorf("stripe: decode refund: %w", err)
		}
		if rf.Status == stripe.RefundStatusFailed || rf.Status == stripe.RefundStatusCanceled || rf.PaymentIntent == nil {
			return GatewayEvent{}, ErrUnhandledEvent
		}
		out.IntentID = rf.PaymentIntent.ID
		out.RefundID = rf.ID
		out.RefundAmount = rf.Amount
		out.RefundRef = rf.Metadata["refund_ref"]
		return out, nil
	default:
		return GatewayEvent{}, ErrUnhandledEvent
	}
}
