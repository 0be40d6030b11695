package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
)

// Gateway is the payment service provider. Implementations return
// ErrPaymentRejected for declines and ErrGatewayUnavailable for timeouts and
// outages so the reconciler can tell them apart.
type Gateway interface {
	Name() string
	CreateIntent(ctx context.Context, req IntentRequest) (GatewayIntent, error)
	GetIntent(ctx context.Context, intentID string) (GatewayIntent, error)
	Refund(ctx context.Context, req RefundRequest) (GatewayRefund, error)
}

type IntentRequest struct {
	OrderID        string
	Amount         int64
	Currency       string
	Method         string
	IdempotencyKey string
}

type GatewayIntent struct {
	ID            string
	ClientSecret  string
	Status        Status
	TransactionID string
	Amount        int64
	Currency      string
	FailureReason string
}

// RefundRequest asks for money back on an intent. Ref is echoed on the
// gateway's refund webhooks so they can be matched to the request.
type RefundRequest struct {
	IntentID       string
	Amount         int64
	Reason         string
	Ref            string
	IdempotencyKey string
}

type GatewayRefund struct {
	ID     string
	Amount int64
}

func attemptKey(orderID string, n int) string {
	return fmt.Sprintf("order:%s:attempt:%d", orderID, n)
}

func refundKey(orderID, refundID string) string {
	return fmt.Sprintf("order:%s:refund:%s", orderID, refundID)
}

// classify maps context expiry onto ErrGatewayUnavailable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrPaymentRejected) || errors.Is(err, ErrGatewayUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ErrGatewayUnavailable.With("gateway call timed out: %v", err)
	}
	return ErrGatewayUnavailable.With("gateway error: %v", err)
}

// SandboxGateway is a deterministic in-memory PSP. Intents start pending and
// succeed the first time they are looked up, unless declined.
type SandboxGateway struct {
	mu       sync.Mutex
	intents  map[string]*GatewayIntent
	byKey    map[string]string
	refunds  map[string]GatewayRefund
	declined map[string]string
	outage   bool
	created  int
}

func NewSandboxGateway() *SandboxGateway {
	return &SandboxGateway{
		intents:  make(map[string]*GatewayIntent),
		byKey:    make(map[string]string),
		refunds:  make(map[string]GatewayRefund),
		declined: make(map[string]string),
	}
}

func (g *SandboxGateway) Name() string { return "sandbox" }

// Decline makes every new intent for orderID fail with reason.
func (g *SandboxGateway) Decline(orderID, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if reason == "" {
		delete(g.declined, orderID)
		return
	}
	g.declined[orderID] = reason
}

// SetOutage makes every call fail with ErrGatewayUnavailable while on.
func (g *SandboxGateway) SetOutage(on bool) {
	g.mu.Lock()
	g.outage = on
	g.mu.Unlock()
}

// SetIntentStatus forces the gateway-side status of an intent.
func (g *SandboxGateway) SetIntentStatus(intentID string, s Status) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if in, ok := g.intents[intentID]; ok {
		in.Status = s
	}
}

// Created is the number of distinct intents created so far.
func (g *SandboxGateway) Created() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.created
}

func (g *SandboxGateway) CreateIntent(ctx context.Context, req IntentRequest) (GatewayIntent, error) {
	if err := ctx.Err(); err != nil {
		return GatewayIntent{}, classify(err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.outage {
		return GatewayIntent{}, ErrGatewayUnavailable.With("sandbox outage")
	}
	if id, ok := g.byKey[req.IdempotencyKey]; ok {
		return *g.intents[id], nil
	}
	if reason, ok := g.declined[req.OrderID]; ok {
		return GatewayIntent{}, ErrPaymentRejected.With("sandbox declined: %s", reason)
	}
	id := "pi_sbx_" + strings.ToLower(ulid.Make().String())
	in := &GatewayIntent{
		ID:           id,
		ClientSecret: id + "_secret",
		Status:       StatusPending,
		Amount:       req.Amount,
		Currency:     req.Currency,
	}
	g.intents[id] = in
	if req.IdempotencyKey != "" {
		g.byKey[req.IdempotencyKey] = id
	}
	g.created++
	return *in, nil
}

func (g *SandboxGateway) GetIntent(ctx context.Context, intentID string) (GatewayIntent, error) {
	if err := ctx.Err(); err != nil {
		return GatewayIntent{}, classify(err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.outage {
		return GatewayIntent{}, ErrGatewayUnavailable.With("sandbox outage")
	}
	in, ok := g.intents[intentID]
	if !ok {
		return GatewayIntent{}, ErrIntentMismatch.With("unknown intent %s", intentID)
	}
	if in.Status == StatusPending {
		in.Status = StatusCompleted
		in.TransactionID = "txn_" + strings.TrimPrefix(in.ID, "pi_")
	}
	return *in, nil
}

func (g *SandboxGateway) Refund(ctx context.Context, req RefundRequest) (GatewayRefund, error) {
	if err := ctx.Err(); err != nil {
		return GatewayRefund{}, classify(err)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.outage {
		return GatewayRefund{}, ErrGatewayUnavailable.With("sandbox outage")
	}
	if rf, ok := g.refunds[req.IdempotencyKey]; ok {
		return rf, nil
	}
	if _, ok := g.intents[req.IntentID]; !ok {
		return GatewayRefund{}, ErrPaymentRejected.With("unknown intent %s", req.IntentID)
	}
	rf := GatewayRefund{ID: "re_sbx_" + strings.ToLower(ulid.Make().String()), Amount: req.Amount}
	if req.IdempotencyKey != "" {
		g.refunds[req.IdempotencyKey] = rf
	}
	return rf, nil
}
