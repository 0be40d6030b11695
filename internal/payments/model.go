package payments

import (
	"fmt"
	"slices"
	"time"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
	"github.com/ariefcatur/go-marketplace-core/internal/orders"
)

var (
	ErrNotFound           = apperr.New(apperr.KindNotFound, "payment_not_found", "no payment for order")
	ErrVersionConflict    = apperr.New(apperr.KindConflict, "payment_version_conflict", "payment was modified concurrently")
	ErrGatewayUnavailable = apperr.New(apperr.KindGatewayUnavailable, "gateway_unavailable", "payment gateway unavailable")
	ErrPaymentRejected    = apperr.New(apperr.KindValidation, "payment_rejected", "payment rejected by gateway")
	ErrIntentMismatch     = apperr.New(apperr.KindValidation, "intent_mismatch", "intent does not belong to order")
	ErrNotPayable         = apperr.New(apperr.KindInvalidState, "order_not_payable", "order does not accept payment")
	ErrNotRefundable      = apperr.New(apperr.KindInvalidState, "payment_not_refundable", "payment cannot be refunded")
	ErrInvalidAmount      = apperr.New(apperr.KindValidation, "invalid_refund_amount", "invalid refund amount")
	ErrUnsupportedMethod  = apperr.New(apperr.KindValidation, "unsupported_payment_method", "payment method not supported")
)

// Status is totally ordered: a record only ever moves to a greater value.
type Status uint8

const (
	StatusCreated Status = iota + 1
	StatusPending
	StatusFailed
	StatusCompleted
	StatusPartiallyRefunded
	StatusRefunded
)

var statusNames = map[Status]string{
	StatusCreated:           "created",
	StatusPending:           "pending",
	StatusFailed:            "failed",
	StatusCompleted:         "completed",
	StatusPartiallyRefunded: "partially_refunded",
	StatusRefunded:          "refunded",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "unknown"
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func ParseStatus(s string) (Status, error) {
	for st, n := range statusNames {
		if n == s {
			return st, nil
		}
	}
	return 0, fmt.Errorf("payments: unknown status %q", s)
}

// Supersedes reports whether s is strictly more final than cur.
func (s Status) Supersedes(cur Status) bool { return s > cur }

// Settled is true once money has been captured.
func (s Status) Settled() bool { return s >= StatusCompleted }

// OrderStatus is the value mirrored onto the order.
func (s Status) OrderStatus() orders.PaymentStatus {
	switch s {
	case StatusPending:
		return orders.PaymentPending
	case StatusFailed:
		return orders.PaymentFailed
	case StatusCompleted:
		return orders.PaymentCompleted
	case StatusPartiallyRefunded:
		return orders.PaymentPartiallyRefunded
	case StatusRefunded:
		return orders.PaymentRefunded
	default:
		return orders.PaymentUnpaid
	}
}

type Refund struct {
	ID              string    `json:"id"`
	OrderID         string    `json:"orderId"`
	Amount          int64     `json:"amount"`
	Reason          string    `json:"reason,omitempty"`
	GatewayRefundID string    `json:"gatewayRefundId"`
	CreatedAt       time.Time `json:"createdAt"`
}

// HeldRefund is a refund sent to the gateway whose outcome is not known yet.
// Its amount stays in PendingRefund until the gateway confirms or rejects it;
// retries reuse ID and therefore the idempotency key.
type HeldRefund struct {
	ID        string    `json:"id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason,omitempty"`
	InFlight  bool      `json:"inFlight"`
	SentAt    time.Time `json:"sentAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// Record is the payment of one order. Only the current intent is kept; a new
// attempt supersedes the previous intent.
type Record struct {
	OrderID       string       `json:"orderId"`
	IntentID      string       `json:"intentId,omitempty"`
	ClientSecret  string       `json:"-"`
	Status        Status       `json:"status"`
	TransactionID string       `json:"transactionId,omitempty"`
	Amount        int64        `json:"amount"`
	Currency      string       `json:"currency"`
	Refunded      int64        `json:"refundedAmount"`
	PendingRefund int64        `json:"pendingRefund"`
	Refunds       []Refund     `json:"refunds"`
	Held          []HeldRefund `json:"heldRefunds"`
	Attempts      int          `json:"attempts"`
	LastError     string       `json:"lastError,omitempty"`
	Version       int          `json:"version"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}

// Refundable is what may still be requested back.
func (r Record) Refundable() int64 { return r.Amount - r.Refunded - r.PendingRefund }

func (r Record) hasGatewayRefund(id string) bool {
	for _, rf := range r.Refunds {
		if rf.GatewayRefundID == id {
			return true
		}
	}
	return false
}

func (r Record) heldIndex(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(r.Held, func(h HeldRefund) bool { return h.ID == id })
}

// retryable finds an unresolved refund of amount that no caller is sending.
// A send older than stale is presumed abandoned.
func (r Record) retryable(amount int64, stale time.Time) int {
	return slices.IndexFunc(r.Held, func(h HeldRefund) bool {
		return h.Amount == amount && (!h.InFlight || h.SentAt.Before(stale))
	})
}

// release drops the held refund at i and returns its amount to Refundable.
func (r *Record) release(i int) HeldRefund {
	h := r.Held[i]
	r.PendingRefund = max(r.PendingRefund-h.Amount, 0)
	r.Held = slices.Delete(r.Held, i, i+1)
	return h
}

func (r Record) clone() Record {
	c := r
	c.Refunds = append([]Refund(nil), r.Refunds...)
	c.Held = append([]HeldRefund(nil), r.Held...)
	return c
}

// Intent is what the buyer's client needs to complete payment.
type Intent struct {
	OrderID      string `json:"orderId"`
	IntentID     string `json:"intentId"`
	ClientSecret string `json:"clientSecret"`
	Status       Status `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

func intentOf(r Record) Intent {
	return Intent{
		OrderID:      r.OrderID,
		IntentID:     r.IntentID,
		ClientSecret: r.ClientSecret,
		Status:       r.Status,
		Amount:       r.Amount,
		Currency:     r.Currency,
	}
}

// SavedMethod is a buyer's stored payment instrument reference.
type SavedMethod struct {
	ID        string    `json:"id"`
	BuyerID   string    `json:"buyerId"`
	Kind      string    `json:"kind"`
	Label     string    `json:"label"`
	IsDefault bool      `json:"isDefault"`
	CreatedAt time.Time `json:"createdAt"`
}

// GatewayEvent is a normalized notification from the payment gateway.
type GatewayEvent struct {
	ID            string    `json:"id"`
	Type          string    `json:"type"`
	IntentID      string    `json:"intentId"`
	OrderID       string    `json:"orderId,omitempty"`
	Status        Status    `json:"status,omitempty"`
	TransactionID string    `json:"transactionId,omitempty"`
	RefundID      string    `json:"refundId,omitempty"`
	RefundAmount  int64     `json:"refundAmount,omitempty"`
	RefundRef     string    `json:"refundRef,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
}

// IsRefund reports whether the event carries a refund rather than a status.
func (e GatewayEvent) IsRefund() bool { return e.RefundID != "" }

// TopicGatewayEvents carries verified gateway webhooks keyed by intent id
// from the API to the reconciler worker.
const TopicGatewayEvents = "payment.gateway.events"

// EventGatewayReceived is the envelope type of messages on TopicGatewayEvents.
const EventGatewayReceived = "payment.gateway_event.received"
