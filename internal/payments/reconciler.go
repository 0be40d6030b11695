// Package payments reconciles gateway payment state with orders: intent
// creation, confirmation, webhook events and refunds.
package payments

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/metrics"
	"github.com/ariefcatur/go-marketplace-core/internal/observability"
	"github.com/ariefcatur/go-marketplace-core/internal/orders"
	"github.com/ariefcatur/go-marketplace-core/internal/syncx"
	"github.com/ariefcatur/go-marketplace-core/internal/textx"
)

// Orders is the order surface the reconciler drives. *orders.Service
// implements it.
type Orders interface {
	Get(ctx context.Context, actor auth.Identity, id string) (orders.Order, error)
	SetPayment(ctx context.Context, id string, ps orders.PaymentStatus, refunded int64) (orders.Order, error)
	Transition(ctx context.Context, actor auth.Identity, id string, req orders.TransitionRequest) (orders.Order, error)
}

// Deduper drops redelivered gateway events. redisx.Deduper implements it.
type Deduper interface {
	Mark(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type Deps struct {
	Repo    Repository
	Orders  Orders
	Gateway Gateway
	Dedup   Deduper
	Methods []string
	Timeout time.Duration
	Metrics *metrics.Metrics
	Logger  *zap.Logger
	Clock   func() time.Time
}

type Reconciler struct {
	repo    Repository
	orders  Orders
	gateway Gateway
	dedup   Deduper
	methods []string
	timeout time.Duration
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time

	locks  syncx.KeyedMutex
	flight singleflight.Group
}

func NewReconciler(deps Deps) (*Reconciler, error) {
	if deps.Repo == nil || deps.Orders == nil || deps.Gateway == nil {
		return nil, errors.New("payments: repository, orders and gateway are required")
	}
	r := &Reconciler{
		repo:    deps.Repo,
		orders:  deps.Orders,
		gateway: deps.Gateway,
		dedup:   deps.Dedup,
		methods: slices.Clone(deps.Methods),
		timeout: deps.Timeout,
		metrics: deps.Metrics,
		logger:  observability.OrNop(deps.Logger).With(zap.String("gateway", deps.Gateway.Name())),
		now:     time.Now,
	}
	if deps.Clock != nil {
		r.now = deps.Clock
	}
	return r, nil
}

// CreateIntent opens a payment intent for a pending order, or returns the
// outstanding one. Concurrent calls for the same order share one gateway call.
func (r *Reconciler) CreateIntent(ctx context.Context, actor auth.Identity, orderID string) (Intent, error) {
	ctx, span := observability.StartSpan(ctx, "payments.create_intent", attribute.String("order.id", orderID))
	in, err := r.createIntent(ctx, actor, orderID)
	observability.EndSpan(span, err)
	r.metrics.Payment("create_intent", outcome(err))
	return in, err
}

func (r *Reconciler) createIntent(ctx context.Context, actor auth.Identity, orderID string) (Intent, error) {
	o, err := r.orders.Get(ctx, actor, orderID)
	if err != nil {
		return Intent{}, err
	}
	if err := payer(actor, o); err != nil {
		return Intent{}, err
	}
	if o.Status != orders.StatusPending {
		return Intent{}, ErrNotPayable.With("order %s is %s", o.Number, o.Status)
	}
	// The shared call outlives any one caller.
	v, err, _ := r.flight.Do(orderID, func() (any, error) {
		return r.requestIntent(context.WithoutCancel(ctx), o)
	})
	if err != nil {
		return Intent{}, err
	}
	return v.(Intent), nil
}

func (r *Reconciler) requestIntent(ctx context.Context, o orders.Order) (Intent, error) {
	fresh := Record{
		OrderID:   o.ID,
		Status:    StatusCreated,
		Amount:    o.Totals.Grand,
		Currency:  o.Currency,
		CreatedAt: r.now().UTC(),
	}
	rec, err := r.repo.Get(ctx, o.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		rec = fresh
	case err != nil:
		return Intent{}, err
	}
	switch rec.Status {
	case StatusPending:
		if rec.IntentID != "" {
			return intentOf(rec), nil
		}
	case StatusCreated, StatusFailed:
	default:
		return Intent{}, ErrNotPayable.With("payment for order %s is already %s", o.Number, rec.Status)
	}

	// A timed-out attempt keeps its number, so the retry reuses its key.
	n := rec.Attempts + 1
	gctx, cancel := r.gatewayCtx(ctx)
	gi, gerr := r.gateway.CreateIntent(gctx, IntentRequest{
		OrderID:        o.ID,
		Amount:         o.Totals.Grand,
		Currency:       o.Currency,
		Method:         o.PaymentMethod,
		IdempotencyKey: attemptKey(o.ID, n),
	})
	cancel()
	gerr = classify(gerr)

	next, err := r.mutate(ctx, o.ID, &fresh, func(cur *Record) (bool, error) {
		if cur.Attempts >= n || cur.Status.Settled() {
			return false, nil
		}
		switch {
		case gerr == nil:
			cur.IntentID = gi.ID
			cur.ClientSecret = gi.ClientSecret
			cur.TransactionID = gi.TransactionID
			cur.Status = max(gi.Status, StatusPending)
			cur.Attempts = n
			cur.LastError = ""
		case errors.Is(gerr, ErrPaymentRejected):
			cur.Status = StatusFailed
			cur.Attempts = n
			cur.LastError = gerr.Error()
		default:
			cur.Status = StatusFailed
			cur.LastError = gerr.Error()
		}
		return true, nil
	})
	if err != nil {
		return Intent{}, err
	}
	if gerr != nil {
		r.logger.Warn("intent creation failed",
			zap.String("order_id", o.ID), zap.Int("attempt", n), zap.Error(gerr))
		return Intent{}, gerr
	}
	r.logger.Info("intent created",
		zap.String("order_id", o.ID), zap.String("intent_id", next.IntentID), zap.Int("attempt", next.Attempts))
	return intentOf(next), nil
}

// Confirm asks the gateway for the intent's outcome and applies it. A record
// that already completed is returned unchanged.
func (r *Reconciler) Confirm(ctx context.Context, actor auth.Identity, orderID, intentID string) (Record, error) {
	ctx, span := observability.StartSpan(ctx, "payments.confirm",
		attribute.String("order.id", orderID), attribute.String("intent.id", intentID))
	rec, err := r.confirm(ctx, actor, orderID, intentID)
	observability.EndSpan(span, err)
	r.metrics.Payment("confirm", outcome(err))
	return rec, err
}

func (r *Reconciler) confirm(ctx context.Context, actor auth.Identity, orderID, intentID string) (Record, error) {
	o, err := r.orders.Get(ctx, actor, orderID)
	if err != nil {
		return Record{}, err
	}
	if err := payer(actor, o); err != nil {
		return Record{}, err
	}
	rec, err := r.repo.Get(ctx, orderID)
	if err != nil {
		return Record{}, err
	}
	if intentID == "" || rec.IntentID != intentID {
		return Record{}, ErrIntentMismatch.With("intent %s does not belong to order %s", intentID, o.Number)
	}
	if rec.Status.Settled() {
		return rec, nil
	}

	gctx, cancel := r.gatewayCtx(ctx)
	gi, err := r.gateway.GetIntent(gctx, intentID)
	cancel()
	if err != nil {
		return Record{}, classify(err)
	}
	return r.applyStatus(ctx, orderID, intentID, gi.Status, gi.TransactionID, gi.FailureReason)
}

// ApplyGatewayEvent folds a webhook event into the payment record. Redelivered
// events, events for superseded intents and out-of-order regressions are
// dropped.
func (r *Reconciler) ApplyGatewayEvent(ctx context.Context, ev GatewayEvent) error {
	ctx, span := observability.StartSpan(ctx, "payments.gateway_event",
		attribute.String("event.id", ev.ID), attribute.String("event.type", ev.Type))
	err := r.applyEvent(ctx, ev)
	observability.EndSpan(span, err)
	r.metrics.Payment("gateway_event", outcome(err))
	return err
}

func (r *Reconciler) applyEvent(ctx context.Context, ev GatewayEvent) error {
	if ev.ID == "" || ev.IntentID == "" {
		return apperr.Validation("gateway event needs an event id and an intent id")
	}
	if r.dedup != nil {
		first, err := r.dedup.Mark(ctx, ev.ID)
		switch {
		case err != nil:
			r.logger.Warn("event dedup unavailable", zap.String("event_id", ev.ID), zap.Error(err))
		case !first:
			r.logger.Debug("duplicate gateway event", zap.String("event_id", ev.ID))
			return nil
		}
	}
	err := r.dispatch(ctx, ev)
	if err != nil && r.dedup != nil {
		if ferr := r.dedup.Forget(context.WithoutCancel(ctx), ev.ID); ferr != nil {
			r.logger.Warn("event dedup reset failed", zap.String("event_id", ev.ID), zap.Error(ferr))
		}
	}
	return err
}

func (r *Reconciler) dispatch(ctx context.Context, ev GatewayEvent) error {
	rec, err := r.repo.GetByIntent(ctx, ev.IntentID)
	if errors.Is(err, ErrNotFound) && ev.OrderID != "" {
		rec, err = r.repo.Get(ctx, ev.OrderID)
	}
	if errors.Is(err, ErrNotFound) {
		r.logger.Info("gateway event for unknown intent", zap.String("event_id", ev.ID), zap.String("intent_id", ev.IntentID))
		return nil
	}
	if err != nil {
		return err
	}
	if rec.IntentID != ev.IntentID {
		r.logger.Info("gateway event for superseded intent",
			zap.String("event_id", ev.ID), zap.String("intent_id", ev.IntentID), zap.String("current_intent", rec.IntentID))
		return nil
	}

	if ev.IsRefund() {
		_, err := r.mutate(ctx, rec.OrderID, nil, func(cur *Record) (bool, error) {
			rf := Refund{
				ID:              newRefundID(),
				OrderID:         cur.OrderID,
				Amount:          ev.RefundAmount,
				Reason:          "gateway",
				GatewayRefundID: ev.RefundID,
				CreatedAt:       r.now().UTC(),
			}
			if i := cur.heldIndex(ev.RefundRef); i >= 0 {
				h := cur.release(i)
				rf.ID, rf.Reason, rf.CreatedAt = h.ID, h.Reason, h.CreatedAt
				applyRefund(cur, rf)
				return true, nil
			}
			return applyRefund(cur, rf), nil
		})
		return err
	}
	if ev.Status == 0 {
		return nil
	}
	_, err = r.applyStatus(ctx, rec.OrderID, ev.IntentID, ev.Status, ev.TransactionID, "")
	return err
}

// Refund returns amount to the buyer. The amount is held as pending while
// the gateway call is in flight so concurrent refunds cannot exceed the
// captured total. A refund whose outcome is unknown after a gateway failure
// stays held: retrying the same amount resends it under the same idempotency
// key, and the gateway's refund webhook settles it. Only a rejection releases
// the hold.
func (r *Reconciler) Refund(ctx context.Context, actor auth.Identity, orderID string, amount int64, reason string) (Refund, error) {
	ctx, span := observability.StartSpan(ctx, "payments.refund",
		attribute.String("order.id", orderID), attribute.Int64("amount", amount))
	rf, err := r.refund(ctx, actor, orderID, amount, reason)
	observability.EndSpan(span, err)
	r.metrics.Payment("refund", outcome(err))
	return rf, err
}

func (r *Reconciler) refund(ctx context.Context, actor auth.Identity, orderID string, amount int64, reason string) (Refund, error) {
	if actor.Role == auth.RoleBuyer {
		return Refund{}, apperr.Forbidden("buyers cannot issue refunds")
	}
	o, err := r.orders.Get(ctx, actor, orderID)
	if err != nil {
		return Refund{}, err
	}
	var h HeldRefund
	held, err := r.mutate(ctx, orderID, nil, func(cur *Record) (bool, error) {
		if cur.Status != StatusCompleted && cur.Status != StatusPartiallyRefunded {
			return false, ErrNotRefundable.With("payment for order %s is %s", o.Number, cur.Status)
		}
		now := r.now().UTC()
		if i := cur.retryable(amount, now.Add(-r.heldStaleAfter())); i >= 0 {
			cur.Held[i].InFlight = true
			cur.Held[i].SentAt = now
			h = cur.Held[i]
			return true, nil
		}
		if amount <= 0 || amount > cur.Refundable() {
			return false, ErrInvalidAmount.With("refund amount must be between 1 and %d, got %d", cur.Refundable(), amount)
		}
		h = HeldRefund{
			ID:        newRefundID(),
			Amount:    amount,
			Reason:    textx.Note(reason),
			InFlight:  true,
			SentAt:    now,
			CreatedAt: now,
		}
		cur.PendingRefund += amount
		cur.Held = append(cur.Held, h)
		return true, nil
	})
	if err != nil {
		return Refund{}, err
	}

	gctx, cancel := r.gatewayCtx(ctx)
	gr, gerr := r.gateway.Refund(gctx, RefundRequest{
		IntentID:       held.IntentID,
		Amount:         h.Amount,
		Reason:         h.Reason,
		Ref:            h.ID,
		IdempotencyKey: refundKey(orderID, h.ID),
	})
	cancel()
	gerr = classify(gerr)

	next, err := r.mutate(context.WithoutCancel(ctx), orderID, nil, func(cur *Record) (bool, error) {
		i := cur.heldIndex(h.ID)
		if i < 0 {
			// Settled by the gateway's webhook.
			return false, nil
		}
		switch {
		case gerr == nil:
			cur.release(i)
			applyRefund(cur, Refund{
				ID:              h.ID,
				OrderID:         orderID,
				Amount:          h.Amount,
				Reason:          h.Reason,
				GatewayRefundID: gr.ID,
				CreatedAt:       h.CreatedAt,
			})
		case errors.Is(gerr, ErrPaymentRejected):
			cur.release(i)
		default:
			cur.Held[i].InFlight = false
		}
		return true, nil
	})
	if gerr != nil {
		r.logger.Warn("refund failed",
			zap.String("order_id", orderID), zap.String("refund_id", h.ID), zap.Int64("amount", amount),
			zap.Bool("held", !errors.Is(gerr, ErrPaymentRejected)), zap.Error(gerr))
		return Refund{}, gerr
	}
	if err != nil {
		return Refund{}, err
	}
	r.logger.Info("refund issued",
		zap.String("order_id", orderID), zap.Int64("amount", amount), zap.String("gateway_refund_id", gr.ID),
		zap.String("actor_id", actor.UserID), zap.Stringer("status", next.Status))
	for _, stored := range next.Refunds {
		if stored.ID == h.ID || stored.GatewayRefundID == gr.ID {
			return stored, nil
		}
	}
	return Refund{ID: h.ID, OrderID: orderID, Amount: h.Amount, Reason: h.Reason, GatewayRefundID: gr.ID, CreatedAt: h.CreatedAt}, nil
}

// Get returns the payment record to parties of the order.
func (r *Reconciler) Get(ctx context.Context, actor auth.Identity, orderID string) (Record, error) {
	if _, err := r.orders.Get(ctx, actor, orderID); err != nil {
		return Record{}, err
	}
	return r.repo.Get(ctx, orderID)
}

// Methods lists the payment methods buyers may choose at checkout.
func (r *Reconciler) Methods() []string { return slices.Clone(r.methods) }

// SaveMethod stores a payment instrument reference for the calling buyer.
// The first saved method becomes the default.
func (r *Reconciler) SaveMethod(ctx context.Context, actor auth.Identity, kind, label string, makeDefault bool) (SavedMethod, error) {
	if actor.Role != auth.RoleBuyer {
		return SavedMethod{}, apperr.Forbidden("only buyers save payment methods")
	}
	if !slices.Contains(r.methods, kind) {
		return SavedMethod{}, ErrUnsupportedMethod.With("payment method %q is not supported", kind)
	}
	existing, err := r.repo.ListMethods(ctx, actor.UserID)
	if err != nil {
		return SavedMethod{}, err
	}
	m := SavedMethod{
		ID:        ulid.Make().String(),
		BuyerID:   actor.UserID,
		Kind:      kind,
		Label:     textx.Note(label),
		IsDefault: makeDefault || len(existing) == 0,
		CreatedAt: r.now().UTC(),
	}
	if err := r.repo.SaveMethod(ctx, m); err != nil {
		return SavedMethod{}, err
	}
	return m, nil
}

func (r *Reconciler) ListSavedMethods(ctx context.Context, actor auth.Identity) ([]SavedMethod, error) {
	if actor.Role != auth.RoleBuyer {
		return nil, apperr.Forbidden("only buyers have saved payment methods")
	}
	return r.repo.ListMethods(ctx, actor.UserID)
}

func (r *Reconciler) applyStatus(ctx context.Context, orderID, intentID string, st Status, txnID, reason string) (Record, error) {
	return r.mutate(ctx, orderID, nil, func(cur *Record) (bool, error) {
		// Refund states are only reached through refunds.
		if cur.IntentID != intentID || st > StatusCompleted || !st.Supersedes(cur.Status) {
			return false, nil
		}
		cur.Status = st
		if txnID != "" {
			cur.TransactionID = txnID
		}
		if st == StatusFailed {
			cur.LastError = reason
		}
		return true, nil
	})
}

// mutate applies fn to the latest record while holding the order's lock and
// saves it when fn reports a change. The order is brought in line before the
// lock is released so mirrored payment statuses are written in order. fresh
// seeds a record that does not exist yet.
func (r *Reconciler) mutate(ctx context.Context, orderID string, fresh *Record, fn func(*Record) (bool, error)) (Record, error) {
	unlock := r.locks.Lock(orderID)
	defer unlock()

	cur, err := r.repo.Get(ctx, orderID)
	if errors.Is(err, ErrNotFound) && fresh != nil {
		cur, err = fresh.clone(), nil
	}
	if err != nil {
		return Record{}, err
	}
	next := cur.clone()
	changed, err := fn(&next)
	if err != nil {
		return Record{}, err
	}
	if !changed {
		return cur, nil
	}
	next.Version = cur.Version + 1
	next.UpdatedAt = r.now().UTC()
	if err := r.repo.Save(ctx, next, cur.Version); err != nil {
		return Record{}, err
	}
	r.syncOrder(ctx, cur, next)
	return next, nil
}

// syncOrder mirrors the payment status and refunded total and performs the
// automatic order transitions. Failures are logged; the payment record is
// already durable.
func (r *Reconciler) syncOrder(ctx context.Context, prev, next Record) {
	log := r.logger.With(zap.String("order_id", next.OrderID), zap.Stringer("payment_status", next.Status))
	if prev.Version == 0 || prev.Status.OrderStatus() != next.Status.OrderStatus() || prev.Refunded != next.Refunded {
		if _, err := r.orders.SetPayment(ctx, next.OrderID, next.Status.OrderStatus(), next.Refunded); err != nil {
			log.Warn("order payment status not updated", zap.Error(err))
		}
	}
	if next.Status.Settled() && !prev.Status.Settled() {
		_, err := r.orders.Transition(ctx, auth.System, next.OrderID,
			orders.TransitionRequest{To: orders.StatusConfirmed, Note: "payment completed"})
		if err != nil {
			log.Warn("order not auto-confirmed", zap.Error(err))
		} else {
			log.Info("order auto-confirmed")
		}
	}
	if next.Status == StatusRefunded && prev.Status != StatusRefunded {
		o, err := r.orders.Get(ctx, auth.System, next.OrderID)
		if err != nil {
			log.Warn("order lookup after refund failed", zap.Error(err))
			return
		}
		if o.Status != orders.StatusReturned {
			return
		}
		if _, err := r.orders.Transition(ctx, auth.System, next.OrderID,
			orders.TransitionRequest{To: orders.StatusRefunded, Note: "refund completed"}); err != nil {
			log.Warn("returned order not marked refunded", zap.Error(err))
		}
	}
}

// applyRefund records rf once per gateway refund id. Amounts are capped at
// what remains captured.
func applyRefund(cur *Record, rf Refund) bool {
	if !cur.Status.Settled() {
		return false
	}
	if rf.GatewayRefundID != "" && cur.hasGatewayRefund(rf.GatewayRefundID) {
		return false
	}
	rf.Amount = min(rf.Amount, cur.Amount-cur.Refunded)
	if rf.Amount <= 0 {
		return false
	}
	cur.Refunded += rf.Amount
	cur.Refunds = append(cur.Refunds, rf)
	if cur.Refunded >= cur.Amount {
		cur.Status = StatusRefunded
	} else {
		cur.Status = StatusPartiallyRefunded
	}
	return true
}

// payer admits the order's buyer and operators.
func payer(actor auth.Identity, o orders.Order) error {
	switch actor.Role {
	case auth.RoleAdmin, auth.RoleSystem:
		return nil
	case auth.RoleBuyer:
		if o.BuyerID == actor.UserID {
			return nil
		}
	}
	return apperr.Forbidden("%s %s may not pay for order %s", actor.Role, actor.UserID, o.Number)
}

// heldStaleAfter is how long an in-flight refund send may go unresolved before
// another caller may resend it.
func (r *Reconciler) heldStaleAfter() time.Duration { return r.timeout + time.Minute }

func (r *Reconciler) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout > 0 {
		return context.WithTimeout(ctx, r.timeout)
	}
	return context.WithCancel(ctx)
}

func newRefundID() string { return ulid.Make().String() }

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return apperr.KindOf(err).String()
}
