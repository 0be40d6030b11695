// Package orders builds orders from checkout snapshots and drives them
// through their role-gated lifecycle.
package orders

import (
	"context"
	"errors"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/catalog"
	"github.com/ariefcatur/go-marketplace-core/internal/inventory"
	"github.com/ariefcatur/go-marketplace-core/internal/metrics"
	"github.com/ariefcatur/go-marketplace-core/internal/notify"
	"github.com/ariefcatur/go-marketplace-core/internal/observability"
	"github.com/ariefcatur/go-marketplace-core/internal/pricing"
	"github.com/ariefcatur/go-marketplace-core/internal/redisx"
	"github.com/ariefcatur/go-marketplace-core/internal/sequence"
	"github.com/ariefcatur/go-marketplace-core/internal/syncx"
	"github.com/ariefcatur/go-marketplace-core/internal/textx"
)

var (
	ErrInvalidTransition = apperr.New(apperr.KindInvalidState, "invalid_transition", "transition not allowed from current status")
	ErrRoleNotAllowed    = apperr.New(apperr.KindForbidden, "transition_forbidden", "role may not perform this transition")
	ErrNotOwner          = apperr.New(apperr.KindForbidden, "not_order_party", "caller is not a party to this order")
	ErrTrackingRequired  = apperr.New(apperr.KindValidation, "tracking_required", "tracking number and estimated delivery are required")
)

// Ledger is the inventory surface the builder and state machine use.
type Ledger interface {
	Reserve(ctx context.Context, productID string, qty int, ref string) (inventory.Token, error)
	ReleaseAll(ctx context.Context, tokenIDs []string) error
	CommitAll(ctx context.Context, tokenIDs []string) error
}

// CartAbsorber removes checked-out products from the buyer's cart.
type CartAbsorber interface {
	Absorb(ctx context.Context, buyerID string, productIDs []string) error
}

// StatusCache receives the latest status after every committed change and
// serves it back to the status endpoint.
type StatusCache interface {
	Put(ctx context.Context, s redisx.CachedStatus) error
	Get(ctx context.Context, orderID string) (redisx.CachedStatus, bool, error)
}

// Transactor runs fn atomically. postgres.UnitOfWork implements it; memory
// mode runs fn directly.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type direct struct{}

func (direct) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

type Deps struct {
	Repo        Repository
	Ledger      Ledger
	Catalog     catalog.Catalog
	Pricing     *pricing.Engine
	Sequence    sequence.Generator
	Cart        CartAbsorber
	Notifier    notify.Notifier
	StatusCache StatusCache
	Tx          Transactor
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
	Clock       func() time.Time
	IDGen       func() string
}

type Service struct {
	repo     Repository
	ledger   Ledger
	catalog  catalog.Catalog
	pricing  *pricing.Engine
	seq      sequence.Generator
	cart     CartAbsorber
	notifier notify.Notifier
	cache    StatusCache
	tx       Transactor
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string

	locks syncx.KeyedMutex
}

func NewService(deps Deps) (*Service, error) {
	if deps.Repo == nil || deps.Ledger == nil || deps.Catalog == nil || deps.Pricing == nil || deps.Sequence == nil {
		return nil, errors.New("orders: repository, ledger, catalog, pricing and sequence are required")
	}
	s := &Service{
		repo:     deps.Repo,
		ledger:   deps.Ledger,
		catalog:  deps.Catalog,
		pricing:  deps.Pricing,
		seq:      deps.Sequence,
		cart:     deps.Cart,
		notifier: deps.Notifier,
		cache:    deps.StatusCache,
		tx:       deps.Tx,
		metrics:  deps.Metrics,
		logger:   observability.OrNop(deps.Logger),
		now:      time.Now,
		newID:    deps.IDGen,
	}
	if deps.Clock != nil {
		s.now = deps.Clock
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.tx == nil {
		s.tx = direct{}
	}
	if s.newID == nil {
		s.newID = newOrderID
	}
	return s, nil
}

// Get returns the order when actor is its buyer, a seller of one of its
// items, or an admin/system actor.
func (s *Service) Get(ctx context.Context, actor auth.Identity, id string) (Order, error) {
	o, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if err := canRead(actor, o); err != nil {
		return Order{}, err
	}
	return o, nil
}

// Status returns the order's current status, served from the status cache
// when it holds the order. Party checks apply to cached entries too.
func (s *Service) Status(ctx context.Context, actor auth.Identity, id string) (redisx.CachedStatus, error) {
	if s.cache != nil {
		cs, ok, err := s.cache.Get(ctx, id)
		if err != nil {
			s.logger.Warn("status cache read failed", zap.String("order_id", id), zap.Error(err))
		}
		if ok {
			if err := cachedParty(actor, cs); err != nil {
				return redisx.CachedStatus{}, err
			}
			return cs, nil
		}
	}
	o, err := s.Get(ctx, actor, id)
	if err != nil {
		return redisx.CachedStatus{}, err
	}
	cs := cachedStatus(o)
	if s.cache != nil {
		if err := s.cache.Put(ctx, cs); err != nil {
			s.logger.Warn("status cache update failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	return cs, nil
}

// List is scoped by role: buyers see their orders, sellers the orders that
// contain their items, admins everything.
func (s *Service) List(ctx context.Context, actor auth.Identity, f Filter) ([]Order, error) {
	f, err := scope(actor, f)
	if err != nil {
		return nil, err
	}
	return s.repo.List(ctx, f)
}

func (s *Service) Stats(ctx context.Context, actor auth.Identity) (Stats, error) {
	f, err := scope(actor, Filter{})
	if err != nil {
		return Stats{}, err
	}
	list, err := s.repo.List(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{ByStatus: make(map[string]int), Currency: s.pricing.Currency()}
	var paid int64
	for _, o := range list {
		st.Total++
		st.ByStatus[o.Status.String()]++
		if !o.PaymentStatus.Paid() || o.Status == StatusCancelled || o.Status == StatusRejected {
			continue
		}
		if net := o.Totals.Grand - o.RefundedAmount; net > 0 {
			st.Revenue += net
			paid++
		}
	}
	if paid > 0 {
		st.AverageOrderValue = st.Revenue / paid
	}
	return st, nil
}

// Transition applies req to order id on behalf of actor. Checks run in this
// order: the edge exists, the role may take it, the actor is a party to the
// order, shipment details are present. Asking for the current status is a
// no-op once the actor may see the order.
func (s *Service) Transition(ctx context.Context, actor auth.Identity, id string, req TransitionRequest) (Order, error) {
	ctx, span := observability.StartSpan(ctx, "orders.transition",
		attribute.String("order.id", id), attribute.String("to", req.To.String()))
	o, err := s.transition(ctx, actor, id, req)
	observability.EndSpan(span, err)
	return o, err
}

func (s *Service) transition(ctx context.Context, actor auth.Identity, id string, req TransitionRequest) (Order, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if cur.Status == req.To {
		if err := canRead(actor, cur); err != nil {
			return Order{}, err
		}
		return cur, nil
	}
	r, err := authorize(actor, cur, req)
	if err != nil {
		return Order{}, err
	}

	now := s.now().UTC()
	next := cur.clone()
	next.Status = req.To
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	if r.requiresShipment {
		t := *req.Tracking
		next.Tracking = &t
	}
	entry := HistoryEntry{From: cur.Status, To: req.To, By: actorOf(actor), Note: textx.Note(req.Note), At: now}
	next.History = append(next.History, entry)

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		switch r.effect {
		case EffectCommit:
			if err := s.ledger.CommitAll(ctx, cur.ReservationIDs); err != nil {
				return err
			}
		case EffectRelease:
			if err := s.ledger.ReleaseAll(ctx, cur.ReservationIDs); err != nil {
				return err
			}
		}
		return s.repo.Update(ctx, next, cur.Version, []HistoryEntry{entry})
	})
	if err != nil {
		return Order{}, err
	}

	s.metrics.Transition(cur.Status.String(), req.To.String(), actor.Role.String())
	s.logger.Info("order transitioned",
		zap.String("order_id", id), zap.Stringer("from", cur.Status), zap.Stringer("to", req.To),
		zap.String("actor_id", actor.UserID), zap.Stringer("actor_role", actor.Role))
	s.afterCommit(ctx, next, notify.Event{
		Type: EventOrderStatusChanged,
		Key:  next.ID,
		At:   now,
		Payload: StatusChangedPayload{
			OrderID: next.ID, OrderNumber: next.Number, BuyerID: next.BuyerID, SellerIDs: next.SellerIDs(),
			From: cur.Status.String(), To: req.To.String(), ActorID: actor.UserID, ActorRole: actor.Role.String(),
			Tracking: next.Tracking, At: now,
		},
	})
	return next, nil
}

// Cancel is the buyer-facing shortcut for a transition to cancelled.
func (s *Service) Cancel(ctx context.Context, actor auth.Identity, id, reason string) (Order, error) {
	return s.Transition(ctx, actor, id, TransitionRequest{To: StatusCancelled, Note: reason})
}

func (s *Service) InitiateReturn(ctx context.Context, actor auth.Identity, id, reason string) (Order, error) {
	return s.Transition(ctx, actor, id, TransitionRequest{To: StatusReturned, Note: reason})
}

// SetPayment mirrors the payment record onto the order. It never
// changes the order status.
func (s *Service) SetPayment(ctx context.Context, id string, ps PaymentStatus, refunded int64) (Order, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	cur, err := s.repo.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if cur.PaymentStatus == ps && cur.RefundedAmount == refunded {
		return cur, nil
	}
	next := cur.clone()
	next.PaymentStatus = ps
	next.RefundedAmount = refunded
	next.Version = cur.Version + 1
	next.UpdatedAt = s.now().UTC()
	if err := s.repo.Update(ctx, next, cur.Version, nil); err != nil {
		return Order{}, err
	}
	s.afterCommit(ctx, next, notify.Event{
		Type:    EventPaymentUpdated,
		Key:     next.ID,
		At:      next.UpdatedAt,
		Payload: PaymentUpdatedPayload{OrderID: next.ID, BuyerID: next.BuyerID, PaymentStatus: string(ps), RefundedAmount: refunded},
	})
	return next, nil
}

// afterCommit publishes the change; failures are logged only.
func (s *Service) afterCommit(ctx context.Context, o Order, e notify.Event) {
	s.notifier.Notify(ctx, e)
	if s.cache == nil {
		return
	}
	if err := s.cache.Put(ctx, cachedStatus(o)); err != nil {
		s.logger.Warn("status cache update failed", zap.String("order_id", o.ID), zap.Error(err))
	}
}

func authorize(actor auth.Identity, o Order, req TransitionRequest) (rule, error) {
	r, ok := transitions[edge{o.Status, req.To}]
	if !ok {
		if o.Status.Terminal() {
			return rule{}, ErrInvalidTransition.With("order %s is %s and final", o.Number, o.Status)
		}
		return rule{}, ErrInvalidTransition.With("cannot move order %s from %s to %s", o.Number, o.Status, req.To)
	}
	if !r.allows(actor.Role) {
		return rule{}, ErrRoleNotAllowed.With("%s may not move an order from %s to %s", actor.Role, o.Status, req.To)
	}
	if err := isParty(actor, o); err != nil {
		return rule{}, err
	}
	if r.requiresShipment {
		if req.Tracking == nil || req.Tracking.Number == "" || req.Tracking.EstimatedDelivery.IsZero() {
			return rule{}, ErrTrackingRequired
		}
	}
	return r, nil
}

// isParty checks ownership for buyers and sellers; admin and system act on any order.
func isParty(actor auth.Identity, o Order) error {
	switch actor.Role {
	case auth.RoleAdmin, auth.RoleSystem:
		return nil
	case auth.RoleBuyer:
		if o.BuyerID == actor.UserID {
			return nil
		}
	case auth.RoleSeller:
		if o.HasSeller(actor.UserID) {
			return nil
		}
	}
	return ErrNotOwner.With("%s %s is not a party to order %s", actor.Role, actor.UserID, o.Number)
}

func canRead(actor auth.Identity, o Order) error { return isParty(actor, o) }

func cachedParty(actor auth.Identity, cs redisx.CachedStatus) error {
	switch actor.Role {
	case auth.RoleAdmin, auth.RoleSystem:
		return nil
	case auth.RoleBuyer:
		if cs.BuyerID == actor.UserID {
			return nil
		}
	case auth.RoleSeller:
		if slices.Contains(cs.SellerIDs, actor.UserID) {
			return nil
		}
	}
	return ErrNotOwner.With("%s %s is not a party to order %s", actor.Role, actor.UserID, cs.OrderID)
}

func cachedStatus(o Order) redisx.CachedStatus {
	return redisx.CachedStatus{
		OrderID:       o.ID,
		BuyerID:       o.BuyerID,
		SellerIDs:     o.SellerIDs(),
		Status:        o.Status.String(),
		PaymentStatus: string(o.PaymentStatus),
		Version:       o.Version,
		UpdatedAt:     o.UpdatedAt,
	}
}

func scope(actor auth.Identity, f Filter) (Filter, error) {
	switch actor.Role {
	case auth.RoleBuyer:
		f.BuyerID = actor.UserID
	case auth.RoleSeller:
		f.SellerID = actor.UserID
	case auth.RoleAdmin, auth.RoleSystem:
	default:
		return Filter{}, apperr.Forbidden("unknown role")
	}
	return f, nil
}
