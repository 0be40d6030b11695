package orders

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/cart"
	"github.com/ariefcatur/go-marketplace-core/internal/catalog"
	"github.com/ariefcatur/go-marketplace-core/internal/notify"
	"github.com/ariefcatur/go-marketplace-core/internal/observability"
	"github.com/ariefcatur/go-marketplace-core/internal/pricing"
	"github.com/ariefcatur/go-marketplace-core/internal/sequence"
	"github.com/ariefcatur/go-marketplace-core/internal/textx"
)

const maxParallelLookups = 8

var ErrPaymentMethodRequired = apperr.New(apperr.KindValidation, "payment_method_required", "a payment method must be chosen before checkout")

func newOrderID() string { return uuid.NewString() }

// Build turns a checkout snapshot into a pending, unpaid order holding a
// reservation for every line. Nothing is left reserved when it fails.
func (s *Service) Build(ctx context.Context, actor auth.Identity, snap cart.Snapshot) (Order, error) {
	ctx, span := observability.StartSpan(ctx, "orders.build",
		attribute.String("buyer.id", snap.BuyerID), attribute.Int("items", len(snap.Items)))
	o, err := s.build(ctx, actor, snap)
	observability.EndSpan(span, err)

	if err != nil {
		s.metrics.OrderBuild(apperr.KindOf(err).String())
		return Order{}, err
	}
	s.metrics.OrderBuild("ok")
	return o, nil
}

func (s *Service) build(ctx context.Context, actor auth.Identity, snap cart.Snapshot) (Order, error) {
	if actor.Role != auth.RoleBuyer || actor.UserID != snap.BuyerID {
		return Order{}, apperr.Forbidden("only the buyer can check out their cart")
	}
	if err := validateSnapshot(snap); err != nil {
		return Order{}, err
	}

	items := append([]cart.SnapshotItem(nil), snap.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ProductID < items[j].ProductID })

	products, err := s.lookupProducts(ctx, items)
	if err != nil {
		return Order{}, err
	}

	now := s.now().UTC()
	o := Order{
		ID:            s.newID(),
		BuyerID:       snap.BuyerID,
		PaymentMethod: snap.PaymentMethod,
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		Currency:      s.pricing.Currency(),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	lines := make([]pricing.Line, 0, len(items))
	for i, it := range items {
		p := products[i]
		o.Items = append(o.Items, LineItem{
			ProductID: p.ID,
			SellerID:  p.SellerID,
			Title:     p.Title,
			UnitPrice: p.PriceCents,
			Quantity:  it.Quantity,
			LineTotal: p.PriceCents * int64(it.Quantity),
			Notes:     textx.Note(it.Notes),
		})
		lines = append(lines, pricing.Line{UnitPrice: p.PriceCents, Quantity: it.Quantity})
	}

	totals, err := s.pricing.Quote(lines, snap.CouponCode, snap.ShippingMethod, now)
	if err != nil {
		return Order{}, err
	}
	o.Totals = totals
	o.CouponCode = totals.CouponCode
	o.Shipping = Shipping{Address: snap.ShippingAddress, Method: snap.ShippingMethod, Fee: totals.Shipping}
	if o.Shipping.Method == "" {
		o.Shipping.Method = s.pricing.DefaultShipping()
	}

	// Reservations are taken in product id order so concurrent builds over
	// overlapping products acquire per-product locks in the same order.
	for _, it := range items {
		tok, err := s.ledger.Reserve(ctx, it.ProductID, it.Quantity, o.ID)
		if err != nil {
			s.rollback(ctx, o.ID, o.ReservationIDs)
			return Order{}, err
		}
		o.ReservationIDs = append(o.ReservationIDs, tok.ID)
	}

	n, err := s.seq.Next(ctx)
	if err != nil {
		s.rollback(ctx, o.ID, o.ReservationIDs)
		return Order{}, err
	}
	o.Number = sequence.Format(now, n)
	o.History = []HistoryEntry{{To: StatusPending, By: actorOf(actor), At: now}}

	if err := s.repo.Create(ctx, o); err != nil {
		s.rollback(ctx, o.ID, o.ReservationIDs)
		return Order{}, err
	}

	s.logger.Info("order placed",
		zap.String("order_id", o.ID), zap.String("order_number", o.Number),
		zap.String("buyer_id", o.BuyerID), zap.Int64("grand_total", o.Totals.Grand))

	if s.cart != nil {
		if err := s.cart.Absorb(ctx, o.BuyerID, snap.ProductIDs()); err != nil {
			s.logger.Warn("cart absorb failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	s.afterCommit(ctx, o, notify.Event{Type: EventOrderPlaced, Key: o.ID, At: now, Payload: placedPayload(o)})
	return o, nil
}

func validateSnapshot(snap cart.Snapshot) error {
	if len(snap.Items) == 0 {
		return cart.ErrEmptySelection
	}
	seen := make(map[string]bool, len(snap.Items))
	for _, it := range snap.Items {
		if it.Quantity <= 0 {
			return cart.ErrInvalidQuantity.With("quantity must be positive for product %s", it.ProductID)
		}
		if seen[it.ProductID] {
			return apperr.Validation("product %s appears more than once", it.ProductID)
		}
		seen[it.ProductID] = true
	}
	if err := snap.ShippingAddress.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(snap.PaymentMethod) == "" {
		return ErrPaymentMethodRequired
	}
	return nil
}

// lookupProducts re-reads every product; cart prices are never trusted.
func (s *Service) lookupProducts(ctx context.Context, items []cart.SnapshotItem) ([]catalog.Product, error) {
	out := make([]catalog.Product, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLookups)
	for i, it := range items {
		i, it := i, it
		g.Go(func() error {
			p, err := s.catalog.Product(gctx, it.ProductID)
			if apperr.IsKind(err, apperr.KindNotFound) {
				return cart.ErrProductUnavailable.With("product %s not found", it.ProductID)
			}
			if err != nil {
				return err
			}
			if !p.Purchasable() {
				return cart.ErrProductUnavailable.With("product %s is not approved for sale", it.ProductID)
			}
			out[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) rollback(ctx context.Context, orderID string, tokens []string) {
	if len(tokens) == 0 {
		return
	}
	// The caller's context may already be cancelled; the release must still run.
	if err := s.ledger.ReleaseAll(context.WithoutCancel(ctx), tokens); err != nil {
		s.logger.Error("reservation rollback incomplete",
			zap.String("order_id", orderID), zap.Strings("tokens", tokens), zap.Error(err))
	}
}
