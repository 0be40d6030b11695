// Package cart is the per-buyer staging area that produces checkout snapshots.
package cart

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
	"github.com/ariefcatur/go-marketplace-core/internal/catalog"
	"github.com/ariefcatur/go-marketplace-core/internal/inventory"
	"github.com/ariefcatur/go-marketplace-core/internal/observability"
	"github.com/ariefcatur/go-marketplace-core/internal/pricing"
	"github.com/ariefcatur/go-marketplace-core/internal/textx"
)

// StockReader is the read-only slice of the inventory ledger the cart needs.
type StockReader interface {
	Availability(ctx context.Context, productID string) (inventory.Stock, error)
}

type Deps struct {
	Repo           Repository
	Catalog        catalog.Catalog
	Stock          StockReader
	Pricing        *pricing.Engine
	PaymentMethods []string
	Clock          func() time.Time
	Logger         *zap.Logger
}

type Service struct {
	repo     Repository
	catalog  catalog.Catalog
	stock    StockReader
	pricing  *pricing.Engine
	payments []string
	now      func() time.Time
	logger   *zap.Logger
}

func NewService(deps Deps) (*Service, error) {
	if deps.Repo == nil || deps.Catalog == nil || deps.Stock == nil || deps.Pricing == nil {
		return nil, errors.New("cart: repository, catalog, stock and pricing are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:     deps.Repo,
		catalog:  deps.Catalog,
		stock:    deps.Stock,
		pricing:  deps.Pricing,
		payments: deps.PaymentMethods,
		now:      func() time.Time { return clock().UTC() },
		logger:   observability.OrNop(deps.Logger),
	}, nil
}

func (s *Service) Get(ctx context.Context, buyerID string) (View, error) {
	c, err := s.repo.Get(ctx, buyerID)
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, c)
}

// AddItem puts productID in the cart at exactly qty. An existing line keeps
// its position and selection but takes the new quantity and notes.
func (s *Service) AddItem(ctx context.Context, buyerID, productID string, qty int, notes string) (View, error) {
	if err := s.checkPurchasable(ctx, productID, qty); err != nil {
		return View{}, err
	}
	notes = textx.Note(notes)
	return s.mutate(ctx, buyerID, func(c *Cart) error {
		if i := c.find(productID); i >= 0 {
			c.Items[i].Quantity = qty
			c.Items[i].Notes = notes
			return nil
		}
		c.Items = append(c.Items, Item{ProductID: productID, Quantity: qty, Selected: true, Notes: notes, AddedAt: s.now()})
		return nil
	})
}

func (s *Service) UpdateItem(ctx context.Context, buyerID string, u ItemUpdate) (View, error) {
	return s.BulkUpdate(ctx, buyerID, []ItemUpdate{u})
}

// BulkUpdate applies every update or none. A quantity of zero removes the line.
func (s *Service) BulkUpdate(ctx context.Context, buyerID string, updates []ItemUpdate) (View, error) {
	if len(updates) == 0 {
		return View{}, apperr.Validation("no updates given")
	}
	for _, u := range updates {
		if u.Quantity != nil && *u.Quantity > 0 {
			if err := s.checkPurchasable(ctx, u.ProductID, *u.Quantity); err != nil {
				return View{}, err
			}
		}
		if u.Quantity != nil && *u.Quantity < 0 {
			return View{}, ErrInvalidQuantity.With("quantity must not be negative for product %s", u.ProductID)
		}
	}
	return s.mutate(ctx, buyerID, func(c *Cart) error {
		for _, u := range updates {
			i := c.find(u.ProductID)
			if i < 0 {
				return ErrItemNotFound.With("product %s is not in the cart", u.ProductID)
			}
			if u.Quantity != nil && *u.Quantity == 0 {
				c.remove(u.ProductID)
				continue
			}
			if u.Quantity != nil {
				c.Items[i].Quantity = *u.Quantity
			}
			if u.Notes != nil {
				c.Items[i].Notes = textx.Note(*u.Notes)
			}
			if u.Selected != nil {
				c.Items[i].Selected = *u.Selected
			}
		}
		return nil
	})
}

// RemoveItem is idempotent; removing an absent product succeeds.
func (s *Service) RemoveItem(ctx context.Context, buyerID, productID string) (View, error) {
	return s.mutate(ctx, buyerID, func(c *Cart) error {
		c.remove(productID)
		return nil
	})
}

// SetSelection marks the given products (all products when none are given).
func (s *Service) SetSelection(ctx context.Context, buyerID string, productIDs []string, selected bool) (View, error) {
	return s.mutate(ctx, buyerID, func(c *Cart) error {
		for i := range c.Items {
			if len(productIDs) == 0 || slices.Contains(productIDs, c.Items[i].ProductID) {
				c.Items[i].Selected = selected
			}
		}
		return nil
	})
}

func (s *Service) ApplyCoupon(ctx context.Context, buyerID, code string) (View, error) {
	current, err := s.Get(ctx, buyerID)
	if err != nil {
		return View{}, err
	}
	cp, err := s.pricing.CheckCoupon(code, current.Totals.Subtotal, s.now())
	if err != nil {
		return View{}, err
	}
	return s.mutate(ctx, buyerID, func(c *Cart) error {
		c.CouponCode = cp.Code
		return nil
	})
}

func (s *Service) RemoveCoupon(ctx context.Context, buyerID string) (View, error) {
	return s.mutate(ctx, buyerID, func(c *Cart) error {
		c.CouponCode = ""
		return nil
	})
}

func (s *Service) SetShippingAddress(ctx context.Context, buyerID string, addr Address) (View, error) {
	if err := addr.Validate(); err != nil {
		return View{}, err
	}
	return s.mutate(ctx, buyerID, func(c *Cart) error {
		c.ShippingAddress = &addr
		return nil
	})
}

func (s *Service) SetShippingMethod(ctx context.Context, buyerID, method string) (View, error) {
	if _, err := s.pricing.ShippingMethod(method); err != nil {
		return View{}, err
	}
	return s.mutate(ctx, buyerID, func(c *Cart) error {
		c.ShippingMethod = method
		return nil
	})
}

func (s *Service) SetPaymentMethod(ctx context.Context, buyerID, method string) (View, error) {
	method = strings.ToLower(strings.TrimSpace(method))
	if !slices.Contains(s.payments, method) {
		return View{}, ErrUnsupportedPayment.With("payment method %q is not supported", method)
	}
	return s.mutate(ctx, buyerID, func(c *Cart) error {
		c.PaymentMethod = method
		return nil
	})
}

func (s *Service) Clear(ctx context.Context, buyerID string) error {
	return s.repo.Delete(ctx, buyerID)
}

// CheckoutSnapshot copies the selected lines and preferences. Totals are
// priced against the current catalog.
func (s *Service) CheckoutSnapshot(ctx context.Context, buyerID string) (Snapshot, error) {
	v, err := s.Get(ctx, buyerID)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		BuyerID:        buyerID,
		ShippingMethod: v.Cart.ShippingMethod,
		PaymentMethod:  v.Cart.PaymentMethod,
		CouponCode:     v.Cart.CouponCode,
		Totals:         v.Totals,
		TakenAt:        s.now(),
	}
	if snap.ShippingMethod == "" {
		snap.ShippingMethod = s.pricing.DefaultShipping()
	}
	if v.Cart.ShippingAddress != nil {
		snap.ShippingAddress = *v.Cart.ShippingAddress
	}
	for _, it := range v.Cart.Items {
		if it.Selected {
			snap.Items = append(snap.Items, SnapshotItem{ProductID: it.ProductID, Quantity: it.Quantity, Notes: it.Notes})
		}
	}
	if len(snap.Items) == 0 {
		return Snapshot{}, ErrEmptySelection
	}
	return snap, nil
}

// Absorb drops lines that became part of an order. The coupon goes with them.
func (s *Service) Absorb(ctx context.Context, buyerID string, productIDs []string) error {
	_, err := s.repo.Update(ctx, buyerID, func(c *Cart) error {
		for _, id := range productIDs {
			c.remove(id)
		}
		c.CouponCode = ""
		c.UpdatedAt = s.now()
		return nil
	})
	return err
}

func (s *Service) mutate(ctx context.Context, buyerID string, fn func(*Cart) error) (View, error) {
	c, err := s.repo.Update(ctx, buyerID, func(c *Cart) error {
		c.BuyerID = buyerID
		if err := fn(c); err != nil {
			return err
		}
		c.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return View{}, err
	}
	return s.view(ctx, c)
}

func (s *Service) checkPurchasable(ctx context.Context, productID string, qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity.With("quantity must be positive, got %d", qty)
	}
	p, err := s.catalog.Product(ctx, productID)
	if apperr.IsKind(err, apperr.KindNotFound) {
		return ErrProductUnavailable.With("product %s not found", productID)
	}
	if err != nil {
		return err
	}
	if !p.Purchasable() {
		return ErrProductUnavailable.With("product %s is not approved for sale", productID)
	}
	st, err := s.stock.Availability(ctx, productID)
	if apperr.IsKind(err, apperr.KindNotFound) {
		return ErrProductUnavailable.With("product %s has no stock record", productID)
	}
	if err != nil {
		return err
	}
	if st.MaxOrderQuantity > 0 && qty > st.MaxOrderQuantity {
		return ErrInvalidQuantity.With("quantity %d exceeds max order quantity %d for product %s", qty, st.MaxOrderQuantity, productID)
	}
	return nil
}

func (s *Service) view(ctx context.Context, c Cart) (View, error) {
	v := View{Cart: c, Lines: make([]Line, 0, len(c.Items))}
	var priced []pricing.Line
	for _, it := range c.Items {
		line := Line{Item: it}
		p, err := s.catalog.Product(ctx, it.ProductID)
		switch {
		case err == nil:
			line.Title = p.Title
			line.SellerID = p.SellerID
			line.UnitPrice = p.PriceCents
			line.LineTotal = p.PriceCents * int64(it.Quantity)
			line.Available = p.Purchasable()
		case apperr.IsKind(err, apperr.KindNotFound):
		default:
			return View{}, err
		}
		if line.Available && it.Selected {
			priced = append(priced, pricing.Line{UnitPrice: line.UnitPrice, Quantity: it.Quantity})
		}
		v.Lines = append(v.Lines, line)
	}

	totals, err := s.pricing.Quote(priced, c.CouponCode, c.ShippingMethod, s.now())
	if err != nil {
		s.logger.Warn("cart quote failed", zap.String("buyer_id", c.BuyerID), zap.Error(err))
		return View{}, err
	}
	v.Totals = totals
	return v, nil
}
