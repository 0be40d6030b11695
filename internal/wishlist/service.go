// Package wishlist keeps buyers' saved products and moves them into the cart
// on request.
package wishlist

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/cart"
	"github.com/ariefcatur/go-marketplace-core/internal/catalog"
	"github.com/ariefcatur/go-marketplace-core/internal/inventory"
	"github.com/ariefcatur/go-marketplace-core/internal/observability"
	"github.com/ariefcatur/go-marketplace-core/internal/textx"
)

// StockReader checks availability without reserving.
type StockReader interface {
	Availability(ctx context.Context, productID string) (inventory.Stock, error)
}

// CartAdder upserts a product into the buyer's cart at an exact quantity.
type CartAdder interface {
	AddItem(ctx context.Context, buyerID, productID string, qty int, notes string) (cart.View, error)
}

type Deps struct {
	Repo    Repository
	Catalog catalog.Catalog
	Stock   StockReader
	Cart    CartAdder
	Clock   func() time.Time
	Logger  *zap.Logger
}

type Service struct {
	repo    Repository
	catalog catalog.Catalog
	stock   StockReader
	cart    CartAdder
	now     func() time.Time
	logger  *zap.Logger
}

func NewService(deps Deps) (*Service, error) {
	if deps.Repo == nil || deps.Catalog == nil || deps.Stock == nil || deps.Cart == nil {
		return nil, errors.New("wishlist: repository, catalog, stock and cart are required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		repo:    deps.Repo,
		catalog: deps.Catalog,
		stock:   deps.Stock,
		cart:    deps.Cart,
		now:     func() time.Time { return clock().UTC() },
		logger:  observability.OrNop(deps.Logger),
	}, nil
}

func (s *Service) Create(ctx context.Context, actor auth.Identity, name string, public bool) (Wishlist, error) {
	if actor.Role != auth.RoleBuyer {
		return Wishlist{}, apperr.Forbidden("only buyers keep wishlists")
	}
	name, err := validName(textx.Note(name))
	if err != nil {
		return Wishlist{}, err
	}
	now := s.now()
	w := Wishlist{
		ID:         ulid.Make().String(),
		BuyerID:    actor.UserID,
		Name:       name,
		IsPublic:   public,
		ShareToken: newShareToken(),
		Items:      []Item{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.Create(ctx, w); err != nil {
		return Wishlist{}, err
	}
	return w, nil
}

// Get returns the wishlist to its owner and admins, and to anyone when it
// is public. Non-owners never see the share token.
func (s *Service) Get(ctx context.Context, actor auth.Identity, id string) (Wishlist, error) {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return Wishlist{}, err
	}
	if owns(actor, w) {
		return w, nil
	}
	if actor.Role == auth.RoleAdmin || w.IsPublic {
		return w.shared(), nil
	}
	return Wishlist{}, ErrNotOwner.With("wishlist %s", id)
}

func (s *Service) List(ctx context.Context, actor auth.Identity) ([]Wishlist, error) {
	if actor.Role != auth.RoleBuyer {
		return nil, apperr.Forbidden("only buyers keep wishlists")
	}
	return s.repo.ListByBuyer(ctx, actor.UserID)
}

func (s *Service) Update(ctx context.Context, actor auth.Identity, id string, u Update) (Wishlist, error) {
	var name string
	if u.Name != nil {
		n, err := validName(textx.Note(*u.Name))
		if err != nil {
			return Wishlist{}, err
		}
		name = n
	}
	return s.mutate(ctx, actor, id, func(w *Wishlist) error {
		if u.Name != nil {
			w.Name = name
		}
		if u.IsPublic != nil {
			w.IsPublic = *u.IsPublic
		}
		return nil
	})
}

func (s *Service) Delete(ctx context.Context, actor auth.Identity, id string) error {
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if !owns(actor, w) {
		return ErrNotOwner.With("wishlist %s", id)
	}
	return s.repo.Delete(ctx, id)
}

// AddItem saves productID with the catalog price at the time of adding.
func (s *Service) AddItem(ctx context.Context, actor auth.Identity, id, productID, notes string, priority Priority) (Wishlist, error) {
	p, err := s.catalog.Product(ctx, productID)
	if err != nil {
		return Wishlist{}, err
	}
	if priority == 0 {
		priority = PriorityMedium
	}
	notes = textx.Note(notes)
	return s.mutate(ctx, actor, id, func(w *Wishlist) error {
		if w.find(productID) >= 0 {
			return ErrItemExists.With("product %s is already in wishlist %s", productID, w.Name)
		}
		w.Items = append(w.Items, Item{
			ProductID:  productID,
			Notes:      notes,
			Priority:   priority,
			AddedAt:    s.now(),
			PriceAtAdd: p.PriceCents,
		})
		return nil
	})
}

func (s *Service) UpdateItem(ctx context.Context, actor auth.Identity, id, productID string, u ItemUpdate) (Wishlist, error) {
	return s.mutate(ctx, actor, id, func(w *Wishlist) error {
		i := w.find(productID)
		if i < 0 {
			return ErrItemNotFound.With("product %s", productID)
		}
		if u.Notes != nil {
			w.Items[i].Notes = textx.Note(*u.Notes)
		}
		if u.Priority != nil {
			w.Items[i].Priority = *u.Priority
		}
		return nil
	})
}

func (s *Service) RemoveItem(ctx context.Context, actor auth.Identity, id, productID string) (Wishlist, error) {
	return s.mutate(ctx, actor, id, func(w *Wishlist) error {
		i := w.find(productID)
		if i < 0 {
			return ErrItemNotFound.With("product %s", productID)
		}
		w.Items = append(w.Items[:i], w.Items[i+1:]...)
		return nil
	})
}

// MoveToCart puts each requested product into the buyer's cart at the given
// quantity and drops it from the wishlist. Availability is checked without a
// hold. Products that cannot be moved are skipped and reported; the rest of
// the batch still goes through.
func (s *Service) MoveToCart(ctx context.Context, actor auth.Identity, id string, reqs []MoveRequest) (MoveResult, error) {
	if len(reqs) == 0 {
		return MoveResult{}, apperr.Validation("select at least one product to move")
	}
	w, err := s.repo.Get(ctx, id)
	if err != nil {
		return MoveResult{}, err
	}
	if !owns(actor, w) {
		return MoveResult{}, ErrNotOwner.With("wishlist %s", id)
	}

	res := MoveResult{Moved: []string{}, Skipped: []Skipped{}}
	seen := make(map[string]bool, len(reqs))
	for _, req := range reqs {
		if seen[req.ProductID] {
			continue
		}
		seen[req.ProductID] = true

		i := w.find(req.ProductID)
		if i < 0 {
			res.Skipped = append(res.Skipped, skippedFor(req.ProductID, ErrItemNotFound.With("product %s", req.ProductID)))
			continue
		}
		if err := s.available(ctx, req); err != nil {
			res.Skipped = append(res.Skipped, skippedFor(req.ProductID, err))
			continue
		}
		if _, err := s.cart.AddItem(ctx, w.BuyerID, req.ProductID, req.Quantity, w.Items[i].Notes); err != nil {
			res.Skipped = append(res.Skipped, skippedFor(req.ProductID, err))
			continue
		}
		res.Moved = append(res.Moved, req.ProductID)
	}

	if len(res.Moved) > 0 {
		_, err := s.repo.Update(ctx, id, func(w *Wishlist) error {
			for _, pid := range res.Moved {
				if i := w.find(pid); i >= 0 {
					w.Items = append(w.Items[:i], w.Items[i+1:]...)
				}
			}
			w.UpdatedAt = s.now()
			return nil
		})
		if err != nil {
			return MoveResult{}, err
		}
	}
	s.logger.Info("wishlist moved to cart",
		zap.String("wishlist_id", id), zap.Int("moved", len(res.Moved)), zap.Int("skipped", len(res.Skipped)))
	return res, nil
}

func (s *Service) available(ctx context.Context, req MoveRequest) error {
	if req.Quantity <= 0 {
		return cart.ErrInvalidQuantity.With("quantity must be positive, got %d", req.Quantity)
	}
	st, err := s.stock.Availability(ctx, req.ProductID)
	if err != nil {
		return err
	}
	if !st.CanSupply(req.Quantity) {
		return inventory.ErrOutOfStock.With("product %s: requested %d, free %d", req.ProductID, req.Quantity, st.Free())
	}
	return nil
}

// Copy duplicates an owned or public wishlist into a new private wishlist
// for the caller.
func (s *Service) Copy(ctx context.Context, actor auth.Identity, id string) (Wishlist, error) {
	src, err := s.Get(ctx, actor, id)
	if err != nil {
		return Wishlist{}, err
	}
	dst, err := s.Create(ctx, actor, copyName(src.Name), false)
	if err != nil {
		return Wishlist{}, err
	}
	if len(src.Items) == 0 {
		return dst, nil
	}
	now := s.now()
	return s.repo.Update(ctx, dst.ID, func(w *Wishlist) error {
		for _, it := range src.Items {
			it.AddedAt = now
			w.Items = append(w.Items, it)
		}
		w.UpdatedAt = now
		return nil
	})
}

// PublicView resolves a share token. Private wishlists look missing.
func (s *Service) PublicView(ctx context.Context, token string) (Wishlist, error) {
	w, err := s.repo.GetByShareToken(ctx, strings.TrimSpace(token))
	if err != nil {
		return Wishlist{}, err
	}
	if !w.IsPublic {
		return Wishlist{}, ErrNotFound.With("shared wishlist")
	}
	return w.shared(), nil
}

// PriceDrops lists items whose catalog price is now below the price when
// they were added. Products gone from the catalog are left out.
func (s *Service) PriceDrops(ctx context.Context, actor auth.Identity, id string) ([]PriceDrop, error) {
	w, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	drops := []PriceDrop{}
	for _, it := range w.Items {
		p, err := s.catalog.Product(ctx, it.ProductID)
		if apperr.IsKind(err, apperr.KindNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if p.PriceCents < it.PriceAtAdd {
			drops = append(drops, PriceDrop{
				ProductID:    it.ProductID,
				Title:        p.Title,
				PriceAtAdd:   it.PriceAtAdd,
				CurrentPrice: p.PriceCents,
				Drop:         it.PriceAtAdd - p.PriceCents,
			})
		}
	}
	return drops, nil
}

func (s *Service) mutate(ctx context.Context, actor auth.Identity, id string, fn func(*Wishlist) error) (Wishlist, error) {
	return s.repo.Update(ctx, id, func(w *Wishlist) error {
		if !owns(actor, *w) {
			return ErrNotOwner.With("wishlist %s", id)
		}
		if err := fn(w); err != nil {
			return err
		}
		w.UpdatedAt = s.now()
		return nil
	})
}

func owns(actor auth.Identity, w Wishlist) bool {
	return actor.Role == auth.RoleBuyer && actor.UserID == w.BuyerID
}

func newShareToken() string { return strings.ToLower(ulid.Make().String()) }

func copyName(name string) string {
	name += " (copy)"
	if r := []rune(name); len(r) > maxNameLen {
		return string(r[:maxNameLen])
	}
	return name
}
