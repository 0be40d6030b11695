package inventory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ariefcatur/go-marketplace-core/internal/syncx"
)

// MemoryStore keeps stock in process. Record fields are only touched while
// holding that product's lock; mu guards the maps themselves.
type MemoryStore struct {
	products syncx.KeyedMutex

	mu     sync.RWMutex
	stocks map[string]*Stock
	tokens map[string]*Token

	now func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		stocks: make(map[string]*Stock),
		tokens: make(map[string]*Token),
		now:    time.Now,
	}
}

func (s *MemoryStore) stock(productID string) (*Stock, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.stocks[productID]
	return st, ok
}

func (s *MemoryStore) token(id string) (*Token, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tokens[id]
	return t, ok
}

func (s *MemoryStore) Reserve(_ context.Context, productID string, qty int, ref string) (Token, error) {
	unlock := s.products.Lock(productID)
	defer unlock()

	st, ok := s.stock(productID)
	if !ok {
		return Token{}, ErrUnknownProduct.With("product %s", productID)
	}
	if err := st.checkQuantity(qty); err != nil {
		return Token{}, err
	}
	if !st.CanSupply(qty) {
		return Token{}, ErrOutOfStock.With("product %s: requested %d, free %d", productID, qty, st.Free())
	}
	st.Reserved += qty

	now := s.now().UTC()
	t := &Token{
		ID:        uuid.NewString(),
		ProductID: productID,
		Quantity:  qty,
		State:     TokenReserved,
		Ref:       ref,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.tokens[t.ID] = t
	s.mu.Unlock()
	return *t, nil
}

func (s *MemoryStore) Release(_ context.Context, tokenID string) (Token, error) {
	t, ok := s.token(tokenID)
	if !ok {
		return Token{}, ErrTokenNotFound.With("reservation %s", tokenID)
	}
	unlock := s.products.Lock(t.ProductID)
	defer unlock()

	if t.State != TokenReserved {
		return *t, nil
	}
	if st, ok := s.stock(t.ProductID); ok {
		st.Reserved -= t.Quantity
	}
	t.State = TokenReleased
	t.UpdatedAt = s.now().UTC()
	return *t, nil
}

func (s *MemoryStore) Commit(_ context.Context, tokenID string) (Token, error) {
	t, ok := s.token(tokenID)
	if !ok {
		return Token{}, ErrTokenNotFound.With("reservation %s", tokenID)
	}
	unlock := s.products.Lock(t.ProductID)
	defer unlock()

	switch t.State {
	case TokenCommitted:
		return *t, nil
	case TokenReleased:
		return *t, ErrTokenReleased.With("reservation %s", tokenID)
	}
	st, ok := s.stock(t.ProductID)
	if !ok {
		return Token{}, ErrUnknownProduct.With("product %s", t.ProductID)
	}
	st.Reserved -= t.Quantity
	// Backordered units beyond what is on hand never drive availability below zero.
	st.Available = max(st.Available-t.Quantity, 0)
	t.State = TokenCommitted
	t.UpdatedAt = s.now().UTC()
	return *t, nil
}

func (s *MemoryStore) Stock(_ context.Context, productID string) (Stock, error) {
	unlock := s.products.Lock(productID)
	defer unlock()

	st, ok := s.stock(productID)
	if !ok {
		return Stock{}, ErrUnknownProduct.With("product %s", productID)
	}
	return *st, nil
}

// SetStock creates or replaces a record; outstanding reservations are kept.
func (s *MemoryStore) SetStock(_ context.Context, in Stock) error {
	if in.Available < 0 {
		return ErrInvalidQuantity.With("available quantity must not be negative")
	}
	unlock := s.products.Lock(in.ProductID)
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.stocks[in.ProductID]; ok {
		in.Reserved = cur.Reserved
	} else {
		in.Reserved = 0
	}
	if !in.AllowBackorder && in.Reserved > in.Available {
		return ErrInvalidQuantity.With("available %d below reserved %d for product %s", in.Available, in.Reserved, in.ProductID)
	}
	cp := in
	s.stocks[in.ProductID] = &cp
	return nil
}

func (s *MemoryStore) Token(_ context.Context, tokenID string) (Token, error) {
	t, ok := s.token(tokenID)
	if !ok {
		return Token{}, ErrTokenNotFound.With("reservation %s", tokenID)
	}
	unlock := s.products.Lock(t.ProductID)
	defer unlock()
	return *t, nil
}
