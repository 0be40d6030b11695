package cart

import (
	"context"
	"sync"

	"github.com/ariefcatur/go-marketplace-core/internal/syncx"
)

// Repository stores one cart per buyer. Update runs fn against the current
// cart (an empty one if none exists) and persists the result; calls for the
// same buyer never interleave. Returning an error from fn discards changes.
type Repository interface {
	Get(ctx context.Context, buyerID string) (Cart, error)
	Update(ctx context.Context, buyerID string, fn func(*Cart) error) (Cart, error)
	Delete(ctx context.Context, buyerID string) error
}

type MemoryRepository struct {
	buyers syncx.KeyedMutex

	mu    sync.RWMutex
	carts map[string]Cart
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{carts: make(map[string]Cart)}
}

func (r *MemoryRepository) Get(_ context.Context, buyerID string) (Cart, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.carts[buyerID]
	if !ok {
		return Cart{BuyerID: buyerID}, nil
	}
	return c.clone(), nil
}

func (r *MemoryRepository) Update(ctx context.Context, buyerID string, fn func(*Cart) error) (Cart, error) {
	unlock := r.buyers.Lock(buyerID)
	defer unlock()

	c, _ := r.Get(ctx, buyerID)
	if err := fn(&c); err != nil {
		return Cart{}, err
	}
	r.mu.Lock()
	r.carts[buyerID] = c.clone()
	r.mu.Unlock()
	return c, nil
}

func (r *MemoryRepository) Delete(_ context.Context, buyerID string) error {
	unlock := r.buyers.Lock(buyerID)
	defer unlock()

	r.mu.Lock()
	delete(r.carts, buyerID)
	r.mu.Unlock()
	return nil
}
