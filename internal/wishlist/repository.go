package wishlist

import (
	"context"
	"sort"
	"sync"

	"github.com/ariefcatur/go-marketplace-core/internal/syncx"
)

// Repository stores wishlists. Update runs fn on the current wishlist and
// persists the result; calls for the same wishlist never interleave and an
// error from fn discards the change.
type Repository interface {
	Create(ctx context.Context, w Wishlist) error
	Get(ctx context.Context, id string) (Wishlist, error)
	GetByShareToken(ctx context.Context, token string) (Wishlist, error)
	ListByBuyer(ctx context.Context, buyerID string) ([]Wishlist, error)
	Update(ctx context.Context, id string, fn func(*Wishlist) error) (Wishlist, error)
	Delete(ctx context.Context, id string) error
}

type MemoryRepository struct {
	lists syncx.KeyedMutex

	mu    sync.RWMutex
	byID  map[string]Wishlist
	token map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[string]Wishlist), token: make(map[string]string)}
}

func (r *MemoryRepository) Create(_ context.Context, w Wishlist) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[w.ID] = w.clone()
	r.token[w.ShareToken] = w.ID
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Wishlist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	w, ok := r.byID[id]
	if !ok {
		return Wishlist{}, ErrNotFound.With("wishlist %s", id)
	}
	return w.clone(), nil
}

func (r *MemoryRepository) GetByShareToken(ctx context.Context, token string) (Wishlist, error) {
	r.mu.RLock()
	id, ok := r.token[token]
	r.mu.RUnlock()
	if !ok {
		return Wishlist{}, ErrNotFound.With("shared wishlist")
	}
	return r.Get(ctx, id)
}

func (r *MemoryRepository) ListByBuyer(_ context.Context, buyerID string) ([]Wishlist, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Wishlist
	for _, w := range r.byID {
		if w.BuyerID == buyerID {
			out = append(out, w.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *MemoryRepository) Update(ctx context.Context, id string, fn func(*Wishlist) error) (Wishlist, error) {
	unlock := r.lists.Lock(id)
	defer unlock()

	w, err := r.Get(ctx, id)
	if err != nil {
		return Wishlist{}, err
	}
	if err := fn(&w); err != nil {
		return Wishlist{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return Wishlist{}, ErrNotFound.With("wishlist %s", id)
	}
	r.byID[id] = w.clone()
	return w, nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	unlock := r.lists.Lock(id)
	defer unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.byID[id]
	if !ok {
		return ErrNotFound.With("wishlist %s", id)
	}
	delete(r.token, w.ShareToken)
	delete(r.byID, id)
	return nil
}
