package orders

import (
	"context"
	"sort"
	"sync"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
)

var (
	ErrNotFound        = apperr.New(apperr.KindNotFound, "order_not_found", "order not found")
	ErrVersionConflict = apperr.New(apperr.KindConflict, "order_version_conflict", "order was modified concurrently")
	ErrAlreadyExists   = apperr.New(apperr.KindConflict, "order_exists", "order already exists")
)

// Repository persists orders. Update writes o only when the stored version
// equals prevVersion, and appends the given history entries.
type Repository interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, id string) (Order, error)
	Update(ctx context.Context, o Order, prevVersion int, appended []HistoryEntry) error
	List(ctx context.Context, f Filter) ([]Order, error)
}

type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]Order)}
}

func (r *MemoryRepository) Create(_ context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return ErrAlreadyExists.With("order %s", o.ID)
	}
	for _, cur := range r.orders {
		if cur.Number == o.Number {
			return ErrAlreadyExists.With("order number %s", o.Number)
		}
	}
	r.orders[o.ID] = o.clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, ErrNotFound.With("order %s", id)
	}
	return o.clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, o Order, prevVersion int, appended []HistoryEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.orders[o.ID]
	if !ok {
		return ErrNotFound.With("order %s", o.ID)
	}
	if cur.Version != prevVersion {
		return ErrVersionConflict.With("order %s is at version %d, expected %d", o.ID, cur.Version, prevVersion)
	}
	next := o.clone()
	next.History = append(cur.History, appended...)
	r.orders[o.ID] = next
	return nil
}

func (r *MemoryRepository) List(_ context.Context, f Filter) ([]Order, error) {
	r.mu.RLock()
	var out []Order
	for _, o := range r.orders {
		if matches(o, f) {
			out = append(out, o.clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].Number > out[j].Number
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return page(out, f), nil
}

func matches(o Order, f Filter) bool {
	if f.BuyerID != "" && o.BuyerID != f.BuyerID {
		return false
	}
	if f.SellerID != "" && !o.HasSeller(f.SellerID) {
		return false
	}
	if f.Status != 0 && o.Status != f.Status {
		return false
	}
	return true
}

func page(in []Order, f Filter) []Order {
	if f.Offset >= len(in) {
		return nil
	}
	in = in[f.Offset:]
	if f.Limit > 0 && f.Limit < len(in) {
		in = in[:f.Limit]
	}
	return in
}
