// Package catalog resolves the product facts the order core depends on:
// price, title, approval and owning seller.
package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
)

var ErrProductNotFound = apperr.New(apperr.KindNotFound, "product_not_found", "product not found")

type Product struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	PriceCents int64  `json:"priceCents"`
	Currency   string `json:"currency"`
	Approved   bool   `json:"approved"`
	SellerID   string `json:"sellerId"`
}

// Purchasable reports whether the product may be added to a cart or ordered.
func (p Product) Purchasable() bool { return p.Approved && p.SellerID != "" }

// Catalog is the read side consumed by cart, order builder and wishlist.
type Catalog interface {
	Product(ctx context.Context, id string) (Product, error)
}

// Memory is an in-process catalog used by local runs and tests.
type Memory struct {
	mu       sync.RWMutex
	products map[string]Product
}

func NewMemory(products ...Product) *Memory {
	m := &Memory{products: make(map[string]Product, len(products))}
	for _, p := range products {
		m.products[p.ID] = p
	}
	return m
}

func (m *Memory) Product(_ context.Context, id string) (Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, ErrProductNotFound.With("product %s", id)
	}
	return p, nil
}

func (m *Memory) Upsert(_ context.Context, p Product) error {
	m.mu.Lock()
	m.products[p.ID] = p
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(_ context.Context) ([]Product, error) {
	m.mu.RLock()
	out := make([]Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
