package orders

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/cart"
	"github.com/ariefcatur/go-marketplace-core/internal/catalog"
	"github.com/ariefcatur/go-marketplace-core/internal/inventory"
	"github.com/ariefcatur/go-marketplace-core/internal/notify"
	"github.com/ariefcatur/go-marketplace-core/internal/pricing"
	"github.com/ariefcatur/go-marketplace-core/internal/redisx"
	"github.com/ariefcatur/go-marketplace-core/internal/sequence"
)

var (
	buyer   = auth.Identity{UserID: "buyer-1", Role: auth.RoleBuyer}
	other   = auth.Identity{UserID: "buyer-2", Role: auth.RoleBuyer}
	seller1 = auth.Identity{UserID: "seller-1", Role: auth.RoleSeller}
	seller9 = auth.Identity{UserID: "seller-9", Role: auth.RoleSeller}
	admin   = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}

	testNow = time.Date(2024, 7, 15, 10, 30, 0, 0, time.UTC)
	address = cart.Address{Name: "Ann", Line1: "1 Main St", City: "Springfield", Country: "US"}
)

type fixture struct {
	svc      *Service
	repo     Repository
	ledger   *inventory.Ledger
	catalog  *catalog.Memory
	carts    *cart.Service
	notifier *notify.Recorder
	cache    *redisx.StatusCache
}

type option func(*Deps)

func withRepo(r Repository) option { return func(d *Deps) { d.Repo = r } }

func newFixture(t *testing.T, opts ...option) fixture {
	t.Helper()
	ctx := context.Background()

	cat := catalog.NewMemory(
		catalog.Product{ID: "p-mug", Title: "Mug", PriceCents: 1000, Currency: "USD", Approved: true, SellerID: "seller-1"},
		catalog.Product{ID: "p-pen", Title: "Pen", PriceCents: 250, Currency: "USD", Approved: true, SellerID: "seller-2"},
		catalog.Product{ID: "p-lamp", Title: "Lamp", PriceCents: 29900, Currency: "USD", Approved: true, SellerID: "seller-1"},
		catalog.Product{ID: "p-last", Title: "Last one", PriceCents: 500, Currency: "USD", Approved: true, SellerID: "seller-2"},
	)
	ledger := inventory.NewLedger(inventory.NewMemoryStore(), nil, nil)
	for _, st := range []inventory.Stock{
		{ProductID: "p-mug", Available: 10},
		{ProductID: "p-pen", Available: 50},
		{ProductID: "p-lamp", Available: 3},
		{ProductID: "p-last", Available: 1},
	} {
		require.NoError(t, ledger.SetStock(ctx, st))
	}
	engine, err := pricing.New(pricing.DefaultConfig())
	require.NoError(t, err)

	carts, err := cart.NewService(cart.Deps{
		Repo:           cart.NewMemoryRepository(),
		Catalog:        cat,
		Stock:          ledger,
		Pricing:        engine,
		PaymentMethods: []string{"card"},
		Clock:          func() time.Time { return testNow },
	})
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	cache := redisx.NewStatusCache(rdb)

	rec := &notify.Recorder{}
	deps := Deps{
		Repo:        NewMemoryRepository(),
		Ledger:      ledger,
		Catalog:     cat,
		Pricing:     engine,
		Sequence:    sequence.NewMemory(0),
		Cart:        carts,
		Notifier:    rec,
		StatusCache: cache,
		Clock:       func() time.Time { return testNow },
	}
	for _, o := range opts {
		o(&deps)
	}
	svc, err := NewService(deps)
	require.NoError(t, err)
	return fixture{svc: svc, repo: deps.Repo, ledger: ledger, catalog: cat, carts: carts, notifier: rec, cache: cache}
}

func snapshot(buyerID string, items ...cart.SnapshotItem) cart.Snapshot {
	return cart.Snapshot{
		BuyerID:         buyerID,
		Items:           items,
		ShippingAddress: address,
		ShippingMethod:  "standard",
		PaymentMethod:   "card",
	}
}

func item(productID string, qty int) cart.SnapshotItem {
	return cart.SnapshotItem{ProductID: productID, Quantity: qty}
}

func (f fixture) stock(t *testing.T, productID string) inventory.Stock {
	t.Helper()
	st, err := f.ledger.Availability(context.Background(), productID)
	require.NoError(t, err)
	return st
}

func (f fixture) place(t *testing.T, items ...cart.SnapshotItem) Order {
	t.Helper()
	o, err := f.svc.Build(context.Background(), buyer, snapshot(buyer.UserID, items...))
	require.NoError(t, err)
	return o
}

// failingRepo fails Create so the builder has to roll back.
type failingRepo struct {
	*MemoryRepository
}

func (failingRepo) Create(context.Context, Order) error { return errors.New("disk full") }
