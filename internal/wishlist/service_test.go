package wishlist

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/cart"
	"github.com/ariefcatur/go-marketplace-core/internal/catalog"
	"github.com/ariefcatur/go-marketplace-core/internal/inventory"
	"github.com/ariefcatur/go-marketplace-core/internal/pricing"
)

var (
	ann    = auth.Identity{UserID: "buyer-ann", Role: auth.RoleBuyer}
	bob    = auth.Identity{UserID: "buyer-bob", Role: auth.RoleBuyer}
	seller = auth.Identity{UserID: "seller-1", Role: auth.RoleSeller}
	admin  = auth.Identity{UserID: "admin-1", Role: auth.RoleAdmin}

	testNow = time.Date(2024, 7, 15, 10, 30, 0, 0, time.UTC)
)

type fixture struct {
	svc     *Service
	carts   *cart.Service
	catalog *catalog.Memory
	ledger  *inventory.Ledger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	cat := catalog.NewMemory(
		catalog.Product{ID: "p-mug", Title: "Mug", PriceCents: 1000, Currency: "USD", Approved: true, SellerID: "seller-1"},
		catalog.Product{ID: "p-pen", Title: "Pen", PriceCents: 250, Currency: "USD", Approved: true, SellerID: "seller-2"},
		catalog.Product{ID: "p-gone", Title: "Sold out", PriceCents: 700, Currency: "USD", Approved: true, SellerID: "seller-2"},
		catalog.Product{ID: "p-draft", Title: "Draft", PriceCents: 900, Currency: "USD", Approved: false, SellerID: "seller-1"},
	)
	ledger := inventory.NewLedger(inventory.NewMemoryStore(), nil, nil)
	for _, st := range []inventory.Stock{
		{ProductID: "p-mug", Available: 5},
		{ProductID: "p-pen", Available: 50},
		{ProductID: "p-gone", Available: 0},
		{ProductID: "p-draft", Available: 3},
	} {
		require.NoError(t, ledger.SetStock(ctx, st))
	}
	engine, err := pricing.New(pricing.DefaultConfig())
	require.NoError(t, err)
	carts, err := cart.NewService(cart.Deps{
		Repo:    cart.NewMemoryRepository(),
		Catalog: cat,
		Stock:   ledger,
		Pricing: engine,
		Clock:   func() time.Time { return testNow },
	})
	require.NoError(t, err)

	svc, err := NewService(Deps{
		Repo:    NewMemoryRepository(),
		Catalog: cat,
		Stock:   ledger,
		Cart:    carts,
		Clock:   func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return fixture{svc: svc, carts: carts, catalog: cat, ledger: ledger}
}

func (f fixture) list(t *testing.T, owner auth.Identity, public bool, productIDs ...string) Wishlist {
	t.Helper()
	ctx := context.Background()
	w, err := f.svc.Create(ctx, owner, "Birthday", public)
	require.NoError(t, err)
	for _, pid := range productIDs {
		w, err = f.svc.AddItem(ctx, owner, w.ID, pid, "", 0)
		require.NoError(t, err)
	}
	return w
}

func TestCreateAndItems(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.svc.Create(ctx, ann, "   ", false)
	assert.ErrorIs(t, err, ErrInvalidName)
	_, err = f.svc.Create(ctx, seller, "Stock", false)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	w := f.list(t, ann, false, "p-mug")
	require.Len(t, w.Items, 1)
	assert.Equal(t, PriorityMedium, w.Items[0].Priority)
	assert.Equal(t, int64(1000), w.Items[0].PriceAtAdd)
	assert.Equal(t, testNow, w.Items[0].AddedAt)
	assert.NotEmpty(t, w.ShareToken)

	_, err = f.svc.AddItem(ctx, ann, w.ID, "p-mug", "", PriorityHigh)
	assert.ErrorIs(t, err, ErrItemExists)
	_, err = f.svc.AddItem(ctx, ann, w.ID, "p-none", "", PriorityHigh)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
	_, err = f.svc.AddItem(ctx, bob, w.ID, "p-pen", "", PriorityHigh)
	assert.ErrorIs(t, err, ErrNotOwner)

	high := PriorityHigh
	note := "<i>blue</i> please"
	w, err = f.svc.UpdateItem(ctx, ann, w.ID, "p-mug", ItemUpdate{Priority: &high, Notes: &note})
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, w.Items[0].Priority)
	assert.Equal(t, "blue please", w.Items[0].Notes)

	w, err = f.svc.RemoveItem(ctx, ann, w.ID, "p-mug")
	require.NoError(t, err)
	assert.Empty(t, w.Items)
	_, err = f.svc.RemoveItem(ctx, ann, w.ID, "p-mug")
	assert.ErrorIs(t, err, ErrItemNotFound)
}

func TestUpdateListDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.list(t, ann, false)
	f.list(t, bob, false)

	name, public := "Holidays", true
	w, err := f.svc.Update(ctx, ann, w.ID, Update{Name: &name, IsPublic: &public})
	require.NoError(t, err)
	assert.Equal(t, "Holidays", w.Name)
	assert.True(t, w.IsPublic)

	mine, err := f.svc.List(ctx, ann)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	assert.ErrorIs(t, f.svc.Delete(ctx, bob, w.ID), ErrNotOwner)
	require.NoError(t, f.svc.Delete(ctx, ann, w.ID))
	_, err = f.svc.Get(ctx, ann, w.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetVisibility(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	private := f.list(t, ann, false, "p-mug")
	public := f.list(t, ann, true, "p-mug")

	_, err := f.svc.Get(ctx, bob, private.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	got, err := f.svc.Get(ctx, bob, public.ID)
	require.NoError(t, err)
	assert.Empty(t, got.ShareToken)

	got, err = f.svc.Get(ctx, admin, private.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)
}

func TestMoveToCartSkipsAndReports(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.list(t, ann, false, "p-mug", "p-pen", "p-gone", "p-draft")

	res, err := f.svc.MoveToCart(ctx, ann, w.ID, []MoveRequest{
		{ProductID: "p-mug", Quantity: 2},
		{ProductID: "p-gone", Quantity: 1},
		{ProductID: "p-draft", Quantity: 1},
		{ProductID: "p-pen", Quantity: 0},
		{ProductID: "p-missing", Quantity: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-mug"}, res.Moved)

	codes := map[string]string{}
	for _, s := range res.Skipped {
		codes[s.ProductID] = s.Code
	}
	assert.Equal(t, map[string]string{
		"p-gone":    "out_of_stock",
		"p-draft":   "product_unavailable",
		"p-pen":     "invalid_quantity",
		"p-missing": "wishlist_item_not_found",
	}, codes)

	view, err := f.carts.Get(ctx, ann.UserID)
	require.NoError(t, err)
	require.Len(t, view.Cart.Items, 1)
	assert.Equal(t, "p-mug", view.Cart.Items[0].ProductID)
	assert.Equal(t, 2, view.Cart.Items[0].Quantity)

	st, err := f.ledger.Availability(ctx, "p-mug")
	require.NoError(t, err)
	assert.Zero(t, st.Reserved, "moving to cart takes no hold")

	got, err := f.svc.Get(ctx, ann, w.ID)
	require.NoError(t, err)
	var left []string
	for _, it := range got.Items {
		left = append(left, it.ProductID)
	}
	assert.Equal(t, []string{"p-pen", "p-gone", "p-draft"}, left)
}

func TestMoveToCartUpsertsQuantity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_, err := f.carts.AddItem(ctx, ann.UserID, "p-mug", 4, "")
	require.NoError(t, err)
	w := f.list(t, ann, false, "p-mug")

	res, err := f.svc.MoveToCart(ctx, ann, w.ID, []MoveRequest{{ProductID: "p-mug", Quantity: 1}})
	require.NoError(t, err)
	assert.Equal(t, []string{"p-mug"}, res.Moved)

	view, err := f.carts.Get(ctx, ann.UserID)
	require.NoError(t, err)
	require.Len(t, view.Cart.Items, 1)
	assert.Equal(t, 1, view.Cart.Items[0].Quantity)
}

func TestMoveToCartAuthorization(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.list(t, ann, true, "p-mug")

	_, err := f.svc.MoveToCart(ctx, bob, w.ID, []MoveRequest{{ProductID: "p-mug", Quantity: 1}})
	assert.ErrorIs(t, err, ErrNotOwner)
	_, err = f.svc.MoveToCart(ctx, ann, w.ID, nil)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestCopyAndPublicView(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	private := f.list(t, ann, false, "p-mug")
	public := f.list(t, ann, true, "p-mug", "p-pen")

	_, err := f.svc.Copy(ctx, bob, private.ID)
	assert.ErrorIs(t, err, ErrNotOwner)

	cp, err := f.svc.Copy(ctx, bob, public.ID)
	require.NoError(t, err)
	assert.Equal(t, bob.UserID, cp.BuyerID)
	assert.Equal(t, "Birthday (copy)", cp.Name)
	assert.False(t, cp.IsPublic)
	assert.Len(t, cp.Items, 2)
	assert.NotEqual(t, public.ShareToken, cp.ShareToken)

	view, err := f.svc.PublicView(ctx, public.ShareToken)
	require.NoError(t, err)
	assert.Equal(t, public.ID, view.ID)
	assert.Empty(t, view.ShareToken)

	_, err = f.svc.PublicView(ctx, private.ShareToken)
	assert.ErrorIs(t, err, ErrNotFound, "private lists look missing")
}

func TestPriceDrops(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	w := f.list(t, ann, false, "p-mug", "p-pen")

	require.NoError(t, f.catalog.Upsert(ctx, catalog.Product{ID: "p-mug", Title: "Mug", PriceCents: 800, Currency: "USD", Approved: true, SellerID: "seller-1"}))
	require.NoError(t, f.catalog.Upsert(ctx, catalog.Product{ID: "p-pen", Title: "Pen", PriceCents: 300, Currency: "USD", Approved: true, SellerID: "seller-2"}))

	drops, err := f.svc.PriceDrops(ctx, ann, w.ID)
	require.NoError(t, err)
	require.Len(t, drops, 1)
	assert.Equal(t, PriceDrop{ProductID: "p-mug", Title: "Mug", PriceAtAdd: 1000, CurrentPrice: 800, Drop: 200}, drops[0])
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("HIGH")
	require.NoError(t, err)
	assert.Equal(t, PriorityHigh, p)
	p, err = ParsePriority("")
	require.NoError(t, err)
	assert.Equal(t, PriorityMedium, p)
	_, err = ParsePriority("urgent")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}
