package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/cart"
	"github.com/ariefcatur/go-marketplace-core/internal/catalog"
	"github.com/ariefcatur/go-marketplace-core/internal/config"
	"github.com/ariefcatur/go-marketplace-core/internal/inventory"
)

const seedYAML = `
products:
  - id: p-mug
    title: Mug
    priceCents: 1000
    sellerId: seller-1
    stock: 4
  - id: p-draft
    title: Draft
    priceCents: 500
    currency: EUR
    sellerId: seller-2
    approved: false
    stock: 1
    maxOrderQuantity: 1
`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAndApplySeed(t *testing.T) {
	ctx := context.Background()
	products, err := LoadSeed(writeSeed(t, seedYAML))
	require.NoError(t, err)
	require.Len(t, products, 2)

	cat := catalog.NewMemory()
	ledger := inventory.NewLedger(inventory.NewMemoryStore(), nil, nil)
	require.NoError(t, ApplySeed(ctx, products, "USD", cat, ledger))

	mug, err := cat.Product(ctx, "p-mug")
	require.NoError(t, err)
	assert.True(t, mug.Approved, "approved defaults to true")
	assert.Equal(t, "USD", mug.Currency)

	draft, err := cat.Product(ctx, "p-draft")
	require.NoError(t, err)
	assert.False(t, draft.Approved)
	assert.Equal(t, "EUR", draft.Currency)

	st, err := ledger.Availability(ctx, "p-draft")
	require.NoError(t, err)
	assert.Equal(t, 1, st.Available)
	assert.Equal(t, 1, st.MaxOrderQuantity)
}

func TestLoadSeedRejectsIncompleteProducts(t *testing.T) {
	_, err := LoadSeed(writeSeed(t, "products:\n  - id: p-1\n    priceCents: 100\n"))
	assert.ErrorContains(t, err, "product #1")

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewMemoryStackPlacesOrders(t *testing.T) {
	ctx := context.Background()
	cfg := config.Config{
		Storage:         config.StorageMemory,
		ServiceName:     "app-test",
		PaymentMethods:  []string{"card"},
		GatewayTimeout:  time.Second,
		CatalogSeedPath: writeSeed(t, seedYAML),
	}
	a, err := New(ctx, cfg, zap.NewNop(), prometheus.NewRegistry())
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Idempotency)
	assert.Nil(t, a.OrderEvents, "no producers without brokers")
	require.NoError(t, a.Drain(time.Second))

	buyer := auth.Identity{UserID: "buyer-1", Role: auth.RoleBuyer}
	_, err = a.Carts.AddItem(ctx, buyer.UserID, "p-mug", 2, "")
	require.NoError(t, err)
	_, err = a.Carts.SetShippingAddress(ctx, buyer.UserID, cart.Address{Name: "Ann", Line1: "1 Main St", City: "Springfield", Country: "US"})
	require.NoError(t, err)
	_, err = a.Carts.SetPaymentMethod(ctx, buyer.UserID, "card")
	require.NoError(t, err)

	snap, err := a.Carts.CheckoutSnapshot(ctx, buyer.UserID)
	require.NoError(t, err)
	o, err := a.Orders.Build(ctx, buyer, snap)
	require.NoError(t, err)

	in, err := a.Payments.CreateIntent(ctx, buyer, o.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, in.IntentID, "sandbox gateway is used without a Stripe key")
}

func TestNewRejectsUnknownStorage(t *testing.T) {
	_, err := New(context.Background(), config.Config{Storage: "mongo"}, zap.NewNop(), prometheus.NewRegistry())
	assert.Error(t, err)
}
