package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
)

func TestMemoryCatalog(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(Product{ID: "b", Title: "Mug", PriceCents: 1200, Approved: true, SellerID: "s1"})
	require.NoError(t, c.Upsert(ctx, Product{ID: "a", Title: "Pen", PriceCents: 300}))

	p, err := c.Product(ctx, "b")
	require.NoError(t, err)
	assert.True(t, p.Purchasable())

	p, err = c.Product(ctx, "a")
	require.NoError(t, err)
	assert.False(t, p.Purchasable(), "not approved")

	_, err = c.Product(ctx, "zzz")
	assert.ErrorIs(t, err, ErrProductNotFound)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	all, err := c.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
}
