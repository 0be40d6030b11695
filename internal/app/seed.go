package app

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ariefcatur/go-marketplace-core/internal/catalog"
	"github.com/ariefcatur/go-marketplace-core/internal/inventory"
)

// SeedProduct is one entry of a catalog seed file.
type SeedProduct struct {
	ID               string `yaml:"id"`
	Title            string `yaml:"title"`
	PriceCents       int64  `yaml:"priceCents"`
	Currency         string `yaml:"currency"`
	SellerID         string `yaml:"sellerId"`
	Approved         *bool  `yaml:"approved"`
	Stock            int    `yaml:"stock"`
	MaxOrderQuantity int    `yaml:"maxOrderQuantity"`
	AllowBackorder   bool   `yaml:"allowBackorder"`
}

type seedFile struct {
	Products []SeedProduct `yaml:"products"`
}

// LoadSeed reads a YAML catalog seed:
//
//	products:
//	  - id: p-mug
//	    title: Mug
//	    priceCents: 1000
//	    sellerId: seller-1
//	    stock: 25
func LoadSeed(path string) ([]SeedProduct, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed %s: %w", path, err)
	}
	var f seedFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse seed %s: %w", path, err)
	}
	for i, p := range f.Products {
		if p.ID == "" || p.SellerID == "" || p.PriceCents < 0 || p.Stock < 0 {
			return nil, fmt.Errorf("seed %s: product #%d needs an id, a seller and non-negative price and stock", path, i+1)
		}
	}
	return f.Products, nil
}

// CatalogWriter is implemented by catalog.Memory and catalog.Repo.
type CatalogWriter interface {
	Upsert(ctx context.Context, p catalog.Product) error
}

// StockSetter is implemented by *inventory.Ledger.
type StockSetter interface {
	SetStock(ctx context.Context, s inventory.Stock) error
}

// ApplySeed upserts every product and sets its stock level. currency fills
// products that do not name one.
func ApplySeed(ctx context.Context, products []SeedProduct, currency string, cat CatalogWriter, stock StockSetter) error {
	for _, p := range products {
		approved := p.Approved == nil || *p.Approved
		cur := p.Currency
		if cur == "" {
			cur = currency
		}
		if err := cat.Upsert(ctx, catalog.Product{
			ID:         p.ID,
			Title:      p.Title,
			PriceCents: p.PriceCents,
			Currency:   cur,
			Approved:   approved,
			SellerID:   p.SellerID,
		}); err != nil {
			return fmt.Errorf("seed product %s: %w", p.ID, err)
		}
		if err := stock.SetStock(ctx, inventory.Stock{
			ProductID:        p.ID,
			Available:        p.Stock,
			MaxOrderQuantity: p.MaxOrderQuantity,
			AllowBackorder:   p.AllowBackorder,
		}); err != nil {
			return fmt.Errorf("seed stock %s: %w", p.ID, err)
		}
	}
	return nil
}
