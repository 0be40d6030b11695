package catalog

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-marketplace-core/internal/postgres"
)

type Repo struct{ DB *pgxpool.Pool }

func (r *Repo) Product(ctx context.Context, id string) (Product, error) {
	var p Product
	err := postgres.Conn(ctx, r.DB).QueryRow(ctx, `
		SELECT id, title, price_cents, currency, approved, seller_id
		FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Title, &p.PriceCents, &p.Currency, &p.Approved, &p.SellerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound.With("product %s", id)
	}
	return p, err
}

func (r *Repo) Upsert(ctx context.Context, p Product) error {
	_, err := postgres.Conn(ctx, r.DB).Exec(ctx, `
		INSERT INTO products(id, title, price_cents, currency, approved, seller_id)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE
		SET title=EXCLUDED.title, price_cents=EXCLUDED.price_cents, currency=EXCLUDED.currency,
		    approved=EXCLUDED.approved, seller_id=EXCLUDED.seller_id, updated_at=now()`,
		p.ID, p.Title, p.PriceCents, p.Currency, p.Approved, p.SellerID)
	return err
}

func (r *Repo) List(ctx context.Context) ([]Product, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `
		SELECT id, title, price_cents, currency, approved, seller_id
		FROM products ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Title, &p.PriceCents, &p.Currency, &p.Approved, &p.SellerID); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
