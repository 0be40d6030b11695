package wishlist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-marketplace-core/internal/postgres"
)

// Repo keeps wishlists in Postgres with items as a JSONB array.
type Repo struct{ DB *pgxpool.Pool }

const wishlistColumns = `id, buyer_id, name, is_public, share_token, items, created_at, updated_at`

func (r *Repo) Create(ctx context.Context, w Wishlist) error {
	items, err := json.Marshal(w.Items)
	if err != nil {
		return err
	}
	_, err = postgres.Conn(ctx, r.DB).Exec(ctx, `
		INSERT INTO wishlists(`+wishlistColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		w.ID, w.BuyerID, w.Name, w.IsPublic, w.ShareToken, items, w.CreatedAt, w.UpdatedAt)
	return err
}

func (r *Repo) Get(ctx context.Context, id string) (Wishlist, error) {
	return r.one(ctx, postgres.Conn(ctx, r.DB), `SELECT `+wishlistColumns+` FROM wishlists WHERE id=$1`, id)
}

func (r *Repo) GetByShareToken(ctx context.Context, token string) (Wishlist, error) {
	return r.one(ctx, postgres.Conn(ctx, r.DB), `SELECT `+wishlistColumns+` FROM wishlists WHERE share_token=$1`, token)
}

func (r *Repo) ListByBuyer(ctx context.Context, buyerID string) ([]Wishlist, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx,
		`SELECT `+wishlistColumns+` FROM wishlists WHERE buyer_id=$1 ORDER BY created_at, id`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Wishlist
	for rows.Next() {
		w, err := scanWishlist(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *Repo) Update(ctx context.Context, id string, fn func(*Wishlist) error) (Wishlist, error) {
	var out Wishlist
	err := (&postgres.UnitOfWork{Pool: r.DB}).RunInTx(ctx, func(ctx context.Context) error {
		q := postgres.Conn(ctx, r.DB)
		w, err := r.one(ctx, q, `SELECT `+wishlistColumns+` FROM wishlists WHERE id=$1 FOR UPDATE`, id)
		if err != nil {
			return err
		}
		if err := fn(&w); err != nil {
			return err
		}
		items, err := json.Marshal(w.Items)
		if err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `
			UPDATE wishlists SET name=$2, is_public=$3, items=$4, updated_at=$5 WHERE id=$1`,
			id, w.Name, w.IsPublic, items, w.UpdatedAt); err != nil {
			return err
		}
		out = w
		return nil
	})
	return out, err
}

func (r *Repo) Delete(ctx context.Context, id string) error {
	ct, err := postgres.Conn(ctx, r.DB).Exec(ctx, `DELETE FROM wishlists WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound.With("wishlist %s", id)
	}
	return nil
}

func (r *Repo) one(ctx context.Context, q postgres.Querier, sql, arg string) (Wishlist, error) {
	w, err := scanWishlist(q.QueryRow(ctx, sql, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return Wishlist{}, ErrNotFound.With("wishlist %s", arg)
	}
	return w, err
}

func scanWishlist(row pgx.Row) (Wishlist, error) {
	var (
		w     Wishlist
		items []byte
	)
	if err := row.Scan(&w.ID, &w.BuyerID, &w.Name, &w.IsPublic, &w.ShareToken, &items, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wishlist{}, err
	}
	if err := json.Unmarshal(items, &w.Items); err != nil {
		return Wishlist{}, fmt.Errorf("decode wishlist items: %w", err)
	}
	return w, nil
}
