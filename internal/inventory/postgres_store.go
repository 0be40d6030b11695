package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-marketplace-core/internal/postgres"
)

// PostgresStore relies on the stock row lock (SELECT ... FOR UPDATE) for
// per-product serialization and on conditional token updates for
// release/commit idempotency. Calls join the caller's unit of work when one
// is bound to ctx.
type PostgresStore struct {
	pool *pgxpool.Pool
	uow  *postgres.UnitOfWork
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, uow: &postgres.UnitOfWork{Pool: pool}}
}

func (s *PostgresStore) Reserve(ctx context.Context, productID string, qty int, ref string) (Token, error) {
	var tok Token
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		q := postgres.Conn(ctx, s.pool)

		st := Stock{ProductID: productID}
		err := q.QueryRow(ctx, `
			SELECT available, reserved, max_order_quantity, allow_backorder
			FROM stock WHERE product_id=$1 FOR UPDATE`, productID).
			Scan(&st.Available, &st.Reserved, &st.MaxOrderQuantity, &st.AllowBackorder)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrUnknownProduct.With("product %s", productID)
		}
		if err != nil {
			return err
		}
		if err := st.checkQuantity(qty); err != nil {
			return err
		}
		if !st.CanSupply(qty) {
			return ErrOutOfStock.With("product %s: requested %d, free %d", productID, qty, st.Free())
		}

		if _, err := q.Exec(ctx, `UPDATE stock SET reserved = reserved + $2, updated_at = now() WHERE product_id=$1`, productID, qty); err != nil {
			return err
		}

		now := time.Now().UTC()
		tok = Token{ID: uuid.NewString(), ProductID: productID, Quantity: qty, State: TokenReserved, Ref: ref, CreatedAt: now, UpdatedAt: now}
		_, err = q.Exec(ctx, `
			INSERT INTO reservations(id, product_id, quantity, state, ref, created_at, updated_at)
			VALUES ($1,$2,$3,'reserved',$4,$5,$5)`,
			tok.ID, productID, qty, ref, now)
		return err
	})
	if err != nil {
		return Token{}, err
	}
	return tok, nil
}

func (s *PostgresStore) Release(ctx context.Context, tokenID string) (Token, error) {
	var tok Token
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		q := postgres.Conn(ctx, s.pool)

		held, changed, err := leaveReserved(ctx, q, tokenID, TokenReleased)
		if err != nil {
			return err
		}
		if changed {
			if _, err := q.Exec(ctx, `UPDATE stock SET reserved = reserved - $2, updated_at = now() WHERE product_id=$1`,
				held.ProductID, held.Quantity); err != nil {
				return err
			}
		}
		tok, err = loadToken(ctx, q, tokenID)
		return err
	})
	return tok, err
}

func (s *PostgresStore) Commit(ctx context.Context, tokenID string) (Token, error) {
	var tok Token
	err := s.uow.RunInTx(ctx, func(ctx context.Context) error {
		q := postgres.Conn(ctx, s.pool)

		held, changed, err := leaveReserved(ctx, q, tokenID, TokenCommitted)
		if err != nil {
			return err
		}
		if changed {
			if _, err := q.Exec(ctx, `
				UPDATE stock
				SET available = GREATEST(available - $2, 0), reserved = reserved - $2, updated_at = now()
				WHERE product_id=$1`, held.ProductID, held.Quantity); err != nil {
				return err
			}
		}
		tok, err = loadToken(ctx, q, tokenID)
		if err != nil {
			return err
		}
		if tok.State == TokenReleased {
			return ErrTokenReleased.With("reservation %s", tokenID)
		}
		return nil
	})
	if err != nil {
		return Token{}, err
	}
	return tok, nil
}

func (s *PostgresStore) Stock(ctx context.Context, productID string) (Stock, error) {
	st := Stock{ProductID: productID}
	err := postgres.Conn(ctx, s.pool).QueryRow(ctx, `
		SELECT available, reserved, max_order_quantity, allow_backorder
		FROM stock WHERE product_id=$1`, productID).
		Scan(&st.Available, &st.Reserved, &st.MaxOrderQuantity, &st.AllowBackorder)
	if errors.Is(err, pgx.ErrNoRows) {
		return Stock{}, ErrUnknownProduct.With("product %s", productID)
	}
	return st, err
}

func (s *PostgresStore) SetStock(ctx context.Context, in Stock) error {
	if in.Available < 0 {
		return ErrInvalidQuantity.With("available quantity must not be negative")
	}
	_, err := postgres.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO stock(product_id, available, reserved, max_order_quantity, allow_backorder)
		VALUES ($1,$2,0,$3,$4)
		ON CONFLICT (product_id) DO UPDATE
		SET available = EXCLUDED.available,
		    max_order_quantity = EXCLUDED.max_order_quantity,
		    allow_backorder = EXCLUDED.allow_backorder,
		    updated_at = now()`,
		in.ProductID, in.Available, in.MaxOrderQuantity, in.AllowBackorder)
	return err
}

func (s *PostgresStore) Token(ctx context.Context, tokenID string) (Token, error) {
	return loadToken(ctx, postgres.Conn(ctx, s.pool), tokenID)
}

// leaveReserved moves a token out of the reserved state. changed is false
// when the token had already left it.
func leaveReserved(ctx context.Context, q postgres.Querier, tokenID string, to TokenState) (held Token, changed bool, err error) {
	if _, perr := uuid.Parse(tokenID); perr != nil {
		return Token{}, false, ErrTokenNotFound.With("reservation %s", tokenID)
	}
	err = q.QueryRow(ctx, `
		UPDATE reservations SET state=$2, updated_at=now()
		WHERE id=$1 AND state='reserved'
		RETURNING product_id, quantity`, tokenID, to.String()).
		Scan(&held.ProductID, &held.Quantity)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, false, nil
	}
	if err != nil {
		return Token{}, false, err
	}
	return held, true, nil
}

func loadToken(ctx context.Context, q postgres.Querier, tokenID string) (Token, error) {
	if _, err := uuid.Parse(tokenID); err != nil {
		return Token{}, ErrTokenNotFound.With("reservation %s", tokenID)
	}
	var (
		t     Token
		state string
	)
	err := q.QueryRow(ctx, `
		SELECT id::text, product_id, quantity, state, ref, created_at, updated_at
		FROM reservations WHERE id=$1`, tokenID).
		Scan(&t.ID, &t.ProductID, &t.Quantity, &state, &t.Ref, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, ErrTokenNotFound.With("reservation %s", tokenID)
	}
	if err != nil {
		return Token{}, err
	}
	if t.State, err = parseTokenState(state); err != nil {
		return Token{}, err
	}
	return t, nil
}
