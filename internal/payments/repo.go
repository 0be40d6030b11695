package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-marketplace-core/internal/postgres"
)

// Repo stores payment records in Postgres. Refunds are append-only rows in
// payment_refunds.
type Repo struct{ DB *pgxpool.Pool }

const paymentColumns = `order_id::text, intent_id, client_secret, status, transaction_id, amount, currency,
	refunded, pending_refund, held_refunds, attempts, last_error, version, created_at, updated_at`

func (r *Repo) Get(ctx context.Context, orderID string) (Record, error) {
	return r.getWhere(ctx, `order_id::text=$1`, orderID)
}

func (r *Repo) GetByIntent(ctx context.Context, intentID string) (Record, error) {
	if intentID == "" {
		return Record{}, ErrNotFound.With("empty intent id")
	}
	return r.getWhere(ctx, `intent_id=$1`, intentID)
}

func (r *Repo) getWhere(ctx context.Context, cond string, arg string) (Record, error) {
	q := postgres.Conn(ctx, r.DB)
	var (
		rec    Record
		status string
		held   []byte
	)
	err := q.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE `+cond, arg).Scan(
		&rec.OrderID, &rec.IntentID, &rec.ClientSecret, &status, &rec.TransactionID, &rec.Amount, &rec.Currency,
		&rec.Refunded, &rec.PendingRefund, &held, &rec.Attempts, &rec.LastError, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound.With("no payment for %s", arg)
	}
	if err != nil {
		return Record{}, err
	}
	if rec.Status, err = ParseStatus(status); err != nil {
		return Record{}, err
	}
	if err := json.Unmarshal(held, &rec.Held); err != nil {
		return Record{}, fmt.Errorf("decode held refunds: %w", err)
	}

	rows, err := q.Query(ctx, `
		SELECT id, amount, reason, gateway_refund_id, created_at
		FROM payment_refunds WHERE order_id=$1 ORDER BY created_at, id`, rec.OrderID)
	if err != nil {
		return Record{}, err
	}
	defer rows.Close()
	for rows.Next() {
		rf := Refund{OrderID: rec.OrderID}
		if err := rows.Scan(&rf.ID, &rf.Amount, &rf.Reason, &rf.GatewayRefundID, &rf.CreatedAt); err != nil {
			return Record{}, err
		}
		rec.Refunds = append(rec.Refunds, rf)
	}
	return rec, rows.Err()
}

func (r *Repo) Save(ctx context.Context, rec Record, prevVersion int) error {
	held, err := json.Marshal(rec.Held)
	if err != nil {
		return err
	}
	if rec.Held == nil {
		held = []byte("[]")
	}
	return (&postgres.UnitOfWork{Pool: r.DB}).RunInTx(ctx, func(ctx context.Context) error {
		q := postgres.Conn(ctx, r.DB)
		if prevVersion == 0 {
			_, err := q.Exec(ctx, `
				INSERT INTO payments(order_id, intent_id, client_secret, status, transaction_id, amount, currency,
				                     refunded, pending_refund, held_refunds, attempts, last_error, version,
				                     created_at, updated_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
				rec.OrderID, rec.IntentID, rec.ClientSecret, rec.Status.String(), rec.TransactionID, rec.Amount,
				rec.Currency, rec.Refunded, rec.PendingRefund, held, rec.Attempts, rec.LastError, rec.Version,
				rec.CreatedAt, rec.UpdatedAt)
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == "23505" {
				return ErrVersionConflict.With("payment for order %s already exists", rec.OrderID)
			}
			if err != nil {
				return err
			}
		} else {
			ct, err := q.Exec(ctx, `
				UPDATE payments
				SET intent_id=$3, client_secret=$4, status=$5, transaction_id=$6, refunded=$7, pending_refund=$8,
				    held_refunds=$9, attempts=$10, last_error=$11, version=$12, updated_at=$13
				WHERE order_id=$1 AND version=$2`,
				rec.OrderID, prevVersion, rec.IntentID, rec.ClientSecret, rec.Status.String(), rec.TransactionID,
				rec.Refunded, rec.PendingRefund, held, rec.Attempts, rec.LastError, rec.Version, rec.UpdatedAt)
			if err != nil {
				return err
			}
			if ct.RowsAffected() == 0 {
				return ErrVersionConflict.With("payment for order %s changed since version %d", rec.OrderID, prevVersion)
			}
		}
		for _, rf := range rec.Refunds {
			if _, err := q.Exec(ctx, `
				INSERT INTO payment_refunds(id, order_id, amount, reason, gateway_refund_id, created_at)
				VALUES ($1,$2,$3,$4,$5,$6)
				ON CONFLICT (id) DO NOTHING`,
				rf.ID, rec.OrderID, rf.Amount, rf.Reason, rf.GatewayRefundID, rf.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *Repo) SaveMethod(ctx context.Context, m SavedMethod) error {
	return (&postgres.UnitOfWork{Pool: r.DB}).RunInTx(ctx, func(ctx context.Context) error {
		q := postgres.Conn(ctx, r.DB)
		if m.IsDefault {
			if _, err := q.Exec(ctx, `UPDATE saved_payment_methods SET is_default=FALSE WHERE buyer_id=$1`, m.BuyerID); err != nil {
				return err
			}
		}
		_, err := q.Exec(ctx, `
			INSERT INTO saved_payment_methods(id, buyer_id, kind, label, is_default, created_at)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			m.ID, m.BuyerID, m.Kind, m.Label, m.IsDefault, m.CreatedAt)
		return err
	})
}

func (r *Repo) ListMethods(ctx context.Context, buyerID string) ([]SavedMethod, error) {
	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, `
		SELECT id, buyer_id, kind, label, is_default, created_at
		FROM saved_payment_methods WHERE buyer_id=$1 ORDER BY created_at, id`, buyerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SavedMethod
	for rows.Next() {
		var m SavedMethod
		if err := rows.Scan(&m.ID, &m.BuyerID, &m.Kind, &m.Label, &m.IsDefault, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
