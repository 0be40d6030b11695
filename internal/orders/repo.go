package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/postgres"
)

// Repo stores orders in Postgres; line items, shipping, totals and tracking
// are JSONB columns, history lives in order_status_history.
type Repo struct{ DB *pgxpool.Pool }

const orderColumns = `id::text, order_number, buyer_id, status, payment_status, refunded_amount, currency, items,
	shipping, payment_method, coupon_code, totals, reservation_ids, tracking, version, created_at, updated_at`

func (r *Repo) Create(ctx context.Context, o Order) error {
	items, shipping, totals, tracking, err := encodeJSON(o)
	if err != nil {
		return err
	}
	q := postgres.Conn(ctx, r.DB)
	_, err = q.Exec(ctx, `
		INSERT INTO orders(id, order_number, buyer_id, status, payment_status, currency, items, seller_ids,
		                   shipping, payment_method, coupon_code, totals, reservation_ids, tracking, version,
		                   created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		o.ID, o.Number, o.BuyerID, o.Status.String(), string(o.PaymentStatus), o.Currency, items, o.SellerIDs(),
		shipping, o.PaymentMethod, o.CouponCode, totals, o.ReservationIDs, tracking, o.Version,
		o.CreatedAt, o.UpdatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists.With("order %s", o.ID)
	}
	if err != nil {
		return err
	}
	return insertHistory(ctx, q, o.ID, o.History)
}

func (r *Repo) Get(ctx context.Context, id string) (Order, error) {
	q := postgres.Conn(ctx, r.DB)
	o, err := scanOrder(q.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id::text=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrNotFound.With("order %s", id)
	}
	if err != nil {
		return Order{}, err
	}
	o.History, err = loadHistory(ctx, q, id)
	return o, err
}

func (r *Repo) Update(ctx context.Context, o Order, prevVersion int, appended []HistoryEntry) error {
	items, shipping, totals, tracking, err := encodeJSON(o)
	if err != nil {
		return err
	}
	q := postgres.Conn(ctx, r.DB)
	ct, err := q.Exec(ctx, `
		UPDATE orders
		SET status=$3, payment_status=$4, items=$5, shipping=$6, totals=$7, reservation_ids=$8,
		    tracking=$9, version=$10, updated_at=$11, refunded_amount=$12
		WHERE id=$1 AND version=$2`,
		o.ID, prevVersion, o.Status.String(), string(o.PaymentStatus), items, shipping, totals,
		o.ReservationIDs, tracking, o.Version, o.UpdatedAt, o.RefundedAmount)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, o.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound.With("order %s", o.ID)
		}
		return ErrVersionConflict.With("order %s changed since version %d", o.ID, prevVersion)
	}
	return insertHistory(ctx, q, o.ID, appended)
}

func (r *Repo) List(ctx context.Context, f Filter) ([]Order, error) {
	var (
		where []string
		args  []any
	)
	if f.BuyerID != "" {
		args = append(args, f.BuyerID)
		where = append(where, fmt.Sprintf("buyer_id=$%d", len(args)))
	}
	if f.SellerID != "" {
		args = append(args, f.SellerID)
		where = append(where, fmt.Sprintf("$%d = ANY(seller_ids)", len(args)))
	}
	if f.Status != 0 {
		args = append(args, f.Status.String())
		where = append(where, fmt.Sprintf("status=$%d", len(args)))
	}
	sql := `SELECT ` + orderColumns + ` FROM orders`
	if len(where) > 0 {
		sql += ` WHERE ` + strings.Join(where, " AND ")
	}
	sql += ` ORDER BY created_at DESC, order_number DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		sql += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := postgres.Conn(ctx, r.DB).Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func encodeJSON(o Order) (items, shipping, totals, tracking []byte, err error) {
	if items, err = json.Marshal(o.Items); err != nil {
		return
	}
	if shipping, err = json.Marshal(o.Shipping); err != nil {
		return
	}
	if totals, err = json.Marshal(o.Totals); err != nil {
		return
	}
	if o.Tracking != nil {
		tracking, err = json.Marshal(o.Tracking)
	}
	return
}

func scanOrder(row pgx.Row) (Order, error) {
	var (
		o                                 Order
		status, payStatus                 string
		items, shipping, totals, tracking []byte
	)
	err := row.Scan(&o.ID, &o.Number, &o.BuyerID, &status, &payStatus, &o.RefundedAmount, &o.Currency, &items, &shipping,
		&o.PaymentMethod, &o.CouponCode, &totals, &o.ReservationIDs, &tracking, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	if o.Status, err = ParseStatus(status); err != nil {
		return Order{}, err
	}
	o.PaymentStatus = PaymentStatus(payStatus)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return Order{}, fmt.Errorf("decode items: %w", err)
	}
	if err := json.Unmarshal(shipping, &o.Shipping); err != nil {
		return Order{}, fmt.Errorf("decode shipping: %w", err)
	}
	if err := json.Unmarshal(totals, &o.Totals); err != nil {
		return Order{}, fmt.Errorf("decode totals: %w", err)
	}
	if len(tracking) > 0 {
		o.Tracking = &Tracking{}
		if err := json.Unmarshal(tracking, o.Tracking); err != nil {
			return Order{}, fmt.Errorf("decode tracking: %w", err)
		}
	}
	return o, nil
}

func insertHistory(ctx context.Context, q postgres.Querier, orderID string, entries []HistoryEntry) error {
	for _, h := range entries {
		if _, err := q.Exec(ctx, `
			INSERT INTO order_status_history(order_id, from_status, to_status, actor_id, actor_role, note, at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			orderID, statusText(h.From), h.To.String(), h.By.ID, h.By.Role.String(), h.Note, h.At); err != nil {
			return err
		}
	}
	return nil
}

func loadHistory(ctx context.Context, q postgres.Querier, orderID string) ([]HistoryEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT from_status, to_status, actor_id, actor_role, note, at
		FROM order_status_history WHERE order_id::text=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HistoryEntry
	for rows.Next() {
		var (
			h              HistoryEntry
			from, to, role string
		)
		if err := rows.Scan(&from, &to, &h.By.ID, &role, &h.Note, &h.At); err != nil {
			return nil, err
		}
		// The initial entry has no previous status.
		if from != "" {
			if h.From, err = ParseStatus(from); err != nil {
				return nil, err
			}
		}
		if h.To, err = ParseStatus(to); err != nil {
			return nil, err
		}
		h.By.Role = roleFromString(role)
		out = append(out, h)
	}
	return out, rows.Err()
}

func statusText(s Status) string {
	if s == 0 {
		return ""
	}
	return s.String()
}

func roleFromString(s string) auth.Role {
	if s == auth.RoleSystem.String() {
		return auth.RoleSystem
	}
	r, err := auth.ParseRole(s)
	if err != nil {
		return auth.RoleUnknown
	}
	return r
}
