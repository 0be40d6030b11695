// Package sequence hands out human-readable order numbers backed by a
// monotonically increasing counter.
package sequence

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-marketplace-core/internal/postgres"
)

// Generator yields unique, increasing values. Implementations must be safe
// for concurrent use.
type Generator interface {
	Next(ctx context.Context) (int64, error)
}

// Format renders ORD-YYYYMMDD-NNNNNN. Values above 999999 widen the suffix
// rather than wrap.
func Format(at time.Time, n int64) string {
	return fmt.Sprintf("ORD-%s-%06d", at.UTC().Format("20060102"), n)
}

// Memory is a process-local counter. Start seeds it so restarts of a
// long-lived dev instance can continue past existing numbers.
type Memory struct {
	n atomic.Int64
}

func NewMemory(start int64) *Memory {
	m := &Memory{}
	m.n.Store(start)
	return m
}

func (m *Memory) Next(context.Context) (int64, error) {
	return m.n.Add(1), nil
}

// Postgres draws from order_number_seq, which survives restarts and is shared
// by every API replica.
type Postgres struct {
	DB   *pgxpool.Pool
	Name string
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{DB: db, Name: "order_number_seq"}
}

func (p *Postgres) Next(ctx context.Context) (int64, error) {
	var n int64
	if err := postgres.Conn(ctx, p.DB).QueryRow(ctx, `SELECT nextval($1::regclass)`, p.Name).Scan(&n); err != nil {
		return 0, fmt.Errorf("sequence %s: %w", p.Name, err)
	}
	return n, nil
}
