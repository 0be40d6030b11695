package redisx

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Deduper remembers processed event ids for TTLDedup.
type Deduper struct {
	rdb     *redis.Client
	service string
}

func NewDeduper(rdb *redis.Client, service string) *Deduper {
	return &Deduper{rdb: rdb, service: service}
}

// Mark records id as processed. It returns false when another caller marked
// it first.
func (d *Deduper) Mark(ctx context.Context, id string) (bool, error) {
	return d.rdb.SetNX(ctx, DedupKey(d.service, id), 1, TTLDedup).Result()
}

// Forget removes the mark so a failed delivery can be retried.
func (d *Deduper) Forget(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, DedupKey(d.service, id)).Err()
}
