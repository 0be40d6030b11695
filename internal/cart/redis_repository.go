package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
	"github.com/ariefcatur/go-marketplace-core/internal/redisx"
)

const maxUpdateRetries = 10

var errCartContended = apperr.New(apperr.KindConflict, "cart_contended", "cart is being modified concurrently, retry")

// RedisRepository keeps carts as JSON under cart:{buyer}. Update is an
// optimistic WATCH/MULTI transaction retried on conflict.
type RedisRepository struct {
	rdb *redis.Client
}

func NewRedisRepository(rdb *redis.Client) *RedisRepository {
	return &RedisRepository{rdb: rdb}
}

func (r *RedisRepository) Get(ctx context.Context, buyerID string) (Cart, error) {
	return r.load(ctx, r.rdb, buyerID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *RedisRepository) load(ctx context.Context, g getter, buyerID string) (Cart, error) {
	data, err := g.Get(ctx, redisx.CartKey(buyerID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Cart{BuyerID: buyerID}, nil
	}
	if err != nil {
		return Cart{}, fmt.Errorf("redis get cart: %w", err)
	}
	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return Cart{}, fmt.Errorf("unmarshal cart: %w", err)
	}
	return c, nil
}

func (r *RedisRepository) Update(ctx context.Context, buyerID string, fn func(*Cart) error) (Cart, error) {
	key := redisx.CartKey(buyerID)
	var out Cart

	txf := func(tx *redis.Tx) error {
		c, err := r.load(ctx, tx, buyerID)
		if err != nil {
			return err
		}
		if err := fn(&c); err != nil {
			return err
		}
		data, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("marshal cart: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, redisx.TTLCart)
			return nil
		})
		if err == nil {
			out = c
		}
		return err
	}

	for i := 0; i < maxUpdateRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return Cart{}, err
		}
		return out, nil
	}
	return Cart{}, errCartContended.With("cart for %s changed %d times during update", buyerID, maxUpdateRetries)
}

func (r *RedisRepository) Delete(ctx context.Context, buyerID string) error {
	if err := r.rdb.Del(ctx, redisx.CartKey(buyerID)).Err(); err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}
	return nil
}
