package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// CachedStatus is the short-lived projection served by the order status endpoint.
type CachedStatus struct {
	OrderID       string    `json:"orderId"`
	BuyerID       string    `json:"buyerId"`
	SellerIDs     []string  `json:"sellerIds"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"paymentStatus"`
	Version       int       `json:"version"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type StatusCache struct {
	rdb *redis.Client
}

func NewStatusCache(rdb *redis.Client) *StatusCache { return &StatusCache{rdb: rdb} }

// Put stores s unless a newer version is already cached.
func (c *StatusCache) Put(ctx context.Context, s CachedStatus) error {
	key := OrderStatusKey(s.OrderID)
	return c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		if cur, ok, err := decodeStatus(tx.Get(ctx, key)); err != nil {
			return err
		} else if ok && cur.Version > s.Version {
			return nil
		}
		data, err := json.Marshal(s)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, key, data, TTLStatusCache)
			return nil
		})
		return err
	}, key)
}

// Get returns the cached status; ok is false on a miss.
func (c *StatusCache) Get(ctx context.Context, orderID string) (CachedStatus, bool, error) {
	return decodeStatus(c.rdb.Get(ctx, OrderStatusKey(orderID)))
}

func decodeStatus(cmd *redis.StringCmd) (CachedStatus, bool, error) {
	b, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return CachedStatus{}, false, nil
	}
	if err != nil {
		return CachedStatus{}, false, err
	}
	var s CachedStatus
	if err := json.Unmarshal(b, &s); err != nil {
		return CachedStatus{}, false, err
	}
	return s, true, nil
}

// Idempotency maps a client-supplied key to the id of the resource it created.
type Idempotency struct {
	rdb *redis.Client
}

func NewIdempotency(rdb *redis.Client) *Idempotency { return &Idempotency{rdb: rdb} }

const idemPending = "pending"

// Claim reserves key. When the key was already claimed, existing holds the
// stored result ("" while the first request is still in flight).
func (i *Idempotency) Claim(ctx context.Context, key string) (existing string, claimed bool, err error) {
	ok, err := i.rdb.SetNX(ctx, key, idemPending, TTLIdempotency).Result()
	if err != nil || ok {
		return "", ok, err
	}
	v, err := i.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if v == idemPending {
		v = ""
	}
	return v, false, err
}

func (i *Idempotency) Complete(ctx context.Context, key, result string) error {
	return i.rdb.Set(ctx, key, result, TTLIdempotency).Err()
}

// Abandon frees key after a failed attempt so the client may retry.
func (i *Idempotency) Abandon(ctx context.Context, key string) error {
	return i.rdb.Del(ctx, key).Err()
}
