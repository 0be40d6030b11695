package redisx

import (
	"fmt"
	"time"
)

const (
	// Idempotent order placement: idem:order:create:{buyer}:{key} -> order_id
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Order status cache: order_status:{order_id} -> {"status": "...", "paymentStatus": "...", "updatedAt": "..."}
	KeyOrderStatus = "order_status:%s"

	// Event dedup: dedup:{service}:{id}
	KeyDedup = "dedup:%s:%s"

	// Buyer cart as JSON: cart:{buyer_id}
	KeyCart = "cart:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
	TTLCart        = 30 * 24 * time.Hour
)

func CartKey(buyerID string) string { return fmt.Sprintf(KeyCart, buyerID) }

func OrderStatusKey(orderID string) string { return fmt.Sprintf(KeyOrderStatus, orderID) }

func DedupKey(service, id string) string { return fmt.Sprintf(KeyDedup, service, id) }

func IdemOrderCreateKey(buyerID, key string) string {
	return fmt.Sprintf(KeyIdemOrderCreate, buyerID, key)
}
