package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
)

var (
	ErrOutOfStock      = apperr.New(apperr.KindOutOfStock, "out_of_stock", "insufficient stock")
	ErrInvalidQuantity = apperr.New(apperr.KindValidation, "invalid_quantity", "invalid quantity")
	ErrUnknownProduct  = apperr.New(apperr.KindNotFound, "stock_not_found", "no stock record for product")
	ErrTokenNotFound   = apperr.New(apperr.KindNotFound, "reservation_not_found", "reservation not found")
	// ErrTokenReleased is returned when committing a reservation that was already released.
	ErrTokenReleased = apperr.New(apperr.KindInvalidState, "reservation_released", "reservation already released")
)

// Stock is the purchasable quantity of one product.
type Stock struct {
	ProductID        string `json:"productId"`
	Available        int    `json:"availableQuantity"`
	Reserved         int    `json:"reservedQuantity"`
	MaxOrderQuantity int    `json:"maxOrderQuantity"` // 0 means no per-order cap
	AllowBackorder   bool   `json:"allowBackorder"`
}

// Free is the quantity that can still be reserved without backorder.
func (s Stock) Free() int { return s.Available - s.Reserved }

// CanSupply reports whether qty could be reserved right now.
func (s Stock) CanSupply(qty int) bool {
	return s.AllowBackorder || s.Free() >= qty
}

// checkQuantity validates qty against the per-order cap.
func (s Stock) checkQuantity(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity.With("quantity must be positive, got %d", qty)
	}
	if s.MaxOrderQuantity > 0 && qty > s.MaxOrderQuantity {
		return ErrInvalidQuantity.With("quantity %d exceeds max order quantity %d for product %s", qty, s.MaxOrderQuantity, s.ProductID)
	}
	return nil
}

// TokenState is the lifecycle of a reservation token.
type TokenState uint8

const (
	TokenReserved TokenState = iota + 1
	TokenReleased
	TokenCommitted
)

func (s TokenState) String() string {
	switch s {
	case TokenReserved:
		return "reserved"
	case TokenReleased:
		return "released"
	case TokenCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

func (s TokenState) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *TokenState) UnmarshalText(b []byte) error {
	v, err := parseTokenState(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func parseTokenState(s string) (TokenState, error) {
	switch s {
	case "reserved":
		return TokenReserved, nil
	case "released":
		return TokenReleased, nil
	case "committed":
		return TokenCommitted, nil
	}
	return 0, fmt.Errorf("inventory: unknown token state %q", s)
}

// Token is a hold of Quantity units of ProductID. It is released or committed
// at most once.
type Token struct {
	ID        string     `json:"id"`
	ProductID string     `json:"productId"`
	Quantity  int        `json:"quantity"`
	State     TokenState `json:"state"`
	Ref       string     `json:"ref,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Store persists stock records and tokens. Every method must be linearizable
// per product; different products must not contend.
type Store interface {
	Reserve(ctx context.Context, productID string, qty int, ref string) (Token, error)
	// Release returns the token after the call; releasing a released or
	// committed token changes nothing.
	Release(ctx context.Context, tokenID string) (Token, error)
	// Commit converts a reserved token into a permanent decrement. Committing a
	// committed token changes nothing.
	Commit(ctx context.Context, tokenID string) (Token, error)
	Stock(ctx context.Context, productID string) (Stock, error)
	SetStock(ctx context.Context, s Stock) error
	Token(ctx context.Context, tokenID string) (Token, error)
}
