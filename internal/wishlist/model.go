package wishlist

import (
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
)

var (
	ErrNotFound     = apperr.New(apperr.KindNotFound, "wishlist_not_found", "wishlist not found")
	ErrItemNotFound = apperr.New(apperr.KindNotFound, "wishlist_item_not_found", "product is not in the wishlist")
	ErrItemExists   = apperr.New(apperr.KindConflict, "wishlist_item_exists", "product is already in the wishlist")
	ErrInvalidName  = apperr.New(apperr.KindValidation, "invalid_wishlist_name", "wishlist name is required")
	ErrNotOwner     = apperr.New(apperr.KindForbidden, "not_wishlist_owner", "caller does not own this wishlist")
)

const maxNameLen = 100

type Priority uint8

const (
	PriorityLow Priority = iota + 1
	PriorityMedium
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityMedium:
		return "medium"
	case PriorityHigh:
		return "high"
	default:
		return "unknown"
	}
}

func (p Priority) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *Priority) UnmarshalText(b []byte) error {
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePriority accepts low, medium and high. Empty means medium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return PriorityLow, nil
	case "", "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	}
	return 0, apperr.Validation("unknown priority %q", s)
}

type Item struct {
	ProductID  string    `json:"productId"`
	Notes      string    `json:"notes,omitempty"`
	Priority   Priority  `json:"priority"`
	AddedAt    time.Time `json:"addedAt"`
	PriceAtAdd int64     `json:"priceAtAdd"`
}

type Wishlist struct {
	ID         string    `json:"id"`
	BuyerID    string    `json:"buyerId"`
	Name       string    `json:"name"`
	IsPublic   bool      `json:"isPublic"`
	ShareToken string    `json:"shareToken,omitempty"`
	Items      []Item    `json:"items"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

func (w Wishlist) find(productID string) int {
	for i, it := range w.Items {
		if it.ProductID == productID {
			return i
		}
	}
	return -1
}

func (w Wishlist) clone() Wishlist {
	c := w
	c.Items = append([]Item(nil), w.Items...)
	return c
}

// shared is the view handed to non-owners: no share token.
func (w Wishlist) shared() Wishlist {
	c := w.clone()
	c.ShareToken = ""
	return c
}

type Update struct {
	Name     *string
	IsPublic *bool
}

type ItemUpdate struct {
	Notes    *string
	Priority *Priority
}

// MoveRequest asks for one wishlist product to land in the cart at Quantity.
type MoveRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

type Skipped struct {
	ProductID string `json:"productId"`
	Code      string `json:"code"`
	Reason    string `json:"reason"`
}

type MoveResult struct {
	Moved   []string  `json:"moved"`
	Skipped []Skipped `json:"skipped"`
}

type PriceDrop struct {
	ProductID    string `json:"productId"`
	Title        string `json:"title"`
	PriceAtAdd   int64  `json:"priceAtAdd"`
	CurrentPrice int64  `json:"currentPrice"`
	Drop         int64  `json:"drop"`
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName
	}
	if n := len([]rune(name)); n > maxNameLen {
		return "", ErrInvalidName.With("wishlist name is %d characters, limit is %d", n, maxNameLen)
	}
	return name, nil
}

func skippedFor(productID string, err error) Skipped {
	code, msg := apperr.Public(err)
	return Skipped{ProductID: productID, Code: code, Reason: msg}
}
