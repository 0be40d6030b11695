package cart

import (
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
	"github.com/ariefcatur/go-marketplace-core/internal/pricing"
)

var (
	ErrEmptySelection     = apperr.New(apperr.KindValidation, "empty_selection", "no cart items are selected")
	ErrProductUnavailable = apperr.New(apperr.KindProductUnavailable, "product_unavailable", "product is not available for sale")
	ErrItemNotFound       = apperr.New(apperr.KindNotFound, "cart_item_not_found", "item is not in the cart")
	ErrInvalidQuantity    = apperr.New(apperr.KindValidation, "invalid_quantity", "invalid quantity")
	ErrInvalidAddress     = apperr.New(apperr.KindValidation, "invalid_address", "shipping address is incomplete")
	ErrUnsupportedPayment = apperr.New(apperr.KindValidation, "unsupported_payment_method", "payment method is not supported")
)

type Item struct {
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	Selected  bool      `json:"isSelected"`
	Notes     string    `json:"notes,omitempty"`
	AddedAt   time.Time `json:"addedAt"`
}

type Address struct {
	Name       string `json:"name"`
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
	Country    string `json:"country"`
	Phone      string `json:"phone,omitempty"`
}

func (a Address) Validate() error {
	var missing []string
	for field, v := range map[string]string{"name": a.Name, "line1": a.Line1, "city": a.City, "country": a.Country} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return ErrInvalidAddress.With("shipping address is missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Cart is the buyer's staging area. Items are unique by ProductID.
type Cart struct {
	BuyerID         string    `json:"buyerId"`
	Items           []Item    `json:"items"`
	ShippingAddress *Address  `json:"shippingAddress,omitempty"`
	ShippingMethod  string    `json:"shippingMethod,omitempty"`
	PaymentMethod   string    `json:"paymentMethod,omitempty"`
	CouponCode      string    `json:"couponCode,omitempty"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

func (c *Cart) find(productID string) int {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) remove(productID string) bool {
	i := c.find(productID)
	if i < 0 {
		return false
	}
	c.Items = append(c.Items[:i], c.Items[i+1:]...)
	return true
}

func (c Cart) clone() Cart {
	out := c
	out.Items = append([]Item(nil), c.Items...)
	if c.ShippingAddress != nil {
		a := *c.ShippingAddress
		out.ShippingAddress = &a
	}
	return out
}

// Line is a cart item priced against the current catalog.
type Line struct {
	Item
	Title     string `json:"title"`
	SellerID  string `json:"sellerId,omitempty"`
	UnitPrice int64  `json:"unitPrice"`
	LineTotal int64  `json:"lineTotal"`
	Available bool   `json:"available"`
}

// View is what buyers see: the cart, its priced lines and totals over the
// selected, available lines.
type View struct {
	Cart   Cart           `json:"cart"`
	Lines  []Line         `json:"lines"`
	Totals pricing.Totals `json:"totals"`
}

type SnapshotItem struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes,omitempty"`
}

// Snapshot is the value handed to the order builder. It shares no memory
// with the cart it was taken from.
type Snapshot struct {
	BuyerID         string         `json:"buyerId"`
	Items           []SnapshotItem `json:"items"`
	ShippingAddress Address        `json:"shippingAddress"`
	ShippingMethod  string         `json:"shippingMethod"`
	PaymentMethod   string         `json:"paymentMethod"`
	CouponCode      string         `json:"couponCode,omitempty"`
	Totals          pricing.Totals `json:"totals"`
	TakenAt         time.Time      `json:"takenAt"`
}

func (s Snapshot) ProductIDs() []string {
	ids := make([]string, len(s.Items))
	for i, it := range s.Items {
		ids[i] = it.ProductID
	}
	return ids
}

// ItemUpdate changes one line; nil fields are left alone.
type ItemUpdate struct {
	ProductID string  `json:"productId"`
	Quantity  *int    `json:"quantity,omitempty"`
	Notes     *string `json:"notes,omitempty"`
	Selected  *bool   `json:"isSelected,omitempty"`
}
