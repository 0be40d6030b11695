package orders

import (
	"slices"
	"time"

	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/cart"
	"github.com/ariefcatur/go-marketplace-core/internal/pricing"
)

type LineItem struct {
	ProductID string `json:"productId"`
	SellerID  string `json:"sellerId"`
	Title     string `json:"title"`
	UnitPrice int64  `json:"unitPrice"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"lineTotal"`
	Notes     string `json:"notes,omitempty"`
}

type Shipping struct {
	Address cart.Address `json:"address"`
	Method  string       `json:"method"`
	Fee     int64        `json:"fee"`
}

type Tracking struct {
	Number            string    `json:"number"`
	Carrier           string    `json:"carrier,omitempty"`
	EstimatedDelivery time.Time `json:"estimatedDelivery"`
}

type Actor struct {
	ID   string    `json:"id"`
	Role auth.Role `json:"role"`
}

func actorOf(id auth.Identity) Actor { return Actor{ID: id.UserID, Role: id.Role} }

// HistoryEntry records one applied transition. Entries are only appended.
type HistoryEntry struct {
	From Status    `json:"from"`
	To   Status    `json:"to"`
	By   Actor     `json:"actor"`
	Note string    `json:"note,omitempty"`
	At   time.Time `json:"at"`
}

type Order struct {
	ID             string         `json:"id"`
	Number         string         `json:"orderNumber"`
	BuyerID        string         `json:"buyerId"`
	Items          []LineItem     `json:"items"`
	Shipping       Shipping       `json:"shipping"`
	PaymentMethod  string         `json:"paymentMethod"`
	CouponCode     string         `json:"couponCode,omitempty"`
	Totals         pricing.Totals `json:"totals"`
	Currency       string         `json:"currency"`
	Status         Status         `json:"status"`
	PaymentStatus  PaymentStatus  `json:"paymentStatus"`
	RefundedAmount int64          `json:"refundedAmount"`
	ReservationIDs []string       `json:"reservationIds"`
	Tracking       *Tracking      `json:"tracking,omitempty"`
	History        []HistoryEntry `json:"history"`
	Version        int            `json:"version"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// SellerIDs is derived from the line items, sorted and unique.
func (o Order) SellerIDs() []string {
	ids := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		ids = append(ids, it.SellerID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

func (o Order) HasSeller(sellerID string) bool {
	for _, it := range o.Items {
		if it.SellerID == sellerID {
			return true
		}
	}
	return false
}

func (o Order) clone() Order {
	out := o
	out.Items = slices.Clone(o.Items)
	out.ReservationIDs = slices.Clone(o.ReservationIDs)
	out.History = slices.Clone(o.History)
	if o.Tracking != nil {
		t := *o.Tracking
		out.Tracking = &t
	}
	return out
}

// Filter scopes List. Empty fields do not filter.
type Filter struct {
	BuyerID  string
	SellerID string
	Status   Status
	Limit    int
	Offset   int
}

// Stats summarises orders visible to the caller. Revenue is net of refunds.
type Stats struct {
	Total             int            `json:"totalOrders"`
	ByStatus          map[string]int `json:"byStatus"`
	Revenue           int64          `json:"revenue"`
	AverageOrderValue int64          `json:"averageOrderValue"`
	Currency          string         `json:"currency"`
}

// TransitionRequest asks for a status change. Tracking is required when
// shipping.
type TransitionRequest struct {
	To       Status    `json:"status"`
	Note     string    `json:"note,omitempty"`
	Tracking *Tracking `json:"tracking,omitempty"`
}
