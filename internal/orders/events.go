package orders

import "time"

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventPaymentUpdated     = "OrderPaymentUpdated"
)

// ---- payloads ----

type ItemQty struct {
	ProductID string `json:"product_id"`
	SellerID  string `json:"seller_id"`
	Qty       int    `json:"qty"`
}

type OrderPlacedPayload struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     string    `json:"buyer_id"`
	SellerIDs   []string  `json:"seller_ids"`
	Items       []ItemQty `json:"items"`
	GrandTotal  int64     `json:"grand_total"`
	Currency    string    `json:"currency"`
}

type StatusChangedPayload struct {
	OrderID     string    `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	BuyerID     string    `json:"buyer_id"`
	SellerIDs   []string  `json:"seller_ids"`
	From        string    `json:"from"`
	To          string    `json:"to"`
	ActorID     string    `json:"actor_id"`
	ActorRole   string    `json:"actor_role"`
	Tracking    *Tracking `json:"tracking,omitempty"`
	At          time.Time `json:"at"`
}

type PaymentUpdatedPayload struct {
	OrderID        string `json:"order_id"`
	BuyerID        string `json:"buyer_id"`
	PaymentStatus  string `json:"payment_status"`
	RefundedAmount int64  `json:"refunded_amount,omitempty"`
}

func placedPayload(o Order) OrderPlacedPayload {
	p := OrderPlacedPayload{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		BuyerID:     o.BuyerID,
		SellerIDs:   o.SellerIDs(),
		GrandTotal:  o.Totals.Grand,
		Currency:    o.Currency,
	}
	for _, it := range o.Items {
		p.Items = append(p.Items, ItemQty{ProductID: it.ProductID, SellerID: it.SellerID, Qty: it.Quantity})
	}
	return p
}
