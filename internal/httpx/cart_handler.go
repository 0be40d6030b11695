package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-marketplace-core/internal/cart"
)

type CartHandler struct {
	Carts *cart.Service
}

type addItemReq struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Notes     string `json:"notes"`
}

type updateItemReq struct {
	Quantity *int    `json:"quantity"`
	Notes    *string `json:"notes"`
	Selected *bool   `json:"isSelected"`
}

type bulkUpdateReq struct {
	Items []cart.ItemUpdate `json:"items"`
}

type selectionReq struct {
	ProductIDs []string `json:"productIds"`
	Selected   bool     `json:"isSelected"`
}

type couponReq struct {
	Code string `json:"code"`
}

type methodReq struct {
	Method string `json:"method"`
}

func (h *CartHandler) Register(r chi.Router) {
	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.get)
		r.Delete("/", h.clear)
		r.Post("/items", h.addItem)
		r.Patch("/items", h.bulkUpdate)
		r.Patch("/items/{productID}", h.updateItem)
		r.Delete("/items/{productID}", h.removeItem)
		r.Put("/selection", h.setSelection)
		r.Put("/coupon", h.applyCoupon)
		r.Delete("/coupon", h.removeCoupon)
		r.Put("/shipping-address", h.setAddress)
		r.Put("/shipping-method", h.setShippingMethod)
		r.Put("/payment-method", h.setPaymentMethod)
		r.Get("/checkout", h.checkout)
	})
}

// viewOrError writes the cart view or the error that prevented it.
func viewOrError(w http.ResponseWriter, r *http.Request, v cart.View, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *CartHandler) get(w http.ResponseWriter, r *http.Request) {
	buyerID, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.Carts.Get(r.Context(), buyerID)
	viewOrError(w, r, v, err)
}

func (h *CartHandler) clear(w http.ResponseWriter, r *http.Request) {
	buyerID, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.Carts.Clear(r.Context(), buyerID); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) addItem(w http.ResponseWriter, r *http.Request) {
	buyerID, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req addItemReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.Carts.AddItem(r.Context(), buyerID, req.ProductID, req.Quantity, req.Notes)
	viewOrError(w, r, v, err)
}

func (h *CartHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	buyerID, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req updateItemReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.Carts.UpdateItem(r.Context(), buyerID, cart.ItemUpdate{
		ProductID: chi.URLParam(r, "productID"),
		Quantity:  req.Quantity,
		Notes:     req.Notes,
		Selected:  req.Selected,
	})
	viewOrError(w, r, v, err)
}

func (h *CartHandler) bulkUpdate(w http.ResponseWriter, r *http.Request) {
	buyerID, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req bulkUpdateReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.Carts.BulkUpdate(r.Context(), buyerID, req.Items)
	viewOrError(w, r, v, err)
}

func (h *CartHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	buyerID, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.Carts.RemoveItem(r.Context(), buyerID, chi.URLParam(r, "productID"))
	viewOrError(w, r, v, err)
}

func (h *CartHandler) setSelection(w http.ResponseWriter, r *http.Request) {
	buyerID, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req selectionReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.Carts.SetSelection(r.Context(), buyerID, req.ProductIDs, req.Selected)
	viewOrError(w, r, v, err)
}

func (h *CartHandler) applyCoupon(w http.ResponseWriter, r *http.Request) {
	buyerID, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req couponReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.Carts.ApplyCoupon(r.Context(), buyerID, req.Code)
	viewOrError(w, r, v, err)
}

func (h *CartHandler) removeCoupon(w http.ResponseWriter, r *http.Request) {
	buyerID, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.Carts.RemoveCoupon(r.Context(), buyerID)
	viewOrError(w, r, v, err)
}

func (h *CartHandler) setAddress(w http.ResponseWriter, r *http.Request) {
	buyerID, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var addr cart.Address
	if err := decodeJSON(r, &addr); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.Carts.SetShippingAddress(r.Context(), buyerID, addr)
	viewOrError(w, r, v, err)
}

func (h *CartHandler) setShippingMethod(w http.ResponseWriter, r *http.Request) {
	buyerID, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req methodReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.Carts.SetShippingMethod(r.Context(), buyerID, req.Method)
	viewOrError(w, r, v, err)
}

func (h *CartHandler) setPaymentMethod(w http.ResponseWriter, r *http.Request) {
	buyerID, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req methodReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	v, err := h.Carts.SetPaymentMethod(r.Context(), buyerID, req.Method)
	viewOrError(w, r, v, err)
}

func (h *CartHandler) checkout(w http.ResponseWriter, r *http.Request) {
	buyerID, err := buyerOf(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	snap, err := h.Carts.CheckoutSnapshot(r.Context(), buyerID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}
