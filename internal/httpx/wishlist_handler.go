package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-marketplace-core/internal/wishlist"
)

type WishlistHandler struct {
	Wishlists *wishlist.Service
}

type createWishlistReq struct {
	Name     string `json:"name"`
	IsPublic bool   `json:"isPublic"`
}

type updateWishlistReq struct {
	Name     *string `json:"name"`
	IsPublic *bool   `json:"isPublic"`
}

type addWishlistItemReq struct {
	ProductID string            `json:"productId"`
	Notes     string            `json:"notes"`
	Priority  wishlist.Priority `json:"priority"`
}

type updateWishlistItemReq struct {
	Notes    *string            `json:"notes"`
	Priority *wishlist.Priority `json:"priority"`
}

type moveReq struct {
	Items []wishlist.MoveRequest `json:"items"`
}

func (h *WishlistHandler) Register(r chi.Router) {
	r.Route("/wishlists", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.create)
		r.Get("/{id}", h.get)
		r.Patch("/{id}", h.update)
		r.Delete("/{id}", h.delete)
		r.Post("/{id}/items", h.addItem)
		r.Patch("/{id}/items/{productID}", h.updateItem)
		r.Delete("/{id}/items/{productID}", h.removeItem)
		r.Post("/{id}/move-to-cart", h.moveToCart)
		r.Post("/{id}/copy", h.copy)
		r.Get("/{id}/price-drops", h.priceDrops)
	})
}

// RegisterPublic mounts the share-link route, which needs no token.
func (h *WishlistHandler) RegisterPublic(r chi.Router) {
	r.Get("/shared/wishlists/{token}", h.shared)
}

func wishlistOrError(w http.ResponseWriter, r *http.Request, code int, wl wishlist.Wishlist, err error) {
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, code, wl)
}

func (h *WishlistHandler) list(w http.ResponseWriter, r *http.Request) {
	lists, err := h.Wishlists.List(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if lists == nil {
		lists = []wishlist.Wishlist{}
	}
	writeJSON(w, http.StatusOK, lists)
}

func (h *WishlistHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createWishlistReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	wl, err := h.Wishlists.Create(r.Context(), caller(r), req.Name, req.IsPublic)
	wishlistOrError(w, r, http.StatusCreated, wl, err)
}

func (h *WishlistHandler) get(w http.ResponseWriter, r *http.Request) {
	wl, err := h.Wishlists.Get(r.Context(), caller(r), chi.URLParam(r, "id"))
	wishlistOrError(w, r, http.StatusOK, wl, err)
}

func (h *WishlistHandler) update(w http.ResponseWriter, r *http.Request) {
	var req updateWishlistReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	wl, err := h.Wishlists.Update(r.Context(), caller(r), chi.URLParam(r, "id"), wishlist.Update{Name: req.Name, IsPublic: req.IsPublic})
	wishlistOrError(w, r, http.StatusOK, wl, err)
}

func (h *WishlistHandler) delete(w http.ResponseWriter, r *http.Request) {
	if err := h.Wishlists.Delete(r.Context(), caller(r), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WishlistHandler) addItem(w http.ResponseWriter, r *http.Request) {
	var req addWishlistItemReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	wl, err := h.Wishlists.AddItem(r.Context(), caller(r), chi.URLParam(r, "id"), req.ProductID, req.Notes, req.Priority)
	wishlistOrError(w, r, http.StatusCreated, wl, err)
}

func (h *WishlistHandler) updateItem(w http.ResponseWriter, r *http.Request) {
	var req updateWishlistItemReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	wl, err := h.Wishlists.UpdateItem(r.Context(), caller(r), chi.URLParam(r, "id"), chi.URLParam(r, "productID"),
		wishlist.ItemUpdate{Notes: req.Notes, Priority: req.Priority})
	wishlistOrError(w, r, http.StatusOK, wl, err)
}

func (h *WishlistHandler) removeItem(w http.ResponseWriter, r *http.Request) {
	wl, err := h.Wishlists.RemoveItem(r.Context(), caller(r), chi.URLParam(r, "id"), chi.URLParam(r, "productID"))
	wishlistOrError(w, r, http.StatusOK, wl, err)
}

func (h *WishlistHandler) moveToCart(w http.ResponseWriter, r *http.Request) {
	var req moveReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	res, err := h.Wishlists.MoveToCart(r.Context(), caller(r), chi.URLParam(r, "id"), req.Items)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *WishlistHandler) copy(w http.ResponseWriter, r *http.Request) {
	wl, err := h.Wishlists.Copy(r.Context(), caller(r), chi.URLParam(r, "id"))
	wishlistOrError(w, r, http.StatusCreated, wl, err)
}

func (h *WishlistHandler) priceDrops(w http.ResponseWriter, r *http.Request) {
	drops, err := h.Wishlists.PriceDrops(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, drops)
}

func (h *WishlistHandler) shared(w http.ResponseWriter, r *http.Request) {
	wl, err := h.Wishlists.PublicView(r.Context(), chi.URLParam(r, "token"))
	wishlistOrError(w, r, http.StatusOK, wl, err)
}
