package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/cart"
	"github.com/ariefcatur/go-marketplace-core/internal/observability"
	"github.com/ariefcatur/go-marketplace-core/internal/orders"
	"github.com/ariefcatur/go-marketplace-core/internal/payments"
	"github.com/ariefcatur/go-marketplace-core/internal/redisx"
)

// Idempotency claims client-supplied request keys. redisx.Idempotency
// implements it.
type Idempotency interface {
	Claim(ctx context.Context, key string) (existing string, claimed bool, err error)
	Complete(ctx context.Context, key, result string) error
	Abandon(ctx context.Context, key string) error
}

type OrdersHandler struct {
	Orders   *orders.Service
	Carts    *cart.Service
	Payments *payments.Reconciler
	Idem     Idempotency
}

const idempotencyHeader = "Idempotency-Key"

type reasonReq struct {
	Reason string `json:"reason"`
}

type refundReq struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.create)
		r.Get("/", h.list)
		r.Get("/stats", h.stats)
		r.Get("/{id}", h.get)
		r.Get("/{id}/status", h.status)
		r.Post("/{id}/transitions", h.transition)
		r.Post("/{id}/cancel", h.cancel)
		r.Post("/{id}/return", h.initiateReturn)
		r.Post("/{id}/refunds", h.refund)
	})
}

// create checks out the buyer's selected cart lines. A repeated
// Idempotency-Key returns the order created by the first request.
func (h *OrdersHandler) create(w http.ResponseWriter, r *http.Request) {
	actor := caller(r)
	if actor.Role != auth.RoleBuyer {
		writeError(w, r, apperr.Forbidden("only buyers place orders"))
		return
	}
	ctx := r.Context()

	key := strings.TrimSpace(r.Header.Get(idempotencyHeader))
	if key != "" && h.Idem != nil {
		key = redisx.IdemOrderCreateKey(actor.UserID, key)
		existing, claimed, err := h.Idem.Claim(ctx, key)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if !claimed {
			if existing == "" {
				writeError(w, r, apperr.New(apperr.KindConflict, "request_in_progress", "a request with this idempotency key is still running"))
				return
			}
			o, err := h.Orders.Get(ctx, actor, existing)
			if err != nil {
				writeError(w, r, err)
				return
			}
			w.Header().Set("Idempotent-Replayed", "true")
			writeJSON(w, http.StatusOK, o)
			return
		}
	} else {
		key = ""
	}

	o, err := h.place(ctx, actor)
	if err != nil {
		if key != "" {
			if aerr := h.Idem.Abandon(ctx, key); aerr != nil {
				observability.FromContext(ctx, nil).Warn("idempotency abandon failed", zap.Error(aerr))
			}
		}
		writeError(w, r, err)
		return
	}
	if key != "" {
		if err := h.Idem.Complete(ctx, key, o.ID); err != nil {
			observability.FromContext(ctx, nil).Warn("idempotency complete failed", zap.String("order_id", o.ID), zap.Error(err))
		}
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *OrdersHandler) place(ctx context.Context, actor auth.Identity) (orders.Order, error) {
	snap, err := h.Carts.CheckoutSnapshot(ctx, actor.UserID)
	if err != nil {
		return orders.Order{}, err
	}
	return h.Orders.Build(ctx, actor, snap)
}

func (h *OrdersHandler) list(w http.ResponseWriter, r *http.Request) {
	var f orders.Filter
	if s := r.URL.Query().Get("status"); s != "" {
		st, err := orders.ParseStatus(s)
		if err != nil {
			writeError(w, r, apperr.Validation("unknown status %q", s))
			return
		}
		f.Status = st
	}
	var err error
	if f.Limit, err = queryInt(r, "limit", 50); err != nil {
		writeError(w, r, err)
		return
	}
	if f.Offset, err = queryInt(r, "offset", 0); err != nil {
		writeError(w, r, err)
		return
	}
	list, err := h.Orders.List(r.Context(), caller(r), f)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []orders.Order{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"orders": list, "limit": f.Limit, "offset": f.Offset})
}

func (h *OrdersHandler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.Orders.Stats(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// orderView adds the statuses the caller may move the order to next.
type orderView struct {
	orders.Order
	NextStatuses []orders.Status `json:"nextStatuses"`
}

func viewOf(o orders.Order, actor auth.Identity) orderView {
	next := orders.Next(o.Status, actor.Role)
	if next == nil {
		next = []orders.Status{}
	}
	return orderView{Order: o, NextStatuses: next}
}

func (h *OrdersHandler) get(w http.ResponseWriter, r *http.Request) {
	actor := caller(r)
	o, err := h.Orders.Get(r.Context(), actor, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(o, actor))
}

func (h *OrdersHandler) status(w http.ResponseWriter, r *http.Request) {
	cs, err := h.Orders.Status(r.Context(), caller(r), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *OrdersHandler) transition(w http.ResponseWriter, r *http.Request) {
	var req orders.TransitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	actor := caller(r)
	o, err := h.Orders.Transition(r.Context(), actor, chi.URLParam(r, "id"), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(o, actor))
}

func (h *OrdersHandler) cancel(w http.ResponseWriter, r *http.Request) {
	var req reasonReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.Cancel(r.Context(), caller(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) initiateReturn(w http.ResponseWriter, r *http.Request) {
	var req reasonReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.Orders.InitiateReturn(r.Context(), caller(r), chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

func (h *OrdersHandler) refund(w http.ResponseWriter, r *http.Request) {
	if h.Payments == nil {
		writeError(w, r, apperr.New(apperr.KindGatewayUnavailable, "payments_disabled", "payments are not configured"))
		return
	}
	var req refundReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ref, err := h.Payments.Refund(r.Context(), caller(r), chi.URLParam(r, "id"), req.Amount, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}
