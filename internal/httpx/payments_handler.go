package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ariefcatur/go-marketplace-core/internal/payments"
)

type PaymentsHandler struct {
	Payments *payments.Reconciler
}

type confirmReq struct {
	IntentID string `json:"intentId"`
}

type saveMethodReq struct {
	Kind      string `json:"kind"`
	Label     string `json:"label"`
	IsDefault bool   `json:"isDefault"`
}

func (h *PaymentsHandler) Register(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		r.Get("/methods", h.methods)
		r.Get("/saved-methods", h.listSaved)
		r.Post("/saved-methods", h.save)
		r.Get("/{orderID}", h.get)
		r.Post("/{orderID}/intent", h.createIntent)
		r.Post("/{orderID}/confirm", h.confirm)
		r.Post("/{orderID}/refunds", h.refund)
	})
}

func (h *PaymentsHandler) methods(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"methods": h.Payments.Methods()})
}

func (h *PaymentsHandler) listSaved(w http.ResponseWriter, r *http.Request) {
	ms, err := h.Payments.ListSavedMethods(r.Context(), caller(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ms == nil {
		ms = []payments.SavedMethod{}
	}
	writeJSON(w, http.StatusOK, ms)
}

func (h *PaymentsHandler) save(w http.ResponseWriter, r *http.Request) {
	var req saveMethodReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	m, err := h.Payments.SaveMethod(r.Context(), caller(r), req.Kind, req.Label, req.IsDefault)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *PaymentsHandler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Payments.Get(r.Context(), caller(r), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *PaymentsHandler) createIntent(w http.ResponseWriter, r *http.Request) {
	in, err := h.Payments.CreateIntent(r.Context(), caller(r), chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, in)
}

func (h *PaymentsHandler) confirm(w http.ResponseWriter, r *http.Request) {
	var req confirmReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := h.Payments.Confirm(r.Context(), caller(r), chi.URLParam(r, "orderID"), req.IntentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *PaymentsHandler) refund(w http.ResponseWriter, r *http.Request) {
	var req refundReq
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ref, err := h.Payments.Refund(r.Context(), caller(r), chi.URLParam(r, "orderID"), req.Amount, req.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ref)
}
