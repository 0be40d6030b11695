package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-marketplace-core/internal/apperr"
	"github.com/ariefcatur/go-marketplace-core/internal/auth"
	"github.com/ariefcatur/go-marketplace-core/internal/observability"
)

const maxBody = 1 << 20

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto its HTTP status. Unclassified errors are logged
// and reported as internal.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	code, msg := apperr.Public(err)
	status := kind.HTTPStatus()
	if status >= http.StatusInternalServerError {
		observability.FromContext(r.Context(), nil).Error("request failed",
			zap.String("code", code), zap.Error(err))
	}
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: msg}})
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid json: %v", err)
	}
	return nil
}

// caller returns the authenticated identity. Routes behind the verifier
// always carry one.
func caller(r *http.Request) auth.Identity {
	id, _ := auth.FromContext(r.Context())
	return id
}

func buyerOf(r *http.Request) (string, error) {
	id := caller(r)
	if id.Role != auth.RoleBuyer {
		return "", apperr.Forbidden("only buyers have a cart")
	}
	return id.UserID, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperr.Validation("%s must be a non-negative integer", name)
	}
	return n, nil
}
