package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifierRoundTrip(t *testing.T) {
	v, err := NewVerifier("top-secret")
	require.NoError(t, err)

	token, err := v.Sign(Identity{UserID: "u-1", Role: RoleSeller}, time.Hour)
	require.NoError(t, err)

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, Identity{UserID: "u-1", Role: RoleSeller}, id)
}

func TestVerifierRejects(t *testing.T) {
	v, _ := NewVerifier("top-secret")
	other, _ := NewVerifier("other-secret")

	forged, err := other.Sign(Identity{UserID: "u-1", Role: RoleAdmin}, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(forged)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := v.Sign(Identity{UserID: "u-1", Role: RoleBuyer}, -time.Minute)
	require.NoError(t, err)
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	system, err := v.Sign(System, time.Hour)
	require.NoError(t, err)
	_, err = v.Verify(system)
	assert.ErrorIs(t, err, ErrInvalidToken, "system role must not be grantable by token")
}

func TestMiddleware(t *testing.T) {
	v, _ := NewVerifier("top-secret")
	var got Identity
	h := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got, _ = FromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token, _ := v.Sign(Identity{UserID: "b-1", Role: RoleBuyer}, time.Hour)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "b-1", got.UserID)
	assert.Equal(t, RoleBuyer, got.Role)
}
