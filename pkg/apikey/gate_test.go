package apikey

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requestWithKey(role string) *http.Request {
	r := httptest.NewRequest("GET", "/v1/admin/stats", nil)
	key := &ApiKey{ID: uuid.New(), Active: true, RoleName: role}
	return r.WithContext(context.WithValue(r.Context(), apiKeyCtxKey, key))
}

func TestFromContextRoundTrip(t *testing.T) {
	r := requestWithKey(RoleStandard)
	key := FromContext(r.Context())
	require.NotNil(t, key)
	assert.Equal(t, RoleStandard, key.RoleName)
}

func TestFromContextMissingIsNil(t *testing.T) {
	r := httptest.NewRequest("GET", "/", nil)
	assert.Nil(t, FromContext(r.Context()))
}

func TestRequireRoleAllowsMatchingRole(t *testing.T) {
	called := false
	h := RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, requestWithKey(RoleAdmin))
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRequireRoleRejectsOtherRole(t *testing.T) {
	h := RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run for a non-admin key")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, requestWithKey(RoleStandard))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRequireRoleRejectsUngatedRequest(t *testing.T) {
	h := RequireRole(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run without an authenticated key")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/v1/admin/stats", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}
