package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"ms-events/internal/apperr"
	"ms-events/internal/logger"
	"ms-events/internal/models"
	"ms-events/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestMiddleware(store *MockUserStore) *Middleware {
	return NewMiddleware(NewTokenService("test-secret", time.Hour, "ms-events"), store, logger.NewNop(), false)
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("user=" + UserID(r.Context())))
	})
}

func bearer(t *testing.T, m *Middleware, userID string) string {
	token, _, err := m.Tokens.Issue(userID)
	require.NoError(t, err)
	return "Bearer " + token
}

func decodeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	var body utils.ErrorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Code
}

func TestProtect(t *testing.T) {
	active := &models.User{ID: "u-active", Role: models.RoleUser, IsActive: true}
	inactive := &models.User{ID: "u-inactive", Role: models.RoleUser, IsActive: false}

	store := new(MockUserStore)
	store.On("GetUserByID", mock.Anything, "u-active").Return(active, nil)
	store.On("GetUserByID", mock.Anything, "u-inactive").Return(inactive, nil)
	store.On("GetUserByID", mock.Anything, "u-missing").Return(nil, apperr.NotFound("User not found"))
	store.On("GetUserByID", mock.Anything, "u-broken").Return(nil, errors.New("db down"))
	m := newTestMiddleware(store)
	handler := m.Protect(echoUser())

	tests := []struct {
		name   string
		header string
		status int
		code   string
	}{
		{"valid token", bearer(t, m, "u-active"), http.StatusOK, ""},
		{"missing header", "", http.StatusUnauthorized, "Unauthorized"},
		{"malformed header", "Token abc", http.StatusUnauthorized, "Unauthorized"},
		{"invalid token", "Bearer abc.def.ghi", http.StatusUnauthorized, "InvalidToken"},
		{"unknown user", bearer(t, m, "u-missing"), http.StatusUnauthorized, "Unauthorized"},
		{"inactive user", bearer(t, m, "u-inactive"), http.StatusUnauthorized, "Unauthorized"},
		{"store failure", bearer(t, m, "u-broken"), http.StatusInternalServerError, "InternalError"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			if tt.code == "" {
				assert.Equal(t, "user=u-active", rec.Body.String())
			} else {
				assert.Equal(t, tt.code, decodeCode(t, rec))
			}
		})
	}
}

func TestProtectExpiredToken(t *testing.T) {
	store := new(MockUserStore)
	m := newTestMiddleware(store)
	expired := m.Tokens.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	token, _, err := expired.Issue("u-active")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	m.Protect(echoUser()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "TokenExpired", decodeCode(t, rec))
	store.AssertNotCalled(t, "GetUserByID", mock.Anything, mock.Anything)
}

func TestOptional(t *testing.T) {
	store := new(MockUserStore)
	store.On("GetUserByID", mock.Anything, "u1").Return(&models.User{ID: "u1", IsActive: true}, nil)
	m := newTestMiddleware(store)
	handler := m.Optional(echoUser())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user=", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", bearer(t, m, "u1"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, "user=u1", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthorize(t *testing.T) {
	store := new(MockUserStore)
	store.On("GetUserByID", mock.Anything, "admin").Return(&models.User{ID: "admin", Role: models.RoleAdmin, IsActive: true}, nil)
	store.On("GetUserByID", mock.Anything, "user").Return(&models.User{ID: "user", Role: models.RoleUser, IsActive: true}, nil)
	m := newTestMiddleware(store)
	handler := m.Protect(m.Authorize(models.RoleAdmin)(echoUser()))

	req := httptest.NewRequest(http.MethodPatch, "/api/admin/users/x/active", nil)
	req.Header.Set("Authorization", bearer(t, m, "admin"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPatch, "/api/admin/users/x/active", nil)
	req.Header.Set("Authorization", bearer(t, m, "user"))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "Forbidden", decodeCode(t, rec))

	rec = httptest.NewRecorder()
	m.Authorize(models.RoleAdmin)(echoUser()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
