package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/auth"
)

type stubAuthenticator struct {
	byToken map[string]*auth.AuthContext
}

func (s *stubAuthenticator) Authenticate(ctx context.Context, token string) (*auth.AuthContext, error) {
	if ac, ok := s.byToken[token]; ok {
		return ac, nil
	}
	return nil, apperrors.Unauthenticatedf("invalid token")
}

func userCtx(id int64, admin bool) *auth.AuthContext {
	return &auth.AuthContext{User: &auth.User{ID: id, Username: "u", IsAdmin: admin, IsActive: true}}
}

func passThrough(t *testing.T, hit *bool) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*hit = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddlewareValidToken(t *testing.T) {
	stub := &stubAuthenticator{byToken: map[string]*auth.AuthContext{"good": userCtx(7, false)}}
	var hit bool
	var seen *auth.AuthContext
	handler := NewAuthMiddleware(stub, false).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hit = true
		seen = GetAuthContext(r)
	}))

	req := httptest.NewRequest("GET", "/requests", nil)
	req.Header.Set("Authorization", "Bearer good")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, hit)
	require.NotNil(t, seen)
	assert.Equal(t, int64(7), seen.User.ID)
}

func TestAuthMiddlewareRejections(t *testing.T) {
	stub := &stubAuthenticator{byToken: map[string]*auth.AuthContext{}}
	var hit bool
	handler := NewAuthMiddleware(stub, false).Handler(passThrough(t, &hit))

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc"},
		{"unknown token", "Bearer nope"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hit = false
			req := httptest.NewRequest("GET", "/requests", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.False(t, hit, "handler must not run")
		})
	}
}

func TestAuthMiddlewareOptional(t *testing.T) {
	stub := &stubAuthenticator{byToken: map[string]*auth.AuthContext{}}
	var hit bool
	handler := NewAuthMiddleware(stub, true).Handler(passThrough(t, &hit))

	req := httptest.NewRequest("GET", "/purposes", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.True(t, hit)
	assert.Equal(t, http.StatusOK, rec.Code)

	// A presented-but-bad token still fails, even in optional mode.
	hit = false
	req = httptest.NewRequest("GET", "/purposes", nil)
	req.Header.Set("Authorization", "Bearer bad")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, hit)
}
