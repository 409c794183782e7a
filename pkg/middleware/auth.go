package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/cloudrounds/rounds/pkg/auth"
	"github.com/cloudrounds/rounds/pkg/contextkeys"
	"github.com/cloudrounds/rounds/pkg/httputil"
)

// Authenticator resolves a bearer token to a verified identity.
// Satisfied by auth.Store.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.AuthContext, error)
}

// AuthMiddleware resolves the Authorization header to an auth context.
type AuthMiddleware struct {
	authenticator Authenticator
	optional      bool
}

// NewAuthMiddleware creates authentication middleware. When optional is
// true, requests without credentials pass through unauthenticated and
// downstream authorization decides what they may do.
func NewAuthMiddleware(authenticator Authenticator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{authenticator: authenticator, optional: optional}
}

// Handler wraps next with bearer-token authentication.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			httputil.WriteUnauthorized(w, "invalid authorization header format")
			return
		}

		authCtx, err := m.authenticator.Authenticate(r.Context(), parts[1])
		if err != nil {
			httputil.WriteUnauthorized(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithUserID(ctx, authCtx.User.ID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAuthContext extracts the auth context from a request, nil when
// unauthenticated.
func GetAuthContext(r *http.Request) *auth.AuthContext {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		return nil
	}
	return authCtx
}
