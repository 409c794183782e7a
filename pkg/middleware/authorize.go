package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/cloudrounds/rounds/pkg/auth"
	"github.com/cloudrounds/rounds/pkg/httputil"
	"github.com/cloudrounds/rounds/pkg/purposes"
)

// PurposeResolver extracts the purpose name an incoming request is
// about. Returning "" means the purpose could not be determined and the
// check fails closed with a 400.
type PurposeResolver func(r *http.Request) string

// FromPathVar resolves the purpose from a mux path variable.
func FromPathVar(name string) PurposeResolver {
	return func(r *http.Request) string {
		return mux.Vars(r)[name]
	}
}

// FromQueryParam resolves the purpose from a query parameter.
func FromQueryParam(name string) PurposeResolver {
	return func(r *http.Request) string {
		return r.URL.Query().Get(name)
	}
}

// FromJSONBody resolves the purpose from a string field in the JSON
// body. The body is restored so the handler can read it again.
func FromJSONBody(field string) PurposeResolver {
	return func(r *http.Request) string {
		if r.Body == nil {
			return ""
		}
		raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if err != nil {
			return ""
		}
		var payload map[string]json.RawMessage
		if err := json.Unmarshal(raw, &payload); err != nil {
			return ""
		}
		var value string
		if err := json.Unmarshal(payload[field], &value); err != nil {
			return ""
		}
		return value
	}
}

// RequireCapability gates a handler on the caller holding capability on
// the purpose named by resolver. Unauthenticated callers get 401 before
// any evaluation; a deny is 403 and never reaches the handler, so no
// side effect can precede the authorization decision. Admins bypass the
// membership check.
func RequireCapability(checker *purposes.Checker, capability purposes.Capability, resolver PurposeResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authCtx, ok := auth.FromContext(r.Context())
			if !ok {
				httputil.WriteUnauthorized(w, "authentication required")
				return
			}
			if authCtx.IsAdmin() {
				next.ServeHTTP(w, r)
				return
			}

			purposeName := resolver(r)
			if purposeName == "" {
				httputil.WriteBadRequest(w, "purpose could not be determined from the request")
				return
			}

			allowed, err := checker.Allowed(r.Context(), authCtx.User.ID, purposeName, capability)
			if err != nil {
				httputil.WriteAppError(w, err)
				return
			}
			if !allowed {
				httputil.WriteForbidden(w, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireAdmin gates a handler on platform-admin status.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCtx, ok := auth.FromContext(r.Context())
		if !ok {
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}
		if !authCtx.IsAdmin() {
			httputil.WriteForbidden(w, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
