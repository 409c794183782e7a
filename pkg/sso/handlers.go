package sso

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/cloudrounds/rounds/pkg/audit"
	"github.com/cloudrounds/rounds/pkg/httputil"
)

const (
	stateCookieName = "rounds_sso_state"
	stateTTL        = 10 * time.Minute
)

// Handlers provides the OIDC login endpoints.
type Handlers struct {
	exchanger    Exchanger
	provisioner  *Provisioner
	auditLogger  audit.Logger
	secureCookie bool
}

// NewHandlers creates SSO handlers. secureCookie should be true
// whenever the service is served over TLS.
func NewHandlers(exchanger Exchanger, provisioner *Provisioner, auditLogger audit.Logger, secureCookie bool) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handlers{exchanger: exchanger, provisioner: provisioner, auditLogger: auditLogger, secureCookie: secureCookie}
}

// RegisterRoutes registers the SSO routes. Both are public.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/sso/login", h.Login).Methods("GET")
	router.HandleFunc("/auth/sso/callback", h.Callback).Methods("GET")
}

// Login starts the authorization-code flow: the random state is bound
// to a short-lived cookie and echoed back by the provider.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	state, err := newState()
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/",
		MaxAge:   int(stateTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, h.exchanger.AuthCodeURL(state), http.StatusFound)
}

// Callback verifies state, exchanges the code, resolves the identity to
// a local account, and returns an API token.
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" {
		h.auditFailure(r, "missing sso state cookie")
		httputil.WriteBadRequest(w, "missing sso state")
		return
	}
	state := r.URL.Query().Get("state")
	if subtle.ConstantTimeCompare([]byte(state), []byte(cookie.Value)) != 1 {
		h.auditFailure(r, "sso state mismatch")
		httputil.WriteBadRequest(w, "invalid sso state")
		return
	}
	// One-shot: clear the cookie whatever happens next.
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Value: "", Path: "/", MaxAge: -1, HttpOnly: true, Secure: h.secureCookie})

	code := r.URL.Query().Get("code")
	if code == "" {
		h.auditFailure(r, "missing authorization code")
		httputil.WriteBadRequest(w, "missing authorization code")
		return
	}

	identity, err := h.exchanger.Exchange(ctx, code)
	if err != nil {
		h.auditFailure(r, "code exchange failed")
		httputil.WriteAppError(w, err)
		return
	}

	user, token, err := h.provisioner.Login(ctx, identity)
	if err != nil {
		h.auditFailure(r, fmt.Sprintf("login failed for subject %s", identity.Subject))
		httputil.WriteAppError(w, err)
		return
	}

	_ = h.auditLogger.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAuthSSOLogin, audit.EventStatusSuccess).
		WithRequest(r).WithActor(user.ID, user.Username).
		WithResource(audit.ResourceTypeUser, fmt.Sprintf("%d", user.ID)))
	httputil.WriteSuccess(w, map[string]interface{}{"token": token, "user": user})
}

func (h *Handlers) auditFailure(r *http.Request, detail string) {
	ctx := r.Context()
	_ = h.auditLogger.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAuthSSOLogin, audit.EventStatusFailure).
		WithRequest(r).WithDetail(detail))
}

func newState() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
