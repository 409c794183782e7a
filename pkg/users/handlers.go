package users

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/audit"
	"github.com/cloudrounds/rounds/pkg/auth"
	"github.com/cloudrounds/rounds/pkg/httputil"
	"github.com/cloudrounds/rounds/pkg/notify"
	"github.com/cloudrounds/rounds/pkg/purposes"
)

// Sender enqueues a notification without blocking.
type Sender interface {
	Send(msg notify.Message)
}

// Handlers provides HTTP handlers for accounts and credential flows.
type Handlers struct {
	service     *Service
	authStore   *auth.Store
	registry    *purposes.Registry
	sender      Sender
	auditLogger audit.Logger
}

// NewHandlers creates user handlers. sender and auditLogger may be nil.
func NewHandlers(service *Service, authStore *auth.Store, registry *purposes.Registry, sender Sender, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handlers{service: service, authStore: authStore, registry: registry, sender: sender, auditLogger: auditLogger}
}

// RegisterPublicRoutes registers the unauthenticated credential routes.
func (h *Handlers) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/auth/register", h.Register).Methods("POST")
	router.HandleFunc("/auth/login", h.Login).Methods("POST")
	router.HandleFunc("/auth/forgot-password", h.ForgotPassword).Methods("POST")
	router.HandleFunc("/auth/reset-password", h.ResetPassword).Methods("POST")
}

// RegisterRoutes registers the authenticated account routes.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/logout", h.Logout).Methods("POST")
	router.HandleFunc("/users", h.List).Methods("GET")
	router.HandleFunc("/users/me", h.Me).Methods("GET")
	router.HandleFunc("/users/{id}", h.Get).Methods("GET")
	router.HandleFunc("/users/{id}", h.Update).Methods("PUT")
	router.HandleFunc("/users/{id}/active", h.SetActive).Methods("PUT")
}

// Register creates an account.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	u, err := h.service.Register(r.Context(), req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.NewEvent(r.Context(), audit.EventTypeUserRegister, audit.EventStatusSuccess).
		WithRequest(r).WithResource(audit.ResourceTypeUser, strconv.FormatInt(u.ID, 10)).
		WithActor(u.ID, u.Username))
	httputil.WriteCreated(w, u)
}

// Login verifies credentials and returns a bearer token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	token, u, err := h.service.Login(r.Context(), req)
	if err != nil {
		_ = h.auditLogger.Log(r.Context(), audit.NewEvent(r.Context(), audit.EventTypeAuthLoginFailed, audit.EventStatusFailure).
			WithRequest(r).WithDetail("username "+req.Username))
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.NewEvent(r.Context(), audit.EventTypeAuthLogin, audit.EventStatusSuccess).
		WithRequest(r).WithActor(u.ID, u.Username))
	httputil.WriteSuccess(w, map[string]interface{}{"token": token, "user": u})
}

// Logout revokes the presenting token.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	if err := h.authStore.RevokeToken(r.Context(), authCtx.User.ID, authCtx.Token.ID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.NewEvent(r.Context(), audit.EventTypeAuthLogout, audit.EventStatusSuccess).WithRequest(r))
	httputil.WriteNoContent(w)
}

// ForgotPassword issues a reset token and mails it. The response is the
// same whether or not the email exists.
func (h *Handlers) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Email == "" {
		httputil.WriteBadRequest(w, "email is required")
		return
	}

	token, err := h.service.ForgotPassword(r.Context(), req.Email)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if token != "" && h.sender != nil {
		h.sender.Send(notify.Message{
			Recipient: req.Email,
			Subject:   "Password reset",
			Body:      "Use this token to reset your password: " + token + "\n\nIt expires in one hour.",
		})
	}
	httputil.WriteSuccess(w, map[string]string{"status": "ok"})
}

// ResetPassword redeems a reset token.
func (h *Handlers) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.service.ResetPassword(r.Context(), req.Token, req.Password); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.NewEvent(r.Context(), audit.EventTypeAuthPasswordReset, audit.EventStatusSuccess).WithRequest(r))
	httputil.WriteSuccess(w, map[string]string{"status": "password updated"})
}

// List returns all accounts; admin only.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	list, err := h.service.List(r.Context())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"users": list, "count": len(list)})
}

// Me returns the caller's profile with a derived membership summary.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	u, err := h.service.Get(r.Context(), authCtx.User.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	memberships, err := h.registry.UserMemberships(r.Context(), u.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"user": u, "memberships": memberships})
}

// Get returns one account; self or admin.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	authCtx, id, ok := h.selfOrAdmin(w, r)
	if !ok {
		return
	}
	_ = authCtx
	u, err := h.service.Get(r.Context(), id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, u)
}

// Update applies a partial profile update; self or admin.
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	_, id, ok := h.selfOrAdmin(w, r)
	if !ok {
		return
	}
	var req UpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	u, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.NewEvent(r.Context(), audit.EventTypeUserUpdate, audit.EventStatusSuccess).
		WithRequest(r).WithResource(audit.ResourceTypeUser, strconv.FormatInt(id, 10)))
	httputil.WriteSuccess(w, u)
}

// SetActive enables or disables an account; admin only.
func (h *Handlers) SetActive(w http.ResponseWriter, r *http.Request) {
	if !h.requireAdmin(w, r) {
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	var req struct {
		Active bool `json:"active"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if err := h.service.SetActive(r.Context(), id, req.Active); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if !req.Active {
		_ = h.auditLogger.Log(r.Context(), audit.NewEvent(r.Context(), audit.EventTypeUserDeactivate, audit.EventStatusSuccess).
			WithRequest(r).WithResource(audit.ResourceTypeUser, strconv.FormatInt(id, 10)))
	}
	httputil.WriteNoContent(w)
}

// selfOrAdmin parses the path id and checks the caller may act on it.
func (h *Handlers) selfOrAdmin(w http.ResponseWriter, r *http.Request) (*auth.AuthContext, int64, bool) {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, 0, false
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, 0, false
	}
	if id != authCtx.User.ID && !authCtx.IsAdmin() {
		httputil.WriteAppError(w, apperrors.Forbiddenf("cannot act on user %d", id))
		return nil, 0, false
	}
	return authCtx, id, true
}

// requireAdmin rejects non-admin callers and records the denial.
func (h *Handlers) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	authCtx, ok := auth.FromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return false
	}
	if !authCtx.IsAdmin() {
		_ = h.auditLogger.Log(r.Context(), audit.NewEvent(r.Context(), audit.EventTypeAuthzDenied, audit.EventStatusDenied).
			WithRequest(r).WithActor(authCtx.User.ID, authCtx.User.Username))
		httputil.WriteAppError(w, apperrors.Forbiddenf("admin required"))
		return false
	}
	return true
}
