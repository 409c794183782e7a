package purposes

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/audit"
	"github.com/cloudrounds/rounds/pkg/auth"
	"github.com/cloudrounds/rounds/pkg/httputil"
)

// Handlers provides HTTP handlers for purpose management.
type Handlers struct {
	registry    *Registry
	checker     *Checker
	auditLogger audit.Logger
}

// NewHandlers creates purpose handlers.
func NewHandlers(registry *Registry, checker *Checker, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handlers{registry: registry, checker: checker, auditLogger: auditLogger}
}

// RegisterRoutes registers purpose routes. The router is expected to sit
// behind the auth middleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/purposes", h.Create).Methods("POST")
	router.HandleFunc("/purposes", h.List).Methods("GET")
	router.HandleFunc("/purposes/{name}", h.Get).Methods("GET")
	router.HandleFunc("/purposes/{name}", h.Delete).Methods("DELETE")
	router.HandleFunc("/purposes/{name}/members", h.AddMember).Methods("POST")
	router.HandleFunc("/purposes/{name}/members/{user_id}/{capability}", h.RemoveMember).Methods("DELETE")
	router.HandleFunc("/purposes/check", h.CheckPermission).Methods("POST")
}

// Create registers a new purpose with the caller as its first member.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	p, err := h.registry.Create(ctx, req, authCtx.User.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}

	if err := h.auditLogger.Log(ctx, audit.NewEvent(ctx, audit.EventTypePurposeCreate, audit.EventStatusSuccess).
		WithRequest(r).WithResource(audit.ResourceTypePurpose, p.Name)); err != nil {
		// Audit failures never fail the mutation.
		_ = err
	}
	httputil.WriteCreated(w, p)
}

// List returns all purposes.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	list, err := h.registry.List(r.Context())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"purposes": list, "count": len(list)})
}

// Get returns one purpose with its member sets.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	p, err := h.registry.Get(r.Context(), name)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, p)
}

// Delete removes a purpose. Only admins and write-capability members may
// delete, and the registry refuses while pending requests reference the
// purpose.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	if err := h.requireManager(w, r, authCtx, name); err != nil {
		return
	}
	if err := h.registry.Delete(ctx, name); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.auditLogger.Log(ctx, audit.NewEvent(ctx, audit.EventTypePurposeDelete, audit.EventStatusSuccess).
		WithRequest(r).WithResource(audit.ResourceTypePurpose, name))
	httputil.WriteNoContent(w)
}

// AddMember grants a capability directly, outside the request workflow.
func (h *Handlers) AddMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}

	var req MemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.UserID <= 0 {
		httputil.WriteBadRequest(w, "user_id is required")
		return
	}

	if err := h.requireManager(w, r, authCtx, name); err != nil {
		return
	}

	if err := h.registry.AddMember(ctx, name, req.UserID, req.Capability, authCtx.User.ID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.auditLogger.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAuthzMembershipGrant, audit.EventStatusSuccess).
		WithRequest(r).WithResource(audit.ResourceTypePurpose, name).
		WithDetail("granted "+string(req.Capability)+" to user "+strconv.FormatInt(req.UserID, 10)))
	httputil.WriteNoContent(w)
}

// RemoveMember revokes a capability.
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	name, ok := httputil.ParsePathStringOrError(w, r, "name")
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	cap := Capability(mux.Vars(r)["capability"])
	if !cap.Valid() {
		httputil.WriteBadRequest(w, "capability must be read or write")
		return
	}

	if err := h.requireManager(w, r, authCtx, name); err != nil {
		return
	}

	if err := h.registry.RemoveMember(ctx, name, userID, cap); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.auditLogger.Log(ctx, audit.NewEvent(ctx, audit.EventTypeAuthzMembershipRevoke, audit.EventStatusSuccess).
		WithRequest(r).WithResource(audit.ResourceTypePurpose, name).
		WithDetail("revoked "+string(cap)+" from user "+strconv.FormatInt(userID, 10)))
	httputil.WriteNoContent(w)
}

// CheckPermission evaluates a permission for the caller and returns the
// full decision. Useful for UIs that pre-compute what to show.
func (h *Handlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req struct {
		PurposeName string     `json:"purpose_name"`
		Capability  Capability `json:"capability"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.PurposeName == "" || !req.Capability.Valid() {
		httputil.WriteBadRequest(w, "purpose_name and capability (read|write) are required")
		return
	}

	d, err := h.checker.Check(ctx, authCtx.User.ID, req.PurposeName, req.Capability)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, d)
}

// requireManager allows admins and write-capability members to manage a
// purpose's membership. Writes the error response itself.
func (h *Handlers) requireManager(w http.ResponseWriter, r *http.Request, authCtx *auth.AuthContext, purposeName string) error {
	if authCtx.IsAdmin() {
		return nil
	}
	allowed, err := h.checker.Allowed(r.Context(), authCtx.User.ID, purposeName, CapabilityWrite)
	if err != nil {
		httputil.WriteAppError(w, err)
		return err
	}
	if !allowed {
		_ = h.auditLogger.Log(r.Context(), audit.NewEvent(r.Context(), audit.EventTypeAuthzDenied, audit.EventStatusDenied).
			WithRequest(r).WithResource(audit.ResourceTypePurpose, purposeName))
		err := apperrors.Forbiddenf("write capability on %q required", purposeName)
		httputil.WriteAppError(w, err)
		return err
	}
	return nil
}
