package requests

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/audit"
	"github.com/cloudrounds/rounds/pkg/auth"
	"github.com/cloudrounds/rounds/pkg/httputil"
	"github.com/cloudrounds/rounds/pkg/purposes"
)

// Handlers provides HTTP handlers for the access-request workflow.
type Handlers struct {
	service     *Service
	checker     *purposes.Checker
	auditLogger audit.Logger
}

// NewHandlers creates request handlers.
func NewHandlers(service *Service, checker *purposes.Checker, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handlers{service: service, checker: checker, auditLogger: auditLogger}
}

// RegisterRoutes registers request routes behind the auth middleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/requests", h.Submit).Methods("POST")
	router.HandleFunc("/requests", h.List).Methods("GET")
	router.HandleFunc("/requests/pending", h.ListPending).Methods("GET")
	router.HandleFunc("/requests/{id}", h.Get).Methods("GET")
	router.HandleFunc("/requests/{id}/resolve", h.Resolve).Methods("PUT")
	router.HandleFunc("/requests/{id}", h.Delete).Methods("DELETE")
}

// Submit files an access request on behalf of the caller.
func (h *Handlers) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req SubmitRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	created, err := h.service.Submit(ctx, authCtx.User.ID, req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.auditLogger.Log(ctx, audit.NewEvent(ctx, audit.EventTypeRequestSubmit, audit.EventStatusSuccess).
		WithRequest(r).WithResource(audit.ResourceTypeRequest, strconv.FormatInt(created.ID, 10)).
		WithDetail("purpose "+created.PurposeName))
	httputil.WriteCreated(w, created)
}

// List returns all requests for admins and the caller's own otherwise.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var (
		list []*Request
		err  error
	)
	if authCtx.IsAdmin() {
		list, err = h.service.ListAll(ctx)
	} else {
		list, err = h.service.ListForUser(ctx, authCtx.User.ID)
	}
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"requests": list, "count": len(list)})
}

// ListPending returns the approver work queue: every pending request for
// admins, and for everyone else the pending requests on purposes they
// can write.
func (h *Handlers) ListPending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	pending, err := h.service.ListPending(ctx)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if !authCtx.IsAdmin() {
		filtered := pending[:0]
		for _, req := range pending {
			allowed, err := h.checker.Allowed(ctx, authCtx.User.ID, req.PurposeName, purposes.CapabilityWrite)
			if err != nil {
				httputil.WriteAppError(w, err)
				return
			}
			if allowed {
				filtered = append(filtered, req)
			}
		}
		pending = filtered
	}
	httputil.WriteSuccess(w, map[string]interface{}{"requests": pending, "count": len(pending)})
}

// Get returns one request; visible to its owner, admins, and holders of
// write capability on its purpose.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	req, err := h.service.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if req.UserID != authCtx.User.ID {
		if err := h.requireApprover(w, r, authCtx, req.PurposeName); err != nil {
			return
		}
	}
	httputil.WriteSuccess(w, req)
}

// Resolve approves or denies a pending request. Restricted to admins and
// write-capability holders on the request's purpose.
func (h *Handlers) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req ResolveRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	existing, err := h.service.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if err := h.requireApprover(w, r, authCtx, existing.PurposeName); err != nil {
		return
	}

	resolved, err := h.service.Resolve(ctx, id, req, authCtx.User.ID)
	if err != nil && resolved == nil {
		httputil.WriteAppError(w, err)
		return
	}

	eventType := audit.EventTypeRequestDeny
	if req.Decision == DecisionApprove {
		eventType = audit.EventTypeRequestApprove
	}
	eventStatus := audit.EventStatusSuccess
	detail := "purpose " + resolved.PurposeName
	if err != nil {
		eventStatus = audit.EventStatusFailure
		detail += "; approval committed, membership grant deferred"
	}
	_ = h.auditLogger.Log(ctx, audit.NewEvent(ctx, eventType, eventStatus).
		WithRequest(r).WithResource(audit.ResourceTypeRequest, strconv.FormatInt(id, 10)).
		WithDetail(detail))

	if err != nil {
		// Approval committed but the grant is owed: surface the
		// retryable fault alongside the authoritative state.
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, resolved)
}

// Delete removes a request; allowed for its owner and admins.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	existing, err := h.service.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if existing.UserID != authCtx.User.ID && !authCtx.IsAdmin() {
		httputil.WriteAppError(w, apperrors.Forbiddenf("only the requester or an admin may delete request %d", id))
		return
	}

	if err := h.service.Delete(ctx, id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.auditLogger.Log(ctx, audit.NewEvent(ctx, audit.EventTypeRequestDelete, audit.EventStatusSuccess).
		WithRequest(r).WithResource(audit.ResourceTypeRequest, strconv.FormatInt(id, 10)))
	httputil.WriteNoContent(w)
}

// requireApprover allows admins and write-capability holders. Writes the
// error response itself.
func (h *Handlers) requireApprover(w http.ResponseWriter, r *http.Request, authCtx *auth.AuthContext, purposeName string) error {
	if authCtx.IsAdmin() {
		return nil
	}
	allowed, err := h.checker.Allowed(r.Context(), authCtx.User.ID, purposeName, purposes.CapabilityWrite)
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
