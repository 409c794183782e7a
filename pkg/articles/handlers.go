package articles

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cloudrounds/rounds/pkg/audit"
	"github.com/cloudrounds/rounds/pkg/auth"
	"github.com/cloudrounds/rounds/pkg/httputil"
	"github.com/cloudrounds/rounds/pkg/middleware"
	"github.com/cloudrounds/rounds/pkg/purposes"
)

// Handlers provides HTTP handlers for calendar articles.
type Handlers struct {
	service     *Service
	checker     *purposes.Checker
	auditLogger audit.Logger
}

// NewHandlers creates article handlers.
func NewHandlers(service *Service, checker *purposes.Checker, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handlers{service: service, checker: checker, auditLogger: auditLogger}
}

// RegisterRoutes registers article routes behind the auth middleware.
// Create is gated on write capability for the purpose named in the
// body before the handler runs; a denied request creates nothing.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	requireWriteFromBody := middleware.RequireCapability(h.checker, purposes.CapabilityWrite, middleware.FromJSONBody("purpose_name"))

	router.Handle("/articles", requireWriteFromBody(http.HandlerFunc(h.Create))).Methods("POST")
	router.HandleFunc("/articles", h.List).Methods("GET")
	router.HandleFunc("/articles/{id}", h.Get).Methods("GET")
	router.HandleFunc("/articles/{id}", h.Update).Methods("PUT")
	router.HandleFunc("/articles/{id}", h.Delete).Methods("DELETE")
}

// Create inserts an article; write capability was checked up front.
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
	a, err := h.service.Create(ctx, req, authCtx.User.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.auditLogger.Log(ctx, audit.NewEvent(ctx, audit.EventTypeArticleCreate, audit.EventStatusSuccess).
		WithRequest(r).WithResource(audit.ResourceTypeArticle, strconv.FormatInt(a.ID, 10)).
		WithDetail("purpose "+a.PurposeName))
	httputil.WriteCreated(w, a)
}

// List returns the caller's visible calendar, filtered per readable
// purposes rather than rejected wholesale.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	list, err := h.service.ListReadable(ctx, authCtx.User.ID, authCtx.IsAdmin())
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"articles": list, "count": len(list)})
}

// Get returns one article if the caller can read its purpose.
func (h *Handlers) Get(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAuthorized(w, r, purposes.CapabilityRead)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, a)
}

// Update modifies an article; requires write capability on its purpose.
func (h *Handlers) Update(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAuthorized(w, r, purposes.CapabilityWrite)
	if !ok {
		return
	}
	var req UpdateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	updated, err := h.service.Update(r.Context(), a.ID, req)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.NewEvent(r.Context(), audit.EventTypeArticleUpdate, audit.EventStatusSuccess).
		WithRequest(r).WithResource(audit.ResourceTypeArticle, strconv.FormatInt(a.ID, 10)))
	httputil.WriteSuccess(w, updated)
}

// Delete removes an article; requires write capability on its purpose.
func (h *Handlers) Delete(w http.ResponseWriter, r *http.Request) {
	a, ok := h.loadAuthorized(w, r, purposes.CapabilityWrite)
	if !ok {
		return
	}
	if err := h.service.Delete(r.Context(), a.ID); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.auditLogger.Log(r.Context(), audit.NewEvent(r.Context(), audit.EventTypeArticleDelete, audit.EventStatusSuccess).
		WithRequest(r).WithResource(audit.ResourceTypeArticle, strconv.FormatInt(a.ID, 10)))
	httputil.WriteNoContent(w)
}

// loadAuthorized fetches the article and checks the caller holds cap on
// its purpose. The capability check needs the stored purpose, so it
// happens here rather than in route middleware. Writes error responses
// itself.
func (h *Handlers) loadAuthorized(w http.ResponseWriter, r *http.Request, cap purposes.Capability) (*Article, bool) {
	ctx := r.Context()
	authCtx, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, false
	}
	a, err := h.service.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return nil, false
	}
	if authCtx.IsAdmin() {
		return a, true
	}
	allowed, err := h.checker.Allowed(ctx, authCtx.User.ID, a.PurposeName, cap)
	if err != nil {
		httputil.WriteAppError(w, err)
		return nil, false
	}
	if !allowed {
		httputil.WriteForbidden(w, "forbidden")
		return nil, false
	}
	return a, true
}
