package feedback

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/cloudrounds/rounds/pkg/articles"
	"github.com/cloudrounds/rounds/pkg/audit"
	"github.com/cloudrounds/rounds/pkg/auth"
	"github.com/cloudrounds/rounds/pkg/httputil"
	"github.com/cloudrounds/rounds/pkg/purposes"
)

// Handlers provides HTTP handlers for article feedback.
type Handlers struct {
	service     *Service
	articles    *articles.Service
	checker     *purposes.Checker
	auditLogger audit.Logger
}

// NewHandlers creates feedback handlers.
func NewHandlers(service *Service, articleSvc *articles.Service, checker *purposes.Checker, auditLogger audit.Logger) *Handlers {
	if auditLogger == nil {
		auditLogger = audit.NopLogger{}
	}
	return &Handlers{service: service, articles: articleSvc, checker: checker, auditLogger: auditLogger}
}

// RegisterRoutes registers feedback routes behind the auth middleware.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/articles/{id}/feedback", h.Create).Methods("POST")
	router.HandleFunc("/articles/{id}/feedback", h.List).Methods("GET")
	router.HandleFunc("/feedback/{id}", h.Delete).Methods("DELETE")
}

type createRequest struct {
	Body string `json:"body"`
}

// Create adds feedback to an article. Leaving feedback needs read
// capability on the article's purpose, so the check runs against the
// stored article before anything is written.
func (h *Handlers) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	authCtx, a, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}
	var req createRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	e, err := h.service.Create(ctx, a.ID, authCtx.User.ID, req.Body)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	_ = h.auditLogger.Log(ctx, audit.NewEvent(ctx, audit.EventTypeFeedbackCreate, audit.EventStatusSuccess).
		WithRequest(r).WithResource(audit.ResourceTypeFeedback, strconv.FormatInt(e.ID, 10)).
		WithDetail("article "+strconv.FormatInt(a.ID, 10)))
	httputil.WriteCreated(w, e)
}

// List returns an article's feedback, oldest first.
func (h *Handlers) List(w http.ResponseWriter, r *http.Request) {
	_, a, ok := h.loadAuthorized(w, r)
	if !ok {
		return
	}
	list, err := h.service.ListForArticle(r.Context(), a.ID)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"feedback": list, "count": len(list)})
}

// Delete removes a feedback entry. Only the author or an admin may
// delete it.
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
	e, err := h.service.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	if e.UserID != authCtx.User.ID && !authCtx.IsAdmin() {
		httputil.WriteForbidden(w, "forbidden")
		return
	}
	if err := h.service.Delete(ctx, id); err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// loadAuthorized resolves the {id} article and checks the caller can
// read its purpose. Writes error responses itself.
func (h *Handlers) loadAuthorized(w http.ResponseWriter, r *http.Request) (*auth.AuthContext, *articles.Article, bool) {
	ctx := r.Context()
	authCtx, ok := auth.FromContext(ctx)
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, nil, false
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, nil, false
	}
	a, err := h.articles.Get(ctx, id)
	if err != nil {
		httputil.WriteAppError(w, err)
		return nil, nil, false
	}
	if authCtx.IsAdmin() {
		return authCtx, a, true
	}
	allowed, err := h.checker.Allowed(ctx, authCtx.User.ID, a.PurposeName, purposes.CapabilityRead)
	if err != nil {
		httputil.WriteAppError(w, err)
		return nil, nil, false
	}
	if !allowed {
		httputil.WriteForbidden(w, "forbidden")
		return nil, nil, false
	}
	return authCtx, a, true
}
