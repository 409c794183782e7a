package audit

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/cloudrounds/rounds/pkg/httputil"
)

// Handlers exposes the audit trail to administrators. Authorization is
// applied by the router; these handlers assume an admin caller.
type Handlers struct {
	logger *DBLogger
}

// NewHandlers creates audit trail handlers.
func NewHandlers(logger *DBLogger) *Handlers {
	return &Handlers{logger: logger}
}

// RegisterRoutes registers audit endpoints on the router.
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/audit/events", h.ListEvents).Methods("GET")
}

// ListEvents returns audit events filtered by query parameters:
// user_id, event_type (repeatable), status, resource_type, resource_id,
// start, end (RFC 3339), limit, offset.
func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid limit")
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, "invalid offset")
		return
	}
	filter := SearchFilter{
		Resource:   ResourceType(q.Get("resource_type")),
		ResourceID: q.Get("resource_id"),
		Limit:      limit,
		Offset:     offset,
	}
	if v := q.Get("user_id"); v != "" {
		userID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid user_id")
			return
		}
		filter.UserID = &userID
	}
	for _, et := range q["event_type"] {
		filter.EventTypes = append(filter.EventTypes, EventType(et))
	}
	if v := q.Get("status"); v != "" {
		status := EventStatus(v)
		filter.Status = &status
	}
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid start time, want RFC 3339")
			return
		}
		filter.StartTime = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid end time, want RFC 3339")
			return
		}
		filter.EndTime = &t
	}

	events, err := h.logger.Search(r.Context(), filter)
	if err != nil {
		httputil.WriteAppError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"events": events,
		"count":  len(events),
	})
}
