package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/cloudrounds/rounds/pkg/contextkeys"
)

// Logger records audit events. Implementations must tolerate a nil or
// partially-populated event and must never fail the calling operation:
// callers log the returned error and move on.
type Logger interface {
	Log(ctx context.Context, event *Event) error
	Close() error
}

// NopLogger discards all events.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, event *Event) error { return nil }
func (NopLogger) Close() error                                { return nil }

// NewEvent builds an event with timestamp and request-scoped fields
// populated from the context.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	e := &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		RequestID: contextkeys.GetRequestID(ctx),
	}
	if userID := contextkeys.GetUserID(ctx); userID != 0 {
		e.UserID = &userID
	}
	return e
}

// WithRequest copies the client address from r onto the event.
func (e *Event) WithRequest(r *http.Request) *Event {
	if r == nil {
		return e
	}
	e.IPAddress = clientIP(r)
	return e
}

// WithResource tags the event with the resource it concerns.
func (e *Event) WithResource(rt ResourceType, id string) *Event {
	e.ResourceType = rt
	e.ResourceID = id
	return e
}

// WithDetail attaches a human-readable description.
func (e *Event) WithDetail(detail string) *Event {
	e.Detail = detail
	return e
}

// WithActor sets the acting user explicitly, overriding the context value.
func (e *Event) WithActor(userID int64, username string) *Event {
	e.UserID = &userID
	e.Username = username
	return e
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	return r.RemoteAddr
}
