package audit

import "time"

// EventType categorizes an audit event.
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin         EventType = "auth.login"
	EventTypeAuthLoginFailed   EventType = "auth.login_failed"
	EventTypeAuthLogout        EventType = "auth.logout"
	EventTypeAuthPasswordReset EventType = "auth.password_reset"
	EventTypeAuthSSOLogin      EventType = "auth.sso_login"

	// Authorization events
	EventTypeAuthzDenied           EventType = "authz.access_denied"
	EventTypeAuthzMembershipGrant  EventType = "authz.membership_grant"
	EventTypeAuthzMembershipRevoke EventType = "authz.membership_revoke"

	// Purpose lifecycle
	EventTypePurposeCreate EventType = "purpose.create"
	EventTypePurposeDelete EventType = "purpose.delete"

	// Access-request lifecycle
	EventTypeRequestSubmit  EventType = "request.submit"
	EventTypeRequestApprove EventType = "request.approve"
	EventTypeRequestDeny    EventType = "request.deny"
	EventTypeRequestDelete  EventType = "request.delete"

	// Content mutations
	EventTypeArticleCreate  EventType = "article.create"
	EventTypeArticleUpdate  EventType = "article.update"
	EventTypeArticleDelete  EventType = "article.delete"
	EventTypeFeedbackCreate EventType = "feedback.create"

	// User administration
	EventTypeUserRegister   EventType = "user.register"
	EventTypeUserUpdate     EventType = "user.update"
	EventTypeUserDeactivate EventType = "user.deactivate"
)

// EventStatus is the outcome of the audited action.
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType identifies what kind of resource an event concerns.
type ResourceType string

const (
	ResourceTypePurpose  ResourceType = "purpose"
	ResourceTypeRequest  ResourceType = "request"
	ResourceTypeArticle  ResourceType = "article"
	ResourceTypeFeedback ResourceType = "feedback"
	ResourceTypeUser     ResourceType = "user"
)

// Event is a single audit trail entry.
type Event struct {
	ID           int64        `json:"id"`
	Timestamp    time.Time    `json:"timestamp"`
	EventType    EventType    `json:"event_type"`
	Status       EventStatus  `json:"status"`
	UserID       *int64       `json:"user_id,omitempty"`
	Username     string       `json:"username,omitempty"`
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`
	Detail       string       `json:"detail,omitempty"`
	IPAddress    string       `json:"ip_address,omitempty"`
	RequestID    string       `json:"request_id,omitempty"`
}

// SearchFilter narrows an audit query.
type SearchFilter struct {
	StartTime  *time.Time
	EndTime    *time.Time
	UserID     *int64
	EventTypes []EventType
	Status     *EventStatus
	Resource   ResourceType
	ResourceID string
	Limit      int
	Offset     int
}
