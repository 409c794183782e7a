package requests

import "time"

// Status is the lifecycle state of an access request. Pending is the
// only non-terminal state.
type Status string

const (
	StatusPending  Status = "Pending"
	StatusApproved Status = "Approved"
	StatusDenied   Status = "Denied"
)

// Valid reports whether s is a recognized status.
func (s Status) Valid() bool {
	return s == StatusPending || s == StatusApproved || s == StatusDenied
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusApproved || s == StatusDenied
}

// Decision is a resolver's verdict on a pending request.
type Decision string

const (
	DecisionApprove Decision = "approve"
	DecisionDeny    Decision = "deny"
)

// Request is one user's petition for read access to a purpose.
type Request struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	PurposeName      string     `json:"purpose_name"`
	Message          string     `json:"message,omitempty"`
	ResponderMessage string     `json:"responder_message,omitempty"`
	Status           Status     `json:"status"`
	// GrantApplied records whether the Approved membership grant has
	// landed. False on an Approved row marks reconciler work.
	GrantApplied bool       `json:"grant_applied"`
	CreatedAt    time.Time  `json:"created_at"`
	ResolvedAt   *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy   *int64     `json:"resolved_by,omitempty"`
}

// SubmitRequest is the payload for filing an access request.
type SubmitRequest struct {
	PurposeName string `json:"purpose_name"`
	Message     string `json:"message"`
}

// ResolveRequest is the payload for approving or denying.
type ResolveRequest struct {
	Decision         Decision `json:"decision"`
	ResponderMessage string   `json:"responder_message"`
}
