package purposes

import (
	"time"
)

// Capability is a grantable level of access to a purpose.
type Capability string

const (
	// CapabilityRead lets a member view resources tagged with the purpose.
	CapabilityRead Capability = "read"
	// CapabilityWrite lets a member create and modify resources tagged
	// with the purpose, and approve access requests for it.
	CapabilityWrite Capability = "write"
)

// Valid reports whether c is a recognized capability.
func (c Capability) Valid() bool {
	return c == CapabilityRead || c == CapabilityWrite
}

// Purpose is a named access category. Resources are tagged with a purpose
// name and visibility is resolved through the purpose's member sets.
type Purpose struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatorID   int64     `json:"creator_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Member sets, keyed by capability. Populated on single-purpose
	// reads; list endpoints leave them nil.
	CanRead  []int64 `json:"can_read,omitempty"`
	CanWrite []int64 `json:"can_write,omitempty"`
}

// Member is one (user, capability) row in a purpose's membership table.
type Member struct {
	PurposeID  int64      `json:"purpose_id"`
	UserID     int64      `json:"user_id"`
	Capability Capability `json:"capability"`
	GrantedBy  *int64     `json:"granted_by,omitempty"`
	GrantedAt  time.Time  `json:"granted_at"`
}

// Membership summarizes one user's capabilities on one purpose.
type Membership struct {
	PurposeName string `json:"purpose_name"`
	CanRead     bool   `json:"can_read"`
	CanWrite    bool   `json:"can_write"`
}

// Decision is the result of a permission evaluation, with enough detail
// for audit trails and deny responses.
type Decision struct {
	Allowed     bool       `json:"allowed"`
	UserID      int64      `json:"user_id"`
	PurposeName string     `json:"purpose_name"`
	Capability  Capability `json:"capability"`
	// Reason is set when the check is denied: "purpose_not_found" or
	// "not_a_member".
	Reason    string    `json:"reason,omitempty"`
	CacheHit  bool      `json:"cache_hit"`
	CheckedAt time.Time `json:"checked_at"`
}

// CreateRequest is the payload for creating a purpose.
type CreateRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// MemberRequest is the payload for granting or revoking a membership.
type MemberRequest struct {
	UserID     int64      `json:"user_id"`
	Capability Capability `json:"capability"`
}
