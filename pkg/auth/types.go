package auth

import "time"

// User represents a registered account.
//
// The user row never carries permission truth: purpose membership is held by
// the purposes registry, and any per-user summary handed to clients is a
// derived view recomputed from the registry.
type User struct {
	ID           int64      `json:"id"`
	Username     string     `json:"username"`
	Email        string     `json:"email,omitempty"`
	FullName     string     `json:"full_name,omitempty"`
	University   string     `json:"university,omitempty"`
	IsAdmin      bool       `json:"is_admin"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	PasswordHash string     `json:"-"`
}

// APIToken represents an opaque bearer token issued at login.
type APIToken struct {
	ID          int64      `json:"id"`
	UserID      int64      `json:"user_id"`
	TokenHash   string     `json:"-"` // never expose the hash
	TokenPrefix string     `json:"token_prefix"`
	Name        string     `json:"name"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
}

// Valid reports whether the token is usable at time now.
func (t *APIToken) Valid(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && !t.ExpiresAt.After(now) {
		return false
	}
	return true
}

// AuthContext carries the verified identity for one request.
type AuthContext struct {
	User  *User
	Token *APIToken
}

// IsAdmin reports whether the authenticated user is a platform admin.
func (a *AuthContext) IsAdmin() bool {
	return a != nil && a.User != nil && a.User.IsAdmin
}
