package auth

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cloudrounds/rounds/pkg/apperrors"
)

// DefaultTokenTTL is how long a login token stays valid.
const DefaultTokenTTL = 30 * 24 * time.Hour

// Store issues and validates API tokens against the database.
type Store struct {
	db  *sql.DB
	gen *TokenGenerator
}

// NewStore creates an auth store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db, gen: NewTokenGenerator()}
}

// IssueToken mints a token for userID and stores only its hash. The
// plaintext token is returned exactly once.
func (s *Store) IssueToken(ctx context.Context, userID int64, name string, ttl time.Duration) (string, *APIToken, error) {
	token, hash, prefix, err := s.gen.GenerateToken()
	if err != nil {
		return "", nil, fmt.Errorf("generate token: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	expiresAt := time.Now().UTC().Add(ttl)

	var t APIToken
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO api_tokens (user_id, token_hash, token_prefix, name, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, token_prefix, created_at`,
		userID, hash, prefix, name, expiresAt,
	).Scan(&t.ID, &t.UserID, &t.TokenPrefix, &t.CreatedAt)
	if err != nil {
		return "", nil, fmt.Errorf("store token: %w", err)
	}
	t.Name = name
	t.ExpiresAt = &expiresAt
	return token, &t, nil
}

// Authenticate resolves a presented bearer token to its user. Expired,
// revoked, and unknown tokens all fail the same way so the response does
// not leak which case occurred.
func (s *Store) Authenticate(ctx context.Context, token string) (*AuthContext, error) {
	if err := s.gen.ValidateTokenFormat(token); err != nil {
		return nil, apperrors.Unauthenticatedf("invalid token")
	}
	hash := s.gen.HashToken(token)

	var t APIToken
	var u User
	var email, fullName, university sql.NullString
	var expiresAt, revokedAt, lastUsedAt, lastLoginAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.user_id, t.token_prefix, t.expires_at, t.revoked_at, t.last_used_at, t.created_at,
			u.id, u.username, u.email, u.full_name, u.university,
			u.is_admin, u.is_active, u.created_at, u.updated_at, u.last_login_at
		FROM api_tokens t
		JOIN users u ON u.id = t.user_id
		WHERE t.token_hash = $1`, hash,
	).Scan(&t.ID, &t.UserID, &t.TokenPrefix, &expiresAt, &revokedAt, &lastUsedAt, &t.CreatedAt,
		&u.ID, &u.Username, &email, &fullName, &university,
		&u.IsAdmin, &u.IsActive, &u.CreatedAt, &u.UpdatedAt, &lastLoginAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.Unauthenticatedf("invalid token")
	}
	if err != nil {
		return nil, fmt.Errorf("look up token: %w", err)
	}

	if expiresAt.Valid {
		t.ExpiresAt = &expiresAt.Time
	}
	if revokedAt.Valid {
		t.RevokedAt = &revokedAt.Time
	}
	if lastUsedAt.Valid {
		t.LastUsedAt = &lastUsedAt.Time
	}
	u.Email = email.String
	u.FullName = fullName.String
	u.University = university.String
	if lastLoginAt.Valid {
		u.LastLoginAt = &lastLoginAt.Time
	}

	if !t.Valid(time.Now().UTC()) {
		return nil, apperrors.Unauthenticatedf("invalid token")
	}
	if !u.IsActive {
		return nil, apperrors.Unauthenticatedf("account disabled")
	}

	// Best-effort usage stamp; a failed write must not fail auth.
	_, _ = s.db.ExecContext(ctx,
		`UPDATE api_tokens SET last_used_at = $1 WHERE id = $2`, time.Now().UTC(), t.ID)

	return &AuthContext{User: &u, Token: &t}, nil
}

// RevokeToken invalidates one token by id, scoped to its owner.
func (s *Store) RevokeToken(ctx context.Context, userID, tokenID int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE api_tokens SET revoked_at = $1
		WHERE id = $2 AND user_id = $3 AND revoked_at IS NULL`,
		time.Now().UTC(), tokenID, userID)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("token %d not found", tokenID)
	}
	return nil
}

// RevokeAllForUser invalidates every live token a user holds, used on
// password reset.
func (s *Store) RevokeAllForUser(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE api_tokens SET revoked_at = $1
		WHERE user_id = $2 AND revoked_at IS NULL`,
		time.Now().UTC(), userID)
	if err != nil {
		return fmt.Errorf("revoke tokens: %w", err)
	}
	return nil
}
