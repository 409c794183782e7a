package sso

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/auth"
	"github.com/cloudrounds/rounds/pkg/storage"
)

// provisionAttempts bounds username-collision retries during JIT
// provisioning.
const provisionAttempts = 5

// Provisioner maps verified external identities to local accounts and
// issues API tokens for them.
type Provisioner struct {
	db     *sql.DB
	tokens *auth.Store
}

// NewProvisioner creates an identity provisioner.
func NewProvisioner(db *sql.DB, tokens *auth.Store) *Provisioner {
	return &Provisioner{db: db, tokens: tokens}
}

// Login resolves identity to a local user, creating one on first login,
// and returns the user with a freshly issued API token.
func (p *Provisioner) Login(ctx context.Context, identity *Identity) (*auth.User, string, error) {
	if identity == nil || identity.Issuer == "" || identity.Subject == "" {
		return nil, "", apperrors.Unauthenticatedf("identity is missing issuer or subject")
	}

	user, err := p.lookup(ctx, identity)
	switch {
	case err == nil:
		if !user.IsActive {
			return nil, "", apperrors.Forbiddenf("account is disabled")
		}
	case errors.Is(err, apperrors.ErrNotFound):
		user, err = p.provision(ctx, identity)
		if err != nil {
			return nil, "", err
		}
	default:
		return nil, "", err
	}

	token, _, err := p.tokens.IssueToken(ctx, user.ID, "sso login", auth.DefaultTokenTTL)
	if err != nil {
		return nil, "", fmt.Errorf("issue sso token: %w", err)
	}

	// Best effort: login succeeds even if the stamps fail.
	_, _ = p.db.ExecContext(ctx,
		`UPDATE sso_identities SET last_login_at = CURRENT_TIMESTAMP WHERE issuer = $1 AND subject = $2`,
		identity.Issuer, identity.Subject)
	_, _ = p.db.ExecContext(ctx,
		`UPDATE users SET last_login_at = CURRENT_TIMESTAMP WHERE id = $1`, user.ID)

	user.PasswordHash = ""
	return user, token, nil
}

func (p *Provisioner) lookup(ctx context.Context, identity *Identity) (*auth.User, error) {
	var u auth.User
	var email, fullName sql.NullString
	err := p.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.full_name, u.is_admin, u.is_active, u.created_at, u.updated_at
		FROM sso_identities s
		JOIN users u ON u.id = s.user_id
		WHERE s.issuer = $1 AND s.subject = $2`,
		identity.Issuer, identity.Subject,
	).Scan(&u.ID, &u.Username, &email, &fullName, &u.IsAdmin, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundf("no account for identity")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup sso identity: %w", err)
	}
	u.Email = email.String
	u.FullName = fullName.String
	return &u, nil
}

// provision creates a local account for a first-time SSO login. The
// stored password is a random value the user never sees, so the account
// cannot be used with password login.
func (p *Provisioner) provision(ctx context.Context, identity *Identity) (*auth.User, error) {
	passwordHash, err := auth.HashPassword(uuid.NewString())
	if err != nil {
		return nil, fmt.Errorf("generate placeholder password: %w", err)
	}

	base := usernameFor(identity)
	var u auth.User
	for attempt := 0; attempt < provisionAttempts; attempt++ {
		username := base
		if attempt > 0 {
			username = fmt.Sprintf("%s-%d", base, attempt+1)
		}
		err = p.db.QueryRowContext(ctx, `
			INSERT INTO users (username, email, full_name, password_hash)
			VALUES ($1, $2, $3, $4)
			RETURNING id, username, is_admin, is_active, created_at, updated_at`,
			username, identity.Email, identity.FullName, passwordHash,
		).Scan(&u.ID, &u.Username, &u.IsAdmin, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
		if err == nil {
			break
		}
		if !storage.IsUniqueViolation(err) {
			return nil, fmt.Errorf("provision sso user: %w", err)
		}
	}
	if err != nil {
		return nil, apperrors.Conflictf("could not allocate username for %q", base)
	}
	u.Email = identity.Email
	u.FullName = identity.FullName

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO sso_identities (issuer, subject, user_id, email)
		VALUES ($1, $2, $3, $4)`,
		identity.Issuer, identity.Subject, u.ID, identity.Email)
	if err != nil {
		return nil, fmt.Errorf("record sso identity: %w", err)
	}
	return &u, nil
}

// usernameFor derives a local username from the identity, preferring
// the provider's preferred_username, then the email local part.
func usernameFor(identity *Identity) string {
	if identity.Username != "" {
		return identity.Username
	}
	if identity.Email != "" {
		if at := strings.IndexByte(identity.Email, '@'); at > 0 {
			return identity.Email[:at]
		}
	}
	return "sso-" + identity.Subject
}
