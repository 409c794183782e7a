package users

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/auth"
	"github.com/cloudrounds/rounds/pkg/storage"
)

// ResetTokenTTL is how long a password-reset token stays redeemable.
const ResetTokenTTL = time.Hour

// RegisterRequest is the payload for account creation.
type RegisterRequest struct {
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	University string `json:"university"`
}

// LoginRequest is the payload for credential login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UpdateRequest is the payload for profile updates.
type UpdateRequest struct {
	Email      *string `json:"email,omitempty"`
	FullName   *string `json:"full_name,omitempty"`
	University *string `json:"university,omitempty"`
}

// Service manages accounts and credential flows. Authorization truth
// lives in the purposes membership table; this service only handles
// identity.
type Service struct {
	db        *sql.DB
	authStore *auth.Store
}

// NewService creates the user service.
func NewService(db *sql.DB, authStore *auth.Store) *Service {
	return &Service{db: db, authStore: authStore}
}

// Register creates an account with a bcrypt password hash.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*auth.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return nil, apperrors.Validationf("username is required")
	}
	if req.Email != "" {
		if _, err := mail.ParseAddress(req.Email); err != nil {
			return nil, apperrors.Validationf("invalid email address %q", req.Email)
		}
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	var u auth.User
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, full_name, university, password_hash)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, username, is_admin, is_active, created_at, updated_at`,
		req.Username, req.Email, req.FullName, req.University, hash,
	).Scan(&u.ID, &u.Username, &u.IsAdmin, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, apperrors.Validationf("username %q is taken", req.Username)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	u.Email = req.Email
	u.FullName = req.FullName
	u.University = req.University
	return &u, nil
}

// Login verifies credentials and issues an API token. The plaintext
// token is returned once; only its hash is stored.
func (s *Service) Login(ctx context.Context, req LoginRequest) (string, *auth.User, error) {
	u, err := s.getByUsername(ctx, req.Username)
	if err != nil {
		// Unknown user and wrong password are indistinguishable.
		return "", nil, apperrors.Unauthenticatedf("invalid credentials")
	}
	if !u.IsActive {
		return "", nil, apperrors.Unauthenticatedf("account disabled")
	}
	if !auth.CheckPassword(u.PasswordHash, req.Password) {
		return "", nil, apperrors.Unauthenticatedf("invalid credentials")
	}

	token, _, err := s.authStore.IssueToken(ctx, u.ID, "login", auth.DefaultTokenTTL)
	if err != nil {
		return "", nil, apperrors.Dependency("issue token", err)
	}

	now := time.Now().UTC()
	_, _ = s.db.ExecContext(ctx, `UPDATE users SET last_login_at = $1 WHERE id = $2`, now, u.ID)
	u.LastLoginAt = &now
	u.PasswordHash = ""
	return token, u, nil
}

// Get returns one user by id.
func (s *Service) Get(ctx context.Context, id int64) (*auth.User, error) {
	u, err := s.scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundf("user %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.PasswordHash = ""
	return u, nil
}

// List returns every account, for admin user management.
func (s *Service) List(ctx context.Context) ([]*auth.User, error) {
	rows, err := s.db.QueryContext(ctx, selectUser+` ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	out := []*auth.User{}
	for rows.Next() {
		u, err := s.scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		u.PasswordHash = ""
		out = append(out, u)
	}
	return out, rows.Err()
}

// Update applies a partial profile update.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (*auth.User, error) {
	if req.Email != nil && *req.Email != "" {
		if _, err := mail.ParseAddress(*req.Email); err != nil {
			return nil, apperrors.Validationf("invalid email address %q", *req.Email)
		}
	}

	set := []string{"updated_at = $1"}
	args := []interface{}{time.Now().UTC()}
	add := func(col string, v interface{}) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if req.Email != nil {
		add("email", *req.Email)
	}
	if req.FullName != nil {
		add("full_name", *req.FullName)
	}
	if req.University != nil {
		add("university", *req.University)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE users SET %s WHERE id = $%d`, strings.Join(set, ", "), len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return nil, apperrors.NotFoundf("user %d not found", id)
	}
	return s.Get(ctx, id)
}

// SetActive enables or disables an account. Disabling also revokes its
// tokens so existing sessions end.
func (s *Service) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET is_active = $1, updated_at = $2 WHERE id = $3`,
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("user %d not found", id)
	}
	if !active {
		return s.authStore.RevokeAllForUser(ctx, id)
	}
	return nil
}

// ForgotPassword creates a reset token for the account behind email. The
// token is returned for delivery by the caller; a miss returns
// ("", nil) so the endpoint cannot be used to probe which emails exist.
func (s *Service) ForgotPassword(ctx context.Context, email string) (string, error) {
	var userID int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM users WHERE email = $1 AND is_active = TRUE`, email).Scan(&userID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("query user: %w", err)
	}

	token := uuid.NewString()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (user_id, token_hash, expires_at)
		VALUES ($1, $2, $3)`,
		userID, hashResetToken(token), time.Now().UTC().Add(ResetTokenTTL),
	); err != nil {
		return "", fmt.Errorf("store reset token: %w", err)
	}
	return token, nil
}

// ResetPassword redeems a reset token, sets the new password, and
// revokes every live API token for the account.
func (s *Service) ResetPassword(ctx context.Context, token, newPassword string) error {
	hash, err := auth.HashPassword(newPassword)
	if err != nil {
		return err
	}

	var resetID, userID int64
	var expiresAt time.Time
	var usedAt sql.NullTime
	err = s.db.QueryRowContext(ctx, `
		SELECT id, user_id, expires_at, used_at FROM password_resets
		WHERE token_hash = $1`, hashResetToken(token),
	).Scan(&resetID, &userID, &expiresAt, &usedAt)
	if err == sql.ErrNoRows {
		return apperrors.NotFoundf("reset token not found")
	}
	if err != nil {
		return fmt.Errorf("query reset token: %w", err)
	}
	if usedAt.Valid {
		return apperrors.InvalidStatef("reset token already used")
	}
	if time.Now().UTC().After(expiresAt) {
		return apperrors.InvalidStatef("reset token expired")
	}

	// Single-use guard: the same CAS shape the request engine uses.
	res, err := s.db.ExecContext(ctx, `
		UPDATE password_resets SET used_at = $1
		WHERE id = $2 AND used_at IS NULL`, time.Now().UTC(), resetID)
	if err != nil {
		return fmt.Errorf("mark reset token: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("mark reset token: %w", err)
	} else if n == 0 {
		return apperrors.InvalidStatef("reset token already used")
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		hash, time.Now().UTC(), userID); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return s.authStore.RevokeAllForUser(ctx, userID)
}

const selectUser = `
	SELECT id, username, email, full_name, university, is_admin, is_active,
		password_hash, created_at, updated_at, last_login_at
	FROM users`

func (s *Service) getByUsername(ctx context.Context, username string) (*auth.User, error) {
	u, err := s.scanUser(s.db.QueryRowContext(ctx, selectUser+` WHERE username = $1`, username))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundf("user %q not found", username)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Service) scanUser(row rowScanner) (*auth.User, error) {
	return s.scanUserRow(row)
}

func (s *Service) scanUserRow(row rowScanner) (*auth.User, error) {
	var u auth.User
	var email, fullName, university sql.NullString
	var lastLoginAt sql.NullTime
	err := row.Scan(&u.ID, &u.Username, &email, &fullName, &university,
		&u.IsAdmin, &u.IsActive, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt, &lastLoginAt)
	if err != nil {
		return nil, err
	}
	u.Email = email.String
	u.FullName = fullName.String
	u.University = university.String
	if lastLoginAt.Valid {
		u.LastLoginAt = &lastLoginAt.Time
	}
	return &u, nil
}

func hashResetToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
