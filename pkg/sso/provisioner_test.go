package sso

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/auth"
	"github.com/cloudrounds/rounds/pkg/storage"
)

func newProvisioner(t *testing.T) (*Provisioner, *auth.Store, *sql.DB) {
	t.Helper()
	db, err := storage.Open(storage.Config{Driver: "sqlite3", SQLitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	tokens := auth.NewStore(db)
	return NewProvisioner(db, tokens), tokens, db
}

func identity() *Identity {
	return &Identity{
		Issuer:   "https://idp.example.org",
		Subject:  "abc-123",
		Email:    "jordan@hospital.example",
		Username: "jordan",
		FullName: "Jordan Reyes",
	}
}

func TestLoginProvisionsFirstTime(t *testing.T) {
	p, tokens, _ := newProvisioner(t)
	ctx := context.Background()

	user, token, err := p.Login(ctx, identity())
	require.NoError(t, err)
	assert.Equal(t, "jordan", user.Username)
	assert.Equal(t, "jordan@hospital.example", user.Email)
	assert.False(t, user.IsAdmin)
	assert.Empty(t, user.PasswordHash)

	authCtx, err := tokens.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, authCtx.User.ID)
}

func TestLoginReusesMapping(t *testing.T) {
	p, _, db := newProvisioner(t)
	ctx := context.Background()

	first, _, err := p.Login(ctx, identity())
	require.NoError(t, err)

	second, _, err := p.Login(ctx, identity())
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM users`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestLoginUsernameCollision(t *testing.T) {
	p, _, db := newProvisioner(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO users (username, password_hash) VALUES ('jordan', 'x')`)
	require.NoError(t, err)

	user, _, err := p.Login(ctx, identity())
	require.NoError(t, err)
	assert.Equal(t, "jordan-2", user.Username)
}

func TestLoginDisabledAccount(t *testing.T) {
	p, _, db := newProvisioner(t)
	ctx := context.Background()

	user, _, err := p.Login(ctx, identity())
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE users SET is_active = 0 WHERE id = $1`, user.ID)
	require.NoError(t, err)

	_, _, err = p.Login(ctx, identity())
	assert.ErrorIs(t, err, apperrors.ErrForbidden)
}

func TestLoginRejectsIncompleteIdentity(t *testing.T) {
	p, _, _ := newProvisioner(t)

	_, _, err := p.Login(context.Background(), &Identity{Issuer: "https://idp.example.org"})
	assert.ErrorIs(t, err, apperrors.ErrUnauthenticated)
}

func TestUsernameFallbacks(t *testing.T) {
	assert.Equal(t, "jordan", usernameFor(&Identity{Username: "jordan"}))
	assert.Equal(t, "casey", usernameFor(&Identity{Email: "casey@x.example"}))
	assert.Equal(t, "sso-s1", usernameFor(&Identity{Subject: "s1"}))
}
