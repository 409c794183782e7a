package feedback

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/articles"
	"github.com/cloudrounds/rounds/pkg/purposes"
	"github.com/cloudrounds/rounds/pkg/storage"
)

func newFixture(t *testing.T) (*Service, int64, *sql.DB) {
	t.Helper()
	db, err := storage.Open(storage.Config{Driver: "sqlite3", SQLitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`INSERT INTO users (id, username, password_hash) VALUES (1, 'owner', 'x'), (2, 'member', 'x')`)
	require.NoError(t, err)

	registry := purposes.NewRegistry(db, nil)
	_, err = registry.Create(context.Background(), purposes.CreateRequest{Name: "Grand Rounds"}, 1)
	require.NoError(t, err)

	a, err := articles.NewService(db, registry).Create(context.Background(), articles.CreateRequest{
		Title:       "Sepsis case review",
		EventTime:   time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC),
		PurposeName: "Grand Rounds",
	}, 1)
	require.NoError(t, err)

	return NewService(db), a.ID, db
}

func TestCreateAndList(t *testing.T) {
	svc, articleID, _ := newFixture(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, articleID, 1, "Great discussion of fluid resuscitation.")
	require.NoError(t, err)
	require.NotZero(t, first.ID)
	assert.Equal(t, articleID, first.ArticleID)

	_, err = svc.Create(ctx, articleID, 2, "Slides were hard to read remotely.")
	require.NoError(t, err)

	list, err := svc.ListForArticle(ctx, articleID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, first.ID, list[0].ID)
	assert.Equal(t, "owner", list[0].Username)
	assert.Equal(t, "member", list[1].Username)
}

func TestCreateValidation(t *testing.T) {
	svc, articleID, _ := newFixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, articleID, 1, "   ")
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Create(ctx, articleID, 1, strings.Repeat("x", MaxBodyLength+1))
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Create(ctx, 9999, 1, "orphan")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDelete(t *testing.T) {
	svc, articleID, _ := newFixture(t)
	ctx := context.Background()

	e, err := svc.Create(ctx, articleID, 2, "Please post the recording.")
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, e.ID))

	_, err = svc.Get(ctx, e.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	assert.ErrorIs(t, svc.Delete(ctx, e.ID), apperrors.ErrNotFound)
}
