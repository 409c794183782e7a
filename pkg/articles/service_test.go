package articles

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/purposes"
	"github.com/cloudrounds/rounds/pkg/storage"
)

func newFixture(t *testing.T) (*Service, *purposes.Registry, *sql.DB) {
	t.Helper()
	db, err := storage.Open(storage.Config{Driver: "sqlite3", SQLitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := purposes.NewRegistry(db, nil)
	_, err = db.Exec(`INSERT INTO users (id, username, password_hash) VALUES (1, 'owner', 'x'), (2, 'member', 'x')`)
	require.NoError(t, err)
	for _, name := range []string{"Grand Rounds", "ICU"} {
		_, err = registry.Create(context.Background(), purposes.CreateRequest{Name: name}, 1)
		require.NoError(t, err)
	}
	return NewService(db, registry), registry, db
}

func eventAt(h int) time.Time {
	return time.Date(2026, 9, 1, h, 0, 0, 0, time.UTC)
}

func TestCreateAndGet(t *testing.T) {
	svc, _, _ := newFixture(t)

	a, err := svc.Create(context.Background(), CreateRequest{
		Title:       "Sepsis case review",
		EventTime:   eventAt(9),
		PurposeName: "Grand Rounds",
		Speaker:     "Dr. Hart",
		Location:    "Auditorium B",
		MeetingID:   "991-223",
		Passcode:    "042",
	}, 1)
	require.NoError(t, err)
	require.NotZero(t, a.ID)

	got, err := svc.Get(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "Sepsis case review", got.Title)
	assert.Equal(t, "Grand Rounds", got.PurposeName)
	assert.Equal(t, int64(1), got.OrganizerID)
	assert.Equal(t, eventAt(9), got.EventTime.UTC())
}

func TestCreateValidation(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		req  CreateRequest
		want error
	}{
		{"missing title", CreateRequest{EventTime: eventAt(9), PurposeName: "ICU"}, apperrors.ErrValidation},
		{"missing event time", CreateRequest{Title: "t", PurposeName: "ICU"}, apperrors.ErrValidation},
		{"missing purpose", CreateRequest{Title: "t", EventTime: eventAt(9)}, apperrors.ErrValidation},
		{"unknown purpose", CreateRequest{Title: "t", EventTime: eventAt(9), PurposeName: "nope"}, apperrors.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tc.req, 1)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestListReadableFiltersByMembership(t *testing.T) {
	svc, registry, _ := newFixture(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, CreateRequest{Title: "GR talk", EventTime: eventAt(9), PurposeName: "Grand Rounds"}, 1)
	require.NoError(t, err)
	_, err = svc.Create(ctx, CreateRequest{Title: "ICU huddle", EventTime: eventAt(10), PurposeName: "ICU"}, 1)
	require.NoError(t, err)

	// User 2 can read nothing yet.
	list, err := svc.ListReadable(ctx, 2, false)
	require.NoError(t, err)
	assert.Empty(t, list)

	require.NoError(t, registry.AddMember(ctx, "ICU", 2, purposes.CapabilityRead, 1))
	list, err = svc.ListReadable(ctx, 2, false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "ICU huddle", list[0].Title)

	// The owner reads both; admins see everything regardless.
	list, err = svc.ListReadable(ctx, 1, false)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	list, err = svc.ListReadable(ctx, 99, true)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestUpdatePartial(t *testing.T) {
	svc, _, _ := newFixture(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateRequest{Title: "Old title", EventTime: eventAt(9), PurposeName: "ICU"}, 1)
	require.NoError(t, err)

	title := "New title"
	loc := "Room 4"
	updated, err := svc.Update(ctx, a.ID, UpdateRequest{Title: &title, Location: &loc})
	require.NoError(t, err)
	assert.Equal(t, "New title", updated.Title)
	assert.Equal(t, "Room 4", updated.Location)
	// Untouched fields survive.
	assert.Equal(t, eventAt(9), updated.EventTime.UTC())
	assert.Equal(t, "ICU", updated.PurposeName)

	empty := "  "
	_, err = svc.Update(ctx, a.ID, UpdateRequest{Title: &empty})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = svc.Update(ctx, 999, UpdateRequest{Title: &title})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestDeleteCascadesFeedback(t *testing.T) {
	svc, _, db := newFixture(t)
	ctx := context.Background()

	a, err := svc.Create(ctx, CreateRequest{Title: "t", EventTime: eventAt(9), PurposeName: "ICU"}, 1)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO feedback (article_id, user_id, body) VALUES ($1, 2, 'great talk')`, a.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, a.ID))
	assert.ErrorIs(t, svc.Delete(ctx, a.ID), apperrors.ErrNotFound)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM feedback WHERE article_id = $1`, a.ID).Scan(&n))
	assert.Zero(t, n)
}
