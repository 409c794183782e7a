package requests

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/notify"
	"github.com/cloudrounds/rounds/pkg/purposes"
	"github.com/cloudrounds/rounds/pkg/storage"
)

type captureSender struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (c *captureSender) Send(msg notify.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

type fixture struct {
	db       *sql.DB
	registry *purposes.Registry
	service  *Service
	sender   *captureSender
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	db, err := storage.Open(storage.Config{Driver: "sqlite3", SQLitePath: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := purposes.NewRegistry(db, nil)
	sender := &captureSender{}
	return &fixture{
		db:       db,
		registry: registry,
		service:  NewService(db, registry, sender, cfg, nil),
		sender:   sender,
	}
}

func (f *fixture) seedUser(t *testing.T, id int64, username, email string) {
	t.Helper()
	_, err := f.db.Exec(`INSERT INTO users (id, username, email, password_hash) VALUES ($1, $2, $3, 'x')`,
		id, username, email)
	require.NoError(t, err)
}

func (f *fixture) seedPurpose(t *testing.T, name string, creatorID int64) {
	t.Helper()
	_, err := f.registry.Create(context.Background(), purposes.CreateRequest{Name: name}, creatorID)
	require.NoError(t, err)
}

func TestSubmit(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedUser(t, 1, "owner", "owner@example.org")
	f.seedUser(t, 2, "alice", "alice@example.org")
	f.seedPurpose(t, "Grand Rounds", 1)

	r, err := f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "Grand Rounds", Message: "please"})
	require.NoError(t, err)
	assert.Equal(t, StatusPending, r.Status)
	assert.False(t, r.GrantApplied)
	assert.Equal(t, int64(2), r.UserID)

	// The purpose owner gets mail.
	assert.Equal(t, 1, f.sender.count())
	assert.Equal(t, "owner@example.org", f.sender.sent[0].Recipient)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedUser(t, 1, "alice", "")

	_, err := f.service.Submit(context.Background(), 1, SubmitRequest{})
	assert.ErrorIs(t, err, apperrors.ErrValidation)

	_, err = f.service.Submit(context.Background(), 1, SubmitRequest{PurposeName: "nope"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = f.service.Submit(context.Background(), 99, SubmitRequest{PurposeName: "nope"})
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestSubmitDuplicatePendingRejected(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedUser(t, 1, "owner", "")
	f.seedUser(t, 2, "alice", "")
	f.seedPurpose(t, "ICU", 1)

	_, err := f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "ICU"})
	require.NoError(t, err)
	_, err = f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "ICU"})
	assert.ErrorIs(t, err, apperrors.ErrConflict)
}

func TestSubmitDuplicatePendingAllowedByPolicy(t *testing.T) {
	f := newFixture(t, Config{AllowDuplicatePending: true})
	f.seedUser(t, 1, "owner", "")
	f.seedUser(t, 2, "alice", "")
	f.seedPurpose(t, "ICU", 1)

	_, err := f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "ICU"})
	require.NoError(t, err)
	_, err = f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "ICU"})
	require.NoError(t, err)

	pending, err := f.service.ListPending(context.Background())
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestSubmitAfterResolutionIsAllowed(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedUser(t, 1, "owner", "")
	f.seedUser(t, 2, "alice", "")
	f.seedPurpose(t, "ICU", 1)

	r, err := f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "ICU"})
	require.NoError(t, err)
	_, err = f.service.Resolve(context.Background(), r.ID, ResolveRequest{Decision: DecisionDeny}, 1)
	require.NoError(t, err)

	// A terminal request does not block a fresh submission.
	_, err = f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "ICU"})
	require.NoError(t, err)
}

func TestResolveApproveGrantsMembership(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedUser(t, 1, "owner", "")
	f.seedUser(t, 2, "alice", "alice@example.org")
	f.seedPurpose(t, "Tumor Board", 1)

	r, err := f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "Tumor Board"})
	require.NoError(t, err)

	resolved, err := f.service.Resolve(context.Background(), r.ID,
		ResolveRequest{Decision: DecisionApprove, ResponderMessage: "welcome"}, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, resolved.Status)
	assert.True(t, resolved.GrantApplied)
	require.NotNil(t, resolved.ResolvedBy)
	assert.Equal(t, int64(1), *resolved.ResolvedBy)
	assert.NotNil(t, resolved.ResolvedAt)

	p, err := f.registry.Get(context.Background(), "Tumor Board")
	require.NoError(t, err)
	assert.Contains(t, p.CanRead, int64(2))
	assert.NotContains(t, p.CanWrite, int64(2))

	// The requester was told the outcome.
	last := f.sender.sent[len(f.sender.sent)-1]
	assert.Equal(t, "alice@example.org", last.Recipient)
	assert.Contains(t, last.Subject, "approved")
}

func TestResolveDenyLeavesMembershipUntouched(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedUser(t, 1, "owner", "")
	f.seedUser(t, 2, "alice", "")
	f.seedPurpose(t, "Tumor Board", 1)

	r, err := f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "Tumor Board"})
	require.NoError(t, err)

	resolved, err := f.service.Resolve(context.Background(), r.ID, ResolveRequest{Decision: DecisionDeny, ResponderMessage: "no"}, 1)
	require.NoError(t, err)
	assert.Equal(t, StatusDenied, resolved.Status)
	assert.False(t, resolved.GrantApplied)

	p, err := f.registry.Get(context.Background(), "Tumor Board")
	require.NoError(t, err)
	assert.NotContains(t, p.CanRead, int64(2))
}

func TestResolveTerminalIsInvalidState(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedUser(t, 1, "owner", "")
	f.seedUser(t, 2, "alice", "")
	f.seedPurpose(t, "ICU", 1)

	r, err := f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "ICU"})
	require.NoError(t, err)
	_, err = f.service.Resolve(context.Background(), r.ID, ResolveRequest{Decision: DecisionDeny}, 1)
	require.NoError(t, err)

	// Second resolution loses the CAS and reports invalid state, for
	// either decision.
	_, err = f.service.Resolve(context.Background(), r.ID, ResolveRequest{Decision: DecisionApprove}, 1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	_, err = f.service.Resolve(context.Background(), r.ID, ResolveRequest{Decision: DecisionDeny}, 1)
	assert.ErrorIs(t, err, apperrors.ErrInvalidState)
}

func TestResolveMissingRequest(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.service.Resolve(context.Background(), 12345, ResolveRequest{Decision: DecisionApprove}, 1)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestResolveBadDecision(t *testing.T) {
	f := newFixture(t, Config{})
	_, err := f.service.Resolve(context.Background(), 1, ResolveRequest{Decision: "maybe"}, 1)
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}

func TestResolveGrantFailureIsRetryable(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedUser(t, 1, "owner", "")
	f.seedUser(t, 2, "alice", "")
	f.seedPurpose(t, "ICU", 1)

	r, err := f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "ICU"})
	require.NoError(t, err)

	// Make the grant fail underneath the approval by renaming the
	// purpose after submission.
	_, err = f.db.Exec(`UPDATE purposes SET name = 'ICU-moved' WHERE name = 'ICU'`)
	require.NoError(t, err)

	resolved, err := f.service.Resolve(context.Background(), r.ID, ResolveRequest{Decision: DecisionApprove}, 1)
	require.Error(t, err)
	assert.True(t, apperrors.Retryable(err))

	// The approval is authoritative even though the grant is owed.
	require.NotNil(t, resolved)
	assert.Equal(t, StatusApproved, resolved.Status)
	assert.False(t, resolved.GrantApplied)

	stored, err := f.service.Get(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, stored.Status)
	assert.False(t, stored.GrantApplied)
}

func TestListForUser(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedUser(t, 1, "owner", "")
	f.seedUser(t, 2, "alice", "")
	f.seedUser(t, 3, "bob", "")
	f.seedPurpose(t, "A", 1)
	f.seedPurpose(t, "B", 1)

	_, err := f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "A"})
	require.NoError(t, err)
	_, err = f.service.Submit(context.Background(), 3, SubmitRequest{PurposeName: "A"})
	require.NoError(t, err)
	_, err = f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "B"})
	require.NoError(t, err)

	mine, err := f.service.ListForUser(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, mine, 2)

	all, err := f.service.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDelete(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedUser(t, 1, "owner", "")
	f.seedUser(t, 2, "alice", "")
	f.seedPurpose(t, "ICU", 1)

	r, err := f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "ICU"})
	require.NoError(t, err)
	_, err = f.service.Resolve(context.Background(), r.ID, ResolveRequest{Decision: DecisionApprove}, 1)
	require.NoError(t, err)

	require.NoError(t, f.service.Delete(context.Background(), r.ID))

	// Deleting an approved request never reverts its grant.
	p, err := f.registry.Get(context.Background(), "ICU")
	require.NoError(t, err)
	assert.Contains(t, p.CanRead, int64(2))

	assert.ErrorIs(t, f.service.Delete(context.Background(), r.ID), apperrors.ErrNotFound)
}
