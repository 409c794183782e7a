//go:build integration

// Package integration exercises the storage layer and the request
// lifecycle against a real PostgreSQL server. The SQL is written once
// for both drivers, so these tests catch dialect drift the sqlite unit
// tests cannot.
package integration

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/purposes"
	"github.com/cloudrounds/rounds/pkg/requests"
	"github.com/cloudrounds/rounds/pkg/storage"
)

// setupPostgres starts a disposable PostgreSQL container, applies the
// migrations, and returns the connection. Skips when Docker is absent.
func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	provider, err := testcontainers.ProviderDocker.GetProvider()
	if err != nil {
		t.Skip("Docker not available, skipping integration tests")
	}
	provider.Close()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("rounds_test"),
		postgres.WithUsername("rounds"),
		postgres.WithPassword("rounds_test_password"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Skipf("Failed to start PostgreSQL container: %v", err)
	}
	t.Cleanup(func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := container.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: failed to terminate container: %v", err)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("postgres", connStr)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Ping())

	require.NoError(t, storage.Migrate(db, "postgres"))
	return db
}

func TestMigrationsAreIdempotent(t *testing.T) {
	db := setupPostgres(t)

	// A second run must be a no-op.
	require.NoError(t, storage.Migrate(db, "postgres"))

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, len(storage.Migrations()), n)
}

func TestMembershipGrantIsIdempotentOnPostgres(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO users (username, password_hash) VALUES ('owner', 'x'), ('member', 'x')`)
	require.NoError(t, err)

	registry := purposes.NewRegistry(db, nil)
	_, err = registry.Create(ctx, purposes.CreateRequest{Name: "Grand Rounds"}, 1)
	require.NoError(t, err)

	// Adding the same capability twice must not error or duplicate.
	for i := 0; i < 2; i++ {
		require.NoError(t, registry.AddMember(ctx, "Grand Rounds", 2, purposes.CapabilityRead, 1))
	}

	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM purpose_members WHERE user_id = 2 AND capability = 'read'`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestRequestLifecycleOnPostgres(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO users (username, email, password_hash) VALUES
		('owner', 'owner@hospital.example', 'x'),
		('member', 'member@hospital.example', 'x')`)
	require.NoError(t, err)

	registry := purposes.NewRegistry(db, nil)
	_, err = registry.Create(ctx, purposes.CreateRequest{Name: "ICU"}, 1)
	require.NoError(t, err)

	svc := requests.NewService(db, registry, nil, requests.Config{}, nil)

	req, err := svc.Submit(ctx, 2, requests.SubmitRequest{PurposeName: "ICU"})
	require.NoError(t, err)
	assert.Equal(t, requests.StatusPending, req.Status)

	// A second pending request for the same purpose is a conflict.
	_, err = svc.Submit(ctx, 2, requests.SubmitRequest{PurposeName: "ICU"})
	assert.Error(t, err)

	resolved, err := svc.Resolve(ctx, req.ID, requests.ResolveRequest{Decision: requests.DecisionApprove}, 1)
	require.NoError(t, err)
	assert.Equal(t, requests.StatusApproved, resolved.Status)
	assert.True(t, resolved.GrantApplied)

	p, err := registry.Get(ctx, "ICU")
	require.NoError(t, err)
	assert.Contains(t, p.CanRead, int64(2))

	// Double resolution is rejected by the status CAS.
	_, err = svc.Resolve(ctx, req.ID, requests.ResolveRequest{Decision: requests.DecisionDeny}, 1)
	assert.Error(t, err)
}

func TestConcurrentResolutionOnPostgres(t *testing.T) {
	db := setupPostgres(t)
	ctx := context.Background()

	_, err := db.Exec(`INSERT INTO users (username, password_hash) VALUES ('owner', 'x'), ('member', 'x')`)
	require.NoError(t, err)

	registry := purposes.NewRegistry(db, nil)
	_, err = registry.Create(ctx, purposes.CreateRequest{Name: "ICU"}, 1)
	require.NoError(t, err)

	svc := requests.NewService(db, registry, nil, requests.Config{}, nil)
	req, err := svc.Submit(ctx, 2, requests.SubmitRequest{PurposeName: "ICU"})
	require.NoError(t, err)

	// Many resolvers race on the same pending request. The status CAS
	// must let exactly one through; the rest observe the terminal state.
	const resolvers = 8
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make(chan error, resolvers)
	)
	for i := 0; i < resolvers; i++ {
		decision := requests.DecisionApprove
		if i%2 == 1 {
			decision = requests.DecisionDeny
		}
		wg.Add(1)
		go func(d requests.Decision) {
			defer wg.Done()
			<-start
			_, err := svc.Resolve(ctx, req.ID, requests.ResolveRequest{Decision: d}, 1)
			errs <- err
		}(decision)
	}
	close(start)
	wg.Wait()
	close(errs)

	var wins, losses int
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		losses++
		assert.ErrorIs(t, err, apperrors.ErrInvalidState)
	}
	assert.Equal(t, 1, wins)
	assert.Equal(t, resolvers-1, losses)

	// The request landed in exactly one terminal state.
	final, err := svc.Get(ctx, req.ID)
	require.NoError(t, err)
	assert.NotEqual(t, requests.StatusPending, final.Status)

	// At most one membership row regardless of how the race went.
	var n int
	require.NoError(t, db.QueryRow(
		`SELECT COUNT(*) FROM purpose_members WHERE user_id = 2 AND capability = 'read'`).Scan(&n))
	if final.Status == requests.StatusApproved {
		assert.Equal(t, 1, n)
	} else {
		assert.Equal(t, 0, n)
	}
}
