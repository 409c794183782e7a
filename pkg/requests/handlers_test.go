package requests

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudrounds/rounds/pkg/audit"
	"github.com/cloudrounds/rounds/pkg/auth"
	"github.com/cloudrounds/rounds/pkg/contextkeys"
	"github.com/cloudrounds/rounds/pkg/purposes"
)

type captureAudit struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (c *captureAudit) Log(ctx context.Context, event *audit.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureAudit) Close() error { return nil }

func (c *captureAudit) last() *audit.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}

func asUser(r *http.Request, id int64, admin bool) *http.Request {
	ac := &auth.AuthContext{User: &auth.User{ID: id, Username: "u", IsAdmin: admin, IsActive: true}}
	return r.WithContext(contextkeys.WithAuth(r.Context(), ac))
}

func TestResolveAuditsDeferredGrant(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedUser(t, 1, "owner", "owner@hospital.example")
	f.seedUser(t, 2, "member", "member@hospital.example")

	_, err := f.registry.Create(context.Background(), purposes.CreateRequest{Name: "ICU"}, 1)
	require.NoError(t, err)
	req, err := f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "ICU"})
	require.NoError(t, err)

	// Yank the purpose out from under the pending request so the grant
	// cannot apply when the approval commits.
	_, err = f.db.Exec(`DELETE FROM purposes WHERE name = 'ICU'`)
	require.NoError(t, err)

	checker := purposes.NewChecker(f.db, 16, time.Minute, nil)
	sink := &captureAudit{}
	h := NewHandlers(f.service, checker, sink)
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	target := fmt.Sprintf("/requests/%d/resolve", req.ID)
	body := bytes.NewBufferString(`{"decision": "approve"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest("PUT", target, body), 1, true))

	// Approval is committed, the grant is owed, and the caller sees 503.
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resolved, err := f.service.Get(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, resolved.Status)
	assert.False(t, resolved.GrantApplied)

	// The trail must not read as a clean success.
	event := sink.last()
	require.NotNil(t, event)
	assert.Equal(t, audit.EventTypeRequestApprove, event.EventType)
	assert.Equal(t, audit.EventStatusFailure, event.Status)
	assert.Contains(t, event.Detail, "grant deferred")
}

func TestResolveAuditsCleanApproval(t *testing.T) {
	f := newFixture(t, Config{})
	f.seedUser(t, 1, "owner", "owner@hospital.example")
	f.seedUser(t, 2, "member", "member@hospital.example")

	_, err := f.registry.Create(context.Background(), purposes.CreateRequest{Name: "ICU"}, 1)
	require.NoError(t, err)
	req, err := f.service.Submit(context.Background(), 2, SubmitRequest{PurposeName: "ICU"})
	require.NoError(t, err)

	checker := purposes.NewChecker(f.db, 16, time.Minute, nil)
	sink := &captureAudit{}
	h := NewHandlers(f.service, checker, sink)
	router := mux.NewRouter()
	h.RegisterRoutes(router)

	target := fmt.Sprintf("/requests/%d/resolve", req.ID)
	body := bytes.NewBufferString(`{"decision": "approve"}`)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, asUser(httptest.NewRequest("PUT", target, body), 1, true))

	assert.Equal(t, http.StatusOK, rec.Code)
	event := sink.last()
	require.NotNil(t, event)
	assert.Equal(t, audit.EventTypeRequestApprove, event.EventType)
	assert.Equal(t, audit.EventStatusSuccess, event.Status)
}
