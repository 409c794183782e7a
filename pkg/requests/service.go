package requests

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/notify"
	"github.com/cloudrounds/rounds/pkg/observability"
	"github.com/cloudrounds/rounds/pkg/purposes"
)

// Sender enqueues a notification without blocking. Satisfied by
// notify.Dispatcher.
type Sender interface {
	Send(msg notify.Message)
}

// Config holds the request engine's policy knobs.
type Config struct {
	// AllowDuplicatePending permits a second Pending request for the
	// same (user, purpose). Off by default: the duplicate is a conflict.
	AllowDuplicatePending bool
}

// Service implements the access-request lifecycle. The status column is
// the authoritative record: it commits before any membership grant, and
// a grant failure leaves an Approved row with grant_applied false for
// the reconciler to retry.
type Service struct {
	db       *sql.DB
	registry *purposes.Registry
	sender   Sender
	cfg      Config
	metrics  *observability.Metrics
}

// NewService creates the request service. sender and metrics may be nil.
func NewService(db *sql.DB, registry *purposes.Registry, sender Sender, cfg Config, metrics *observability.Metrics) *Service {
	if sender == nil {
		sender = nopSender{}
	}
	return &Service{db: db, registry: registry, sender: sender, cfg: cfg, metrics: metrics}
}

type nopSender struct{}

func (nopSender) Send(msg notify.Message) {}

// Submit files a new request for read access to purposeName on behalf of
// userID. The insert itself rejects a duplicate Pending request when the
// policy forbids one, so two concurrent submissions cannot both land.
func (s *Service) Submit(ctx context.Context, userID int64, req SubmitRequest) (*Request, error) {
	if strings.TrimSpace(req.PurposeName) == "" {
		return nil, apperrors.Validationf("purpose_name is required")
	}
	if userID <= 0 {
		return nil, apperrors.Validationf("user id is required")
	}

	requester, err := s.lookupUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	var purposeExists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM purposes WHERE name = $1)`, req.PurposeName,
	).Scan(&purposeExists); err != nil {
		return nil, fmt.Errorf("check purpose: %w", err)
	}
	if !purposeExists {
		return nil, apperrors.NotFoundf("purpose %q not found", req.PurposeName)
	}

	var r Request
	if s.cfg.AllowDuplicatePending {
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO access_requests (user_id, purpose_name, message)
			VALUES ($1, $2, $3)
			RETURNING id, user_id, purpose_name, message, status, grant_applied, created_at`,
			userID, req.PurposeName, req.Message,
		).Scan(&r.ID, &r.UserID, &r.PurposeName, &r.Message, &r.Status, &r.GrantApplied, &r.CreatedAt)
	} else {
		err = s.db.QueryRowContext(ctx, `
			INSERT INTO access_requests (user_id, purpose_name, message)
			SELECT $1, $2, $3
			WHERE NOT EXISTS (
				SELECT 1 FROM access_requests
				WHERE user_id = $1 AND purpose_name = $2 AND status = 'Pending'
			)
			RETURNING id, user_id, purpose_name, message, status, grant_applied, created_at`,
			userID, req.PurposeName, req.Message,
		).Scan(&r.ID, &r.UserID, &r.PurposeName, &r.Message, &r.Status, &r.GrantApplied, &r.CreatedAt)
		if err == sql.ErrNoRows {
			return nil, apperrors.Conflictf("a request for %q by user %d is already pending", req.PurposeName, userID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("insert request: %w", err)
	}

	s.observe("submitted")
	s.notifyOwner(ctx, &r, requester.username)
	return &r, nil
}

// Get returns one request by id.
func (s *Service) Get(ctx context.Context, id int64) (*Request, error) {
	return s.scanOne(s.db.QueryRowContext(ctx, selectRequest+` WHERE id = $1`, id), id)
}

// ListAll returns every request, newest first.
func (s *Service) ListAll(ctx context.Context) ([]*Request, error) {
	return s.list(ctx, selectRequest+` ORDER BY created_at DESC, id DESC`)
}

// ListForUser returns the requests filed by userID, newest first.
func (s *Service) ListForUser(ctx context.Context, userID int64) ([]*Request, error) {
	return s.list(ctx, selectRequest+` WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
}

// ListPending returns all pending requests, oldest first, for approver
// work queues.
func (s *Service) ListPending(ctx context.Context) ([]*Request, error) {
	return s.list(ctx, selectRequest+` WHERE status = 'Pending' ORDER BY created_at ASC, id ASC`)
}

// Resolve transitions a pending request to Approved or Denied. The
// transition is a compare-and-set on status, so exactly one of two
// concurrent resolvers wins; the loser gets an InvalidStateError. On
// approval the status commit is authoritative: the membership grant runs
// after it, and a grant failure returns a retryable dependency error
// while the reconciler takes over.
func (s *Service) Resolve(ctx context.Context, id int64, req ResolveRequest, resolvedBy int64) (*Request, error) {
	var status Status
	switch req.Decision {
	case DecisionApprove:
		status = StatusApproved
	case DecisionDeny:
		status = StatusDenied
	default:
		return nil, apperrors.Validationf("decision must be approve or deny, got %q", req.Decision)
	}

	now := time.Now().UTC()
	var r Request
	err := s.db.QueryRowContext(ctx, `
		UPDATE access_requests
		SET status = $1, responder_message = $2, resolved_at = $3, resolved_by = $4
		WHERE id = $5 AND status = 'Pending'
		RETURNING id, user_id, purpose_name, message, responder_message, status, grant_applied, created_at, resolved_at, resolved_by`,
		string(status), req.ResponderMessage, now, resolvedBy, id,
	).Scan(&r.ID, &r.UserID, &r.PurposeName, &r.Message, &r.ResponderMessage,
		&r.Status, &r.GrantApplied, &r.CreatedAt, &r.ResolvedAt, &r.ResolvedBy)
	if err == sql.ErrNoRows {
		// Disambiguate: gone entirely, or already terminal.
		existing, lookupErr := s.Get(ctx, id)
		if lookupErr != nil {
			return nil, lookupErr
		}
		return nil, apperrors.InvalidStatef("request %d is already %s", id, existing.Status)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve request: %w", err)
	}

	if status == StatusApproved {
		if err := s.applyGrant(ctx, &r, resolvedBy); err != nil {
			// The approval stands; the grant is owed. Reconciler
			// picks this row up by grant_applied = false.
			s.observe("grant_deferred")
			s.notifyRequester(ctx, &r)
			return &r, err
		}
		s.observe("approved")
	} else {
		s.observe("denied")
	}

	s.notifyRequester(ctx, &r)
	return &r, nil
}

// Delete removes a request in any status. Deleting an approved request
// never reverts its grant; membership is managed through the purpose
// registry.
func (s *Service) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM access_requests WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("request %d not found", id)
	}
	s.observe("deleted")
	return nil
}

// applyGrant performs the idempotent read-capability grant and records
// it on the request row.
func (s *Service) applyGrant(ctx context.Context, r *Request, grantedBy int64) error {
	if err := s.registry.AddMember(ctx, r.PurposeName, r.UserID, purposes.CapabilityRead, grantedBy); err != nil {
		return apperrors.Dependency("apply membership grant", err)
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE access_requests SET grant_applied = TRUE WHERE id = $1`, r.ID,
	); err != nil {
		// The membership row exists; only the marker is missing. The
		// reconciler re-applies harmlessly.
		return apperrors.Dependency("record grant", err)
	}
	r.GrantApplied = true
	return nil
}

const selectRequest = `
	SELECT id, user_id, purpose_name, message, responder_message, status,
		grant_applied, created_at, resolved_at, resolved_by
	FROM access_requests`

func (s *Service) list(ctx context.Context, query string, args ...interface{}) ([]*Request, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	out := []*Request{}
	for rows.Next() {
		r, err := scanRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Service) scanOne(row *sql.Row, id int64) (*Request, error) {
	r, err := scanRequest(row.Scan)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundf("request %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func scanRequest(scan func(...interface{}) error) (*Request, error) {
	var r Request
	var message, responderMessage sql.NullString
	var resolvedAt sql.NullTime
	var resolvedBy sql.NullInt64
	err := scan(&r.ID, &r.UserID, &r.PurposeName, &message, &responderMessage,
		&r.Status, &r.GrantApplied, &r.CreatedAt, &resolvedAt, &resolvedBy)
	if err != nil {
		return nil, err
	}
	r.Message = message.String
	r.ResponderMessage = responderMessage.String
	if resolvedAt.Valid {
		t := resolvedAt.Time
		r.ResolvedAt = &t
	}
	if resolvedBy.Valid {
		v := resolvedBy.Int64
		r.ResolvedBy = &v
	}
	return &r, nil
}

type userInfo struct {
	id       int64
	username string
	email    string
}

func (s *Service) lookupUser(ctx context.Context, id int64) (*userInfo, error) {
	var u userInfo
	var email sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, username, email FROM users WHERE id = $1`, id,
	).Scan(&u.id, &u.username, &email)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundf("user %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query user: %w", err)
	}
	u.email = email.String
	return &u, nil
}

// notifyOwner mails the purpose creator about a new submission.
func (s *Service) notifyOwner(ctx context.Context, r *Request, requesterName string) {
	var ownerEmail sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT u.email FROM users u
		JOIN purposes p ON p.created_by = u.id
		WHERE p.name = $1`, r.PurposeName,
	).Scan(&ownerEmail)
	if err != nil || !ownerEmail.Valid || ownerEmail.String == "" {
		return
	}
	s.sender.Send(notify.Message{
		Recipient: ownerEmail.String,
		Subject:   fmt.Sprintf("New access request for %s", r.PurposeName),
		Body: fmt.Sprintf("%s has requested access to %s.\n\nMessage: %s\n",
			requesterName, r.PurposeName, r.Message),
	})
}

// notifyRequester mails the requester the outcome of their request.
func (s *Service) notifyRequester(ctx context.Context, r *Request) {
	u, err := s.lookupUser(ctx, r.UserID)
	if err != nil || u.email == "" {
		return
	}
	verdict := "denied"
	if r.Status == StatusApproved {
		verdict = "approved"
	}
	body := fmt.Sprintf("Your request for access to %s has been %s.\n", r.PurposeName, verdict)
	if r.ResponderMessage != "" {
		body += "\nResponse: " + r.ResponderMessage + "\n"
	}
	s.sender.Send(notify.Message{
		Recipient: u.email,
		Subject:   fmt.Sprintf("Access request %s: %s", verdict, r.PurposeName),
		Body:      body,
	})
}

func (s *Service) observe(event string) {
	if s.metrics != nil {
		s.metrics.AccessRequestsTotal.WithLabelValues(event).Inc()
	}
}
