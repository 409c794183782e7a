package articles

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/purposes"
)

// Service implements article CRUD. Enforcement happens in front of it:
// the middleware checks write capability before Create/Update/Delete
// run, and List filters to the caller's readable purposes, so a denied
// caller never creates a record or sees one they should not.
type Service struct {
	db       *sql.DB
	registry *purposes.Registry
}

// NewService creates the article service.
func NewService(db *sql.DB, registry *purposes.Registry) *Service {
	return &Service{db: db, registry: registry}
}

// Create inserts an article tagged with a purpose.
func (s *Service) Create(ctx context.Context, req CreateRequest, organizerID int64) (*Article, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, apperrors.Validationf("title is required")
	}
	if len(req.Title) > MaxTitleLength {
		return nil, apperrors.Validationf("title exceeds %d characters", MaxTitleLength)
	}
	if req.EventTime.IsZero() {
		return nil, apperrors.Validationf("event_time is required")
	}
	if req.PurposeName == "" {
		return nil, apperrors.Validationf("purpose_name is required")
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM purposes WHERE name = $1)`, req.PurposeName,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check purpose: %w", err)
	}
	if !exists {
		return nil, apperrors.NotFoundf("purpose %q not found", req.PurposeName)
	}

	var a Article
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO articles (title, event_link, event_time, duration, purpose_name,
			organizer_id, meeting_id, passcode, speaker, location, additional_details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING id, created_at, updated_at`,
		req.Title, req.EventLink, req.EventTime.UTC(), req.Duration, req.PurposeName,
		organizerID, req.MeetingID, req.Passcode, req.Speaker, req.Location, req.AdditionalDetails,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert article: %w", err)
	}

	a.Title = req.Title
	a.EventLink = req.EventLink
	a.EventTime = req.EventTime.UTC()
	a.Duration = req.Duration
	a.PurposeName = req.PurposeName
	a.OrganizerID = organizerID
	a.MeetingID = req.MeetingID
	a.Passcode = req.Passcode
	a.Speaker = req.Speaker
	a.Location = req.Location
	a.AdditionalDetails = req.AdditionalDetails
	return &a, nil
}

// Get returns one article by id.
func (s *Service) Get(ctx context.Context, id int64) (*Article, error) {
	a, err := scanArticle(s.db.QueryRowContext(ctx, selectArticle+` WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundf("article %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query article: %w", err)
	}
	return a, nil
}

// ListReadable returns the articles the user may see: those tagged with
// a purpose on which they hold read capability. Admins see everything.
func (s *Service) ListReadable(ctx context.Context, userID int64, isAdmin bool) ([]*Article, error) {
	if isAdmin {
		return s.list(ctx, selectArticle+` ORDER BY event_time DESC`)
	}
	readable, err := s.registry.ReadablePurposes(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(readable) == 0 {
		return []*Article{}, nil
	}

	placeholders := make([]string, len(readable))
	args := make([]interface{}, len(readable))
	for i, name := range readable {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = name
	}
	query := selectArticle + ` WHERE purpose_name IN (` + strings.Join(placeholders, ", ") + `) ORDER BY event_time DESC`
	return s.list(ctx, query, args...)
}

// Update applies a partial update. The purpose tag is immutable; moving
// an event between purposes means recreating it under the new one.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (*Article, error) {
	if req.Title != nil {
		if strings.TrimSpace(*req.Title) == "" {
			return nil, apperrors.Validationf("title cannot be empty")
		}
		if len(*req.Title) > MaxTitleLength {
			return nil, apperrors.Validationf("title exceeds %d characters", MaxTitleLength)
		}
	}

	set := []string{"updated_at = $1"}
	args := []interface{}{time.Now().UTC()}
	add := func(col string, v interface{}) {
		args = append(args, v)
		set = append(set, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if req.Title != nil {
		add("title", *req.Title)
	}
	if req.EventLink != nil {
		add("event_link", *req.EventLink)
	}
	if req.EventTime != nil {
		add("event_time", req.EventTime.UTC())
	}
	if req.Duration != nil {
		add("duration", *req.Duration)
	}
	if req.MeetingID != nil {
		add("meeting_id", *req.MeetingID)
	}
	if req.Passcode != nil {
		add("passcode", *req.Passcode)
	}
	if req.Speaker != nil {
		add("speaker", *req.Speaker)
	}
	if req.Location != nil {
		add("location", *req.Location)
	}
	if req.AdditionalDetails != nil {
		add("additional_details", *req.AdditionalDetails)
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE articles SET %s WHERE id = $%d`, strings.Join(set, ", "), len(args)), args...)
	if err != nil {
		return nil, fmt.Errorf("update article: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("update article: %w", err)
	}
	if n == 0 {
		return nil, apperrors.NotFoundf("article %d not found", id)
	}
	return s.Get(ctx, id)
}

// Delete removes an article and, through the schema, its feedback.
func (s *Service) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM articles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete article: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("article %d not found", id)
	}
	return nil
}

const selectArticle = `
	SELECT id, title, event_link, event_time, duration, purpose_name,
		organizer_id, meeting_id, passcode, speaker, location,
		additional_details, created_at, updated_at
	FROM articles`

func (s *Service) list(ctx context.Context, query string, args ...interface{}) ([]*Article, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	out := []*Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanArticle(row rowScanner) (*Article, error) {
	var a Article
	var eventLink, duration, meetingID, passcode, speaker, location, details sql.NullString
	var organizerID sql.NullInt64
	err := row.Scan(&a.ID, &a.Title, &eventLink, &a.EventTime, &duration, &a.PurposeName,
		&organizerID, &meetingID, &passcode, &speaker, &location, &details,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.EventLink = eventLink.String
	a.Duration = duration.String
	a.OrganizerID = organizerID.Int64
	a.MeetingID = meetingID.String
	a.Passcode = passcode.String
	a.Speaker = speaker.String
	a.Location = location.String
	a.AdditionalDetails = details.String
	return &a, nil
}
