// Package feedback stores per-article feedback. Leaving or reading
// feedback requires read capability on the article's purpose; the
// capability check runs in the handlers before any row is written.
package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cloudrounds/rounds/pkg/apperrors"
)

// Entry is one feedback record on an article.
type Entry struct {
	ID        int64     `json:"id"`
	ArticleID int64     `json:"article_id"`
	UserID    int64     `json:"user_id"`
	Username  string    `json:"username,omitempty"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// MaxBodyLength bounds a feedback body.
const MaxBodyLength = 4000

// Service implements feedback storage.
type Service struct {
	db *sql.DB
}

// NewService creates the feedback service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Create records feedback on an article.
func (s *Service) Create(ctx context.Context, articleID, userID int64, body string) (*Entry, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, apperrors.Validationf("feedback body is required")
	}
	if len(body) > MaxBodyLength {
		return nil, apperrors.Validationf("feedback body exceeds %d characters", MaxBodyLength)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM articles WHERE id = $1)`, articleID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check article: %w", err)
	}
	if !exists {
		return nil, apperrors.NotFoundf("article %d not found", articleID)
	}

	var e Entry
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO feedback (article_id, user_id, body)
		VALUES ($1, $2, $3)
		RETURNING id, article_id, user_id, body, created_at`,
		articleID, userID, body,
	).Scan(&e.ID, &e.ArticleID, &e.UserID, &e.Body, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert feedback: %w", err)
	}
	return &e, nil
}

// ListForArticle returns an article's feedback, oldest first, with the
// author's username joined in for display.
func (s *Service) ListForArticle(ctx context.Context, articleID int64) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.article_id, f.user_id, u.username, f.body, f.created_at
		FROM feedback f
		JOIN users u ON u.id = f.user_id
		WHERE f.article_id = $1
		ORDER BY f.created_at ASC, f.id ASC`, articleID)
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	defer rows.Close()

	out := []*Entry{}
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.ArticleID, &e.UserID, &e.Username, &e.Body, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan feedback: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// Delete removes one feedback entry. The handler restricts this to the
// author and admins.
func (s *Service) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feedback WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete feedback: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete feedback: %w", err)
	}
	if n == 0 {
		return apperrors.NotFoundf("feedback %d not found", id)
	}
	return nil
}

// Get returns one feedback entry.
func (s *Service) Get(ctx context.Context, id int64) (*Entry, error) {
	var e Entry
	err := s.db.QueryRowContext(ctx, `
		SELECT id, article_id, user_id, body, created_at
		FROM feedback WHERE id = $1`, id,
	).Scan(&e.ID, &e.ArticleID, &e.UserID, &e.Body, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundf("feedback %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("query feedback: %w", err)
	}
	return &e, nil
}
