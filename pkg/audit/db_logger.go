package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// DBLogger writes audit events to the audit_events table. Writes are
// synchronous; the table is indexed for the trail queries the admin
// endpoints run.
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger returns a database-backed audit logger. The audit_events
// table is created by the storage migrations.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log inserts the event and fills in its assigned ID.
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	err := l.db.QueryRowContext(ctx, `
		INSERT INTO audit_events (
			timestamp, event_type, status, user_id, username,
			resource_type, resource_id, detail, ip_address, request_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		event.Timestamp, string(event.EventType), string(event.Status),
		event.UserID, event.Username,
		string(event.ResourceType), event.ResourceID,
		event.Detail, event.IPAddress, event.RequestID,
	).Scan(&event.ID)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// Close is a no-op; the logger does not own the database handle.
func (l *DBLogger) Close() error { return nil }

// Search returns events matching the filter, newest first.
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `
		SELECT id, timestamp, event_type, status, user_id, username,
			resource_type, resource_id, detail, ip_address, request_id
		FROM audit_events`
	where, args := buildFilter(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY timestamp DESC, id DESC"

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" LIMIT $%d", len(args))
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		var e Event
		var userID sql.NullInt64
		var username, resourceType, resourceID, detail, ip, reqID sql.NullString
		if err := rows.Scan(&e.ID, &e.Timestamp, &e.EventType, &e.Status,
			&userID, &username, &resourceType, &resourceID, &detail, &ip, &reqID); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if userID.Valid {
			e.UserID = &userID.Int64
		}
		e.Username = username.String
		e.ResourceType = ResourceType(resourceType.String)
		e.ResourceID = resourceID.String
		e.Detail = detail.String
		e.IPAddress = ip.String
		e.RequestID = reqID.String
		events = append(events, &e)
	}
	return events, rows.Err()
}

// DeleteOlderThan removes events with a timestamp before cutoff and
// returns how many were removed. Driven by the retention cron job.
func (l *DBLogger) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx, `DELETE FROM audit_events WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired audit events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count deleted audit events: %w", err)
	}
	return n, nil
}

func buildFilter(filter SearchFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.StartTime != nil {
		add("timestamp >= $%d", *filter.StartTime)
	}
	if filter.EndTime != nil {
		add("timestamp <= $%d", *filter.EndTime)
	}
	if filter.UserID != nil {
		add("user_id = $%d", *filter.UserID)
	}
	if filter.Status != nil {
		add("status = $%d", string(*filter.Status))
	}
	if filter.Resource != "" {
		add("resource_type = $%d", string(filter.Resource))
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			args = append(args, string(et))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	return strings.Join(clauses, " AND "), args
}
