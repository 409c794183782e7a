package purposes

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/storage"
)

// Invalidator receives notice that a purpose's membership changed so that
// cached permission decisions can be dropped.
type Invalidator interface {
	InvalidatePurpose(name string)
}

// Registry manages purposes and their membership sets. The membership
// table is the single source of truth for permissions; every mutation
// notifies the invalidator before returning.
type Registry struct {
	db          *sql.DB
	invalidator Invalidator
}

// NewRegistry returns a Registry backed by db. invalidator may be nil.
func NewRegistry(db *sql.DB, invalidator Invalidator) *Registry {
	return &Registry{db: db, invalidator: invalidator}
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 _.-]{0,99}$`)

// ValidateName checks a purpose name against the allowed charset.
func ValidateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return apperrors.Validationf("purpose name is required")
	}
	if !nameRe.MatchString(name) {
		return apperrors.Validationf("purpose name %q must start with a letter or digit and contain only letters, digits, spaces, '.', '-' or '_' (max 100 chars)", name)
	}
	return nil
}

// Create inserts a new purpose and seeds the creator as a member with
// both read and write capability, all in one transaction.
func (r *Registry) Create(ctx context.Context, req CreateRequest, creatorID int64) (*Purpose, error) {
	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var p Purpose
	err = tx.QueryRowContext(ctx, `
		INSERT INTO purposes (name, description, created_by)
		VALUES ($1, $2, $3)
		RETURNING id, name, description, created_by, created_at, updated_at`,
		req.Name, req.Description, creatorID,
	).Scan(&p.ID, &p.Name, &p.Description, &p.CreatorID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if storage.IsUniqueViolation(err) {
			return nil, apperrors.Validationf("purpose %q already exists", req.Name)
		}
		return nil, fmt.Errorf("insert purpose: %w", err)
	}

	for _, cap := range []Capability{CapabilityRead, CapabilityWrite} {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO purpose_members (purpose_id, user_id, capability, granted_by)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (purpose_id, user_id, capability) DO NOTHING`,
			p.ID, creatorID, string(cap), creatorID,
		); err != nil {
			return nil, fmt.Errorf("seed creator membership: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit purpose: %w", err)
	}

	p.CanRead = []int64{creatorID}
	p.CanWrite = []int64{creatorID}
	r.invalidate(p.Name)
	return &p, nil
}

// Get returns a purpose by name with its member sets populated.
func (r *Registry) Get(ctx context.Context, name string) (*Purpose, error) {
	var p Purpose
	var description sql.NullString
	var createdBy sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
		SELECT id, name, description, created_by, created_at, updated_at
		FROM purposes WHERE name = $1`, name,
	).Scan(&p.ID, &p.Name, &description, &createdBy, &p.CreatedAt, &p.UpdatedAt)
	p.Description = description.String
	p.CreatorID = createdBy.Int64
	if err == sql.ErrNoRows {
		return nil, apperrors.NotFoundf("purpose %q not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("query purpose: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, capability FROM purpose_members
		WHERE purpose_id = $1 ORDER BY user_id`, p.ID)
	if err != nil {
		return nil, fmt.Errorf("query purpose members: %w", err)
	}
	defer rows.Close()

	p.CanRead = []int64{}
	p.CanWrite = []int64{}
	for rows.Next() {
		var userID int64
		var cap string
		if err := rows.Scan(&userID, &cap); err != nil {
			return nil, fmt.Errorf("scan purpose member: %w", err)
		}
		switch Capability(cap) {
		case CapabilityRead:
			p.CanRead = append(p.CanRead, userID)
		case CapabilityWrite:
			p.CanWrite = append(p.CanWrite, userID)
		}
	}
	return &p, rows.Err()
}

// List returns all purposes without member sets.
func (r *Registry) List(ctx context.Context) ([]*Purpose, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, description, created_by, created_at, updated_at
		FROM purposes ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query purposes: %w", err)
	}
	defer rows.Close()

	var out []*Purpose
	for rows.Next() {
		var p Purpose
		var description sql.NullString
		var createdBy sql.NullInt64
		if err := rows.Scan(&p.ID, &p.Name, &description, &createdBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan purpose: %w", err)
		}
		p.Description = description.String
		p.CreatorID = createdBy.Int64
		out = append(out, &p)
	}
	return out, rows.Err()
}

// AddMember grants userID the capability on the named purpose. Adding an
// existing membership is a no-op: the grant itself is a single
// conditional insert, so concurrent duplicate grants converge on one row.
func (r *Registry) AddMember(ctx context.Context, purposeName string, userID int64, cap Capability, grantedBy int64) error {
	if !cap.Valid() {
		return apperrors.Validationf("unknown capability %q", cap)
	}
	purposeID, err := r.purposeID(ctx, purposeName)
	if err != nil {
		return err
	}
	var granted interface{}
	if grantedBy > 0 {
		granted = grantedBy
	}
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO purpose_members (purpose_id, user_id, capability, granted_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (purpose_id, user_id, capability) DO NOTHING`,
		purposeID, userID, string(cap), granted,
	); err != nil {
		return fmt.Errorf("insert membership: %w", err)
	}
	r.invalidate(purposeName)
	return nil
}

// RemoveMember revokes userID's capability on the named purpose. Removing
// an absent membership is a no-op.
func (r *Registry) RemoveMember(ctx context.Context, purposeName string, userID int64, cap Capability) error {
	if !cap.Valid() {
		return apperrors.Validationf("unknown capability %q", cap)
	}
	purposeID, err := r.purposeID(ctx, purposeName)
	if err != nil {
		return err
	}
	if _, err := r.db.ExecContext(ctx, `
		DELETE FROM purpose_members
		WHERE purpose_id = $1 AND user_id = $2 AND capability = $3`,
		purposeID, userID, string(cap),
	); err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	r.invalidate(purposeName)
	return nil
}

// Delete removes a purpose and its memberships. It refuses while any
// pending access request still references the purpose, so resolvers never
// race a vanishing target.
func (r *Registry) Delete(ctx context.Context, name string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var purposeID int64
	err = tx.QueryRowContext(ctx, `SELECT id FROM purposes WHERE name = $1`, name).Scan(&purposeID)
	if err == sql.ErrNoRows {
		return apperrors.NotFoundf("purpose %q not found", name)
	}
	if err != nil {
		return fmt.Errorf("query purpose: %w", err)
	}

	var pending int
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM access_requests
		WHERE purpose_name = $1 AND status = 'Pending'`, name).Scan(&pending)
	if err != nil {
		return fmt.Errorf("count pending requests: %w", err)
	}
	if pending > 0 {
		return apperrors.Conflictf("purpose %q has %d pending access request(s); resolve them first", name, pending)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM purpose_members WHERE purpose_id = $1`, purposeID); err != nil {
		return fmt.Errorf("delete memberships: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM purposes WHERE id = $1`, purposeID); err != nil {
		return fmt.Errorf("delete purpose: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete: %w", err)
	}
	r.invalidate(name)
	return nil
}

// ReadablePurposes returns the names of every purpose on which userID
// holds the read capability.
func (r *Registry) ReadablePurposes(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.name FROM purposes p
		JOIN purpose_members pm ON pm.purpose_id = p.id
		WHERE pm.user_id = $1 AND pm.capability = $2
		ORDER BY p.name`, userID, string(CapabilityRead))
	if err != nil {
		return nil, fmt.Errorf("query readable purposes: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan purpose name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// UserMemberships returns a per-purpose capability summary for userID.
func (r *Registry) UserMemberships(ctx context.Context, userID int64) ([]Membership, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT p.name, pm.capability FROM purposes p
		JOIN purpose_members pm ON pm.purpose_id = p.id
		WHERE pm.user_id = $1
		ORDER BY p.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("query memberships: %w", err)
	}
	defer rows.Close()

	byName := map[string]*Membership{}
	order := []string{}
	for rows.Next() {
		var name, cap string
		if err := rows.Scan(&name, &cap); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		m, ok := byName[name]
		if !ok {
			m = &Membership{PurposeName: name}
			byName[name] = m
			order = append(order, name)
		}
		switch Capability(cap) {
		case CapabilityRead:
			m.CanRead = true
		case CapabilityWrite:
			m.CanWrite = true
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]Membership, 0, len(order))
	for _, name := range order {
		out = append(out, *byName[name])
	}
	return out, nil
}

func (r *Registry) purposeID(ctx context.Context, name string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(ctx, `SELECT id FROM purposes WHERE name = $1`, name).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, apperrors.NotFoundf("purpose %q not found", name)
	}
	if err != nil {
		return 0, fmt.Errorf("query purpose: %w", err)
	}
	return id, nil
}

func (r *Registry) invalidate(name string) {
	if r.invalidator != nil {
		r.invalidator.InvalidatePurpose(name)
	}
}
