package requests

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cloudrounds/rounds/pkg/apperrors"
	"github.com/cloudrounds/rounds/pkg/observability"
	"github.com/cloudrounds/rounds/pkg/purposes"
)

// Reconciler repairs the partial-failure window of approval: a request
// whose status committed as Approved but whose membership grant did not
// land. It periodically re-applies the grant, which is idempotent, and
// flips grant_applied once the membership row exists. Grants whose
// purpose has since been deleted are retired rather than retried.
type Reconciler struct {
	db       *sql.DB
	registry *purposes.Registry
	log      *observability.Logger
	metrics  *observability.Metrics

	cron    *cron.Cron
	entryID cron.EntryID
}

// NewReconciler creates a reconciler. log is required; metrics may be nil.
func NewReconciler(db *sql.DB, registry *purposes.Registry, log *observability.Logger, metrics *observability.Metrics) *Reconciler {
	return &Reconciler{
		db:       db,
		registry: registry,
		log:      log.WithField("component", "grant-reconciler"),
		metrics:  metrics,
	}
}

// Start schedules reconciliation every interval. Minimum cadence is one
// second (cron's floor).
func (r *Reconciler) Start(interval time.Duration) error {
	if r.cron != nil {
		return fmt.Errorf("reconciler already started")
	}
	if interval < time.Second {
		interval = time.Second
	}
	r.cron = cron.New(cron.WithSeconds())
	spec := fmt.Sprintf("@every %s", interval)
	id, err := r.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := r.Reconcile(ctx); err != nil {
			r.log.WithError(err).Error("grant reconciliation pass failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule reconciler: %w", err)
	}
	r.entryID = id
	r.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running pass.
func (r *Reconciler) Stop() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

// Reconcile applies the owed grant for every Approved request with
// grant_applied false. Returns how many rows were repaired. One bad row
// does not stop the pass.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, user_id, purpose_name, resolved_by
		FROM access_requests
		WHERE status = 'Approved' AND grant_applied = FALSE
		ORDER BY id`)
	if err != nil {
		return 0, fmt.Errorf("query unapplied grants: %w", err)
	}
	defer rows.Close()

	type pending struct {
		id          int64
		userID      int64
		purposeName string
		resolvedBy  sql.NullInt64
	}
	var work []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.userID, &p.purposeName, &p.resolvedBy); err != nil {
			return 0, fmt.Errorf("scan unapplied grant: %w", err)
		}
		work = append(work, p)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}
	if r.metrics != nil {
		r.metrics.PendingGrantsGauge.Set(float64(len(work)))
	}

	repaired := 0
	for _, p := range work {
		if err := ctx.Err(); err != nil {
			return repaired, err
		}
		if r.metrics != nil {
			r.metrics.GrantReconcileRetries.Inc()
		}
		if err := r.registry.AddMember(ctx, p.purposeName, p.userID, purposes.CapabilityRead, p.resolvedBy.Int64); err != nil {
			if errors.Is(err, apperrors.ErrNotFound) {
				// The purpose is gone; this grant can never apply.
				// Retire the row so it stops churning every pass.
				if _, markErr := r.db.ExecContext(ctx,
					`UPDATE access_requests SET grant_applied = TRUE WHERE id = $1 AND status = 'Approved'`, p.id,
				); markErr != nil {
					r.log.WithError(markErr).WithField("request_id", p.id).Warn("grant retire update failed")
					continue
				}
				r.log.WithFields(map[string]interface{}{
					"request_id": p.id,
					"purpose":    p.purposeName,
					"user_id":    p.userID,
				}).Warn("purpose deleted after approval, grant retired")
				continue
			}
			r.log.WithError(err).WithFields(map[string]interface{}{
				"request_id": p.id,
				"purpose":    p.purposeName,
				"user_id":    p.userID,
			}).Warn("grant retry failed")
			continue
		}
		if _, err := r.db.ExecContext(ctx,
			`UPDATE access_requests SET grant_applied = TRUE WHERE id = $1 AND status = 'Approved'`, p.id,
		); err != nil {
			r.log.WithError(err).WithField("request_id", p.id).Warn("grant marker update failed")
			continue
		}
		repaired++
	}
	if repaired > 0 {
		r.log.WithField("repaired", repaired).Info("reconciled unapplied grants")
	}
	if r.metrics != nil {
		r.metrics.PendingGrantsGauge.Set(float64(len(work) - repaired))
	}
	return repaired, nil
}
