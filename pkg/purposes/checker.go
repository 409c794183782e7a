package purposes

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/cloudrounds/rounds/pkg/observability"
)

const (
	// DefaultCacheSize bounds the decision cache.
	DefaultCacheSize = 4096
	// DefaultCacheTTL bounds staleness across processes: explicit
	// invalidation covers local mutations, the TTL covers remote ones.
	DefaultCacheTTL = 30 * time.Second
)

// Checker evaluates whether a user holds a capability on a purpose. It
// reads the membership table and keeps a small expiring cache of
// decisions, dropped whenever the registry mutates the purpose.
type Checker struct {
	db      *sql.DB
	cache   *expirable.LRU[string, bool]
	metrics *observability.Metrics
}

// NewChecker returns a Checker backed by db. metrics may be nil.
func NewChecker(db *sql.DB, cacheSize int, cacheTTL time.Duration, metrics *observability.Metrics) *Checker {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	if cacheTTL <= 0 {
		cacheTTL = DefaultCacheTTL
	}
	return &Checker{
		db:      db,
		cache:   expirable.NewLRU[string, bool](cacheSize, nil, cacheTTL),
		metrics: metrics,
	}
}

// Allowed reports whether userID holds cap on the named purpose. A
// missing purpose is a plain deny, not an error: callers fail closed
// without special-casing absence.
func (c *Checker) Allowed(ctx context.Context, userID int64, purposeName string, cap Capability) (bool, error) {
	d, err := c.Check(ctx, userID, purposeName, cap)
	if err != nil {
		return false, err
	}
	return d.Allowed, nil
}

// Check evaluates the permission and returns the full decision.
func (c *Checker) Check(ctx context.Context, userID int64, purposeName string, cap Capability) (*Decision, error) {
	d := &Decision{
		UserID:      userID,
		PurposeName: purposeName,
		Capability:  cap,
		CheckedAt:   time.Now().UTC(),
	}
	if !cap.Valid() {
		d.Reason = "unknown_capability"
		c.observe(d)
		return d, nil
	}

	key := cacheKey(userID, purposeName, cap)
	if allowed, ok := c.cache.Get(key); ok {
		d.Allowed = allowed
		d.CacheHit = true
		if !allowed {
			d.Reason = "not_a_member"
		}
		if c.metrics != nil {
			c.metrics.PermissionCacheHits.Inc()
		}
		c.observe(d)
		return d, nil
	}
	if c.metrics != nil {
		c.metrics.PermissionCacheMisses.Inc()
	}

	var purposeExists, member bool
	err := c.db.QueryRowContext(ctx, `
		SELECT
			EXISTS(SELECT 1 FROM purposes WHERE name = $1),
			EXISTS(SELECT 1 FROM purpose_members pm
				JOIN purposes p ON p.id = pm.purpose_id
				WHERE p.name = $1 AND pm.user_id = $2 AND pm.capability = $3)`,
		purposeName, userID, string(cap),
	).Scan(&purposeExists, &member)
	if err != nil {
		return nil, fmt.Errorf("evaluate permission: %w", err)
	}

	d.Allowed = member
	switch {
	case !purposeExists:
		d.Reason = "purpose_not_found"
	case !member:
		d.Reason = "not_a_member"
	}
	// Absent purposes are not cached so a later create is seen at once.
	if purposeExists {
		c.cache.Add(key, member)
	}
	c.observe(d)
	return d, nil
}

// InvalidatePurpose drops every cached decision involving the purpose.
func (c *Checker) InvalidatePurpose(name string) {
	prefix := name + "\x00"
	for _, key := range c.cache.Keys() {
		if strings.HasPrefix(key, prefix) {
			c.cache.Remove(key)
		}
	}
}

// Purge drops the whole decision cache.
func (c *Checker) Purge() {
	c.cache.Purge()
}

func (c *Checker) observe(d *Decision) {
	if c.metrics == nil {
		return
	}
	c.metrics.PermissionChecksTotal.WithLabelValues(string(d.Capability), strconv.FormatBool(d.Allowed)).Inc()
}

func cacheKey(userID int64, purposeName string, cap Capability) string {
	return purposeName + "\x00" + strconv.FormatInt(userID, 10) + "\x00" + string(cap)
}
