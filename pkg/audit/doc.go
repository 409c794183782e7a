// Package audit records security-relevant events (logins, permission
// grants, request resolutions, content mutations) to a durable trail.
//
// The DBLogger writes to the audit_events table; admins query it through
// the /audit endpoints. Audit failures are reported to the caller but
// must never abort the audited operation.
package audit
