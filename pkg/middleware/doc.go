// Package middleware holds the HTTP enforcement layer: bearer-token
// authentication, capability checks in front of handlers, admin gating,
// and rate limiting (in-process or Redis-backed).
//
// RequireCapability runs before the wrapped handler, so a denied request
// produces no side effect. The purpose under decision comes from a
// PurposeResolver: a path variable, a query parameter, or a JSON body
// field (with the body restored for the handler).
package middleware
