// Package auth provides identity types, opaque API token generation, and
// password hashing.
//
// Tokens are random 256-bit values with a "rnds_" prefix. Only a SHA256 hash
// is persisted; the caller sees the full token exactly once at login. The
// rest of the service treats the verified user id from a validated token as
// the sole identity input and never inspects credentials itself.
package auth
