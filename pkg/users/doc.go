// Package users manages accounts: registration, credential login with
// opaque API tokens, profile updates, and the forgot/reset password
// flow. It holds identity only; what a user may access is decided
// entirely by the purposes membership table.
package users
