// Package config loads application configuration from an optional YAML file
// and ROUNDS_* environment variables, with env taking precedence.
//
// The policy section carries the engine's behavioral knobs, most notably
// AllowDuplicatePending, which decides whether a second access request for
// the same purpose may be filed while an earlier one is still Pending.
package config
