// Package storage opens the backing database and applies schema migrations.
//
// Two drivers are supported: sqlite3 for development and tests, and postgres
// for production. Queries throughout the codebase use $N placeholders, which
// both drivers accept. Migrations carry dialect-specific DDL kept in
// lockstep; the applied version set is tracked in schema_migrations.
package storage
