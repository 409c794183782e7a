package storage

import (
	"database/sql"
	"fmt"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	Postgres    string
	SQLite      string
}

// Migrations returns all schema migrations in order. Each migration carries
// dialect-specific DDL; the statements are otherwise kept in lockstep.
func Migrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create users and api_tokens tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					username VARCHAR(255) NOT NULL UNIQUE,
					email VARCHAR(255),
					full_name VARCHAR(255),
					university VARCHAR(255),
					is_admin BOOLEAN NOT NULL DEFAULT FALSE,
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					password_hash TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					last_login_at TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS api_tokens (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					token_prefix VARCHAR(16) NOT NULL,
					name VARCHAR(255),
					expires_at TIMESTAMP,
					last_used_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					revoked_at TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_api_tokens_user_id ON api_tokens(user_id);

				CREATE TABLE IF NOT EXISTS password_resets (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash VARCHAR(64) NOT NULL UNIQUE,
					expires_at TIMESTAMP NOT NULL,
					used_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS users (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					username TEXT NOT NULL UNIQUE,
					email TEXT,
					full_name TEXT,
					university TEXT,
					is_admin BOOLEAN NOT NULL DEFAULT 0,
					is_active BOOLEAN NOT NULL DEFAULT 1,
					password_hash TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					last_login_at TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS api_tokens (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash TEXT NOT NULL UNIQUE,
					token_prefix TEXT NOT NULL,
					name TEXT,
					expires_at TIMESTAMP,
					last_used_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					revoked_at TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_api_tokens_user_id ON api_tokens(user_id);

				CREATE TABLE IF NOT EXISTS password_resets (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					token_hash TEXT NOT NULL UNIQUE,
					expires_at TIMESTAMP NOT NULL,
					used_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     2,
			Description: "Create purposes and purpose_members tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS purposes (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL UNIQUE,
					description TEXT,
					created_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE TABLE IF NOT EXISTS purpose_members (
					purpose_id BIGINT NOT NULL REFERENCES purposes(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					capability VARCHAR(16) NOT NULL,
					granted_by BIGINT,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (purpose_id, user_id, capability)
				);
				CREATE INDEX IF NOT EXISTS idx_purpose_members_user_id ON purpose_members(user_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS purposes (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					name TEXT NOT NULL UNIQUE,
					description TEXT,
					created_by INTEGER REFERENCES users(id) ON DELETE SET NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS purpose_members (
					purpose_id INTEGER NOT NULL REFERENCES purposes(id) ON DELETE CASCADE,
					user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					capability TEXT NOT NULL,
					granted_by INTEGER,
					granted_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					PRIMARY KEY (purpose_id, user_id, capability)
				);
				CREATE INDEX IF NOT EXISTS idx_purpose_members_user_id ON purpose_members(user_id);
			`,
		},
		{
			Version:     3,
			Description: "Create access_requests table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS access_requests (
					id BIGSERIAL PRIMARY KEY,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					purpose_name VARCHAR(255) NOT NULL,
					message TEXT,
					responder_message TEXT,
					status VARCHAR(16) NOT NULL DEFAULT 'Pending',
					grant_applied BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					resolved_at TIMESTAMP,
					resolved_by BIGINT
				);
				CREATE INDEX IF NOT EXISTS idx_access_requests_user_id ON access_requests(user_id);
				CREATE INDEX IF NOT EXISTS idx_access_requests_status ON access_requests(status);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS access_requests (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					purpose_name TEXT NOT NULL,
					message TEXT,
					responder_message TEXT,
					status TEXT NOT NULL DEFAULT 'Pending',
					grant_applied BOOLEAN NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					resolved_at TIMESTAMP,
					resolved_by INTEGER
				);
				CREATE INDEX IF NOT EXISTS idx_access_requests_user_id ON access_requests(user_id);
				CREATE INDEX IF NOT EXISTS idx_access_requests_status ON access_requests(status);
			`,
		},
		{
			Version:     4,
			Description: "Create articles and feedback tables",
			Postgres: `
				CREATE TABLE IF NOT EXISTS articles (
					id BIGSERIAL PRIMARY KEY,
					title VARCHAR(250) NOT NULL,
					event_link TEXT,
					event_time TIMESTAMP NOT NULL,
					duration VARCHAR(50),
					purpose_name VARCHAR(255) NOT NULL,
					organizer_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
					meeting_id VARCHAR(50),
					passcode VARCHAR(50),
					speaker VARCHAR(255),
					location VARCHAR(255),
					additional_details VARCHAR(1000),
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_articles_purpose_name ON articles(purpose_name);
				CREATE INDEX IF NOT EXISTS idx_articles_event_time ON articles(event_time);

				CREATE TABLE IF NOT EXISTS feedback (
					id BIGSERIAL PRIMARY KEY,
					article_id BIGINT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					body TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
				CREATE INDEX IF NOT EXISTS idx_feedback_article_id ON feedback(article_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS articles (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					title TEXT NOT NULL,
					event_link TEXT,
					event_time TIMESTAMP NOT NULL,
					duration TEXT,
					purpose_name TEXT NOT NULL,
					organizer_id INTEGER REFERENCES users(id) ON DELETE SET NULL,
					meeting_id TEXT,
					passcode TEXT,
					speaker TEXT,
					location TEXT,
					additional_details TEXT,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_articles_purpose_name ON articles(purpose_name);
				CREATE INDEX IF NOT EXISTS idx_articles_event_time ON articles(event_time);

				CREATE TABLE IF NOT EXISTS feedback (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					article_id INTEGER NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
					user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					body TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
				CREATE INDEX IF NOT EXISTS idx_feedback_article_id ON feedback(article_id);
			`,
		},
		{
			Version:     5,
			Description: "Create audit_events table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id BIGSERIAL PRIMARY KEY,
					timestamp TIMESTAMP NOT NULL DEFAULT NOW(),
					event_type VARCHAR(64) NOT NULL,
					status VARCHAR(16) NOT NULL,
					user_id BIGINT,
					username VARCHAR(255),
					resource_type VARCHAR(32),
					resource_id VARCHAR(255),
					detail TEXT,
					ip_address VARCHAR(64),
					request_id VARCHAR(64)
				);
				CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
				CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
				CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					event_type TEXT NOT NULL,
					status TEXT NOT NULL,
					user_id INTEGER,
					username TEXT,
					resource_type TEXT,
					resource_id TEXT,
					detail TEXT,
					ip_address TEXT,
					request_id TEXT
				);
				CREATE INDEX IF NOT EXISTS idx_audit_events_timestamp ON audit_events(timestamp);
				CREATE INDEX IF NOT EXISTS idx_audit_events_event_type ON audit_events(event_type);
				CREATE INDEX IF NOT EXISTS idx_audit_events_user_id ON audit_events(user_id);
			`,
		},
		{
			Version:     6,
			Description: "Create sso_identities table",
			Postgres: `
				CREATE TABLE IF NOT EXISTS sso_identities (
					id BIGSERIAL PRIMARY KEY,
					issuer VARCHAR(255) NOT NULL,
					subject VARCHAR(255) NOT NULL,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					email VARCHAR(255),
					last_login_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE (issuer, subject)
				);
				CREATE INDEX IF NOT EXISTS idx_sso_identities_user_id ON sso_identities(user_id);
			`,
			SQLite: `
				CREATE TABLE IF NOT EXISTS sso_identities (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					issuer TEXT NOT NULL,
					subject TEXT NOT NULL,
					user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					email TEXT,
					last_login_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					UNIQUE (issuer, subject)
				);
				CREATE INDEX IF NOT EXISTS idx_sso_identities_user_id ON sso_identities(user_id);
			`,
		},
	}
}

// Migrate applies all pending migrations for the given driver.
func Migrate(db *sql.DB, driver string) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, m := range Migrations() {
		var applied int
		err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = $1`, m.Version).Scan(&applied)
		if err != nil {
			return fmt.Errorf("failed to check migration %d: %w", m.Version, err)
		}
		if applied > 0 {
			continue
		}

		ddl := m.Postgres
		if driver == "sqlite3" {
			ddl = m.SQLite
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.Version, err)
		}
		if _, err := tx.Exec(ddl); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s) failed: %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, description) VALUES ($1, $2)`,
			m.Version, m.Description); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}
