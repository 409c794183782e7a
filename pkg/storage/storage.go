package storage

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite driver for dev and tests
)

// Config holds database configuration.
type Config struct {
	// Driver is "postgres" or "sqlite3".
	Driver string

	// PostgresURL is the DSN when Driver is "postgres".
	PostgresURL string
	// SQLitePath is the file path (or ":memory:") when Driver is "sqlite3".
	SQLitePath string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Driver:          "sqlite3",
		SQLitePath:      "rounds.db",
		MaxOpenConns:    20,
		MaxIdleConns:    4,
		ConnMaxLifetime: 30 * time.Minute,
	}
}

// Open opens the configured database, pings it, and applies migrations.
func Open(cfg Config) (*sql.DB, error) {
	var dsn string
	switch cfg.Driver {
	case "postgres":
		dsn = cfg.PostgresURL
	case "sqlite3":
		dsn = cfg.SQLitePath + "?_foreign_keys=on"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if cfg.Driver == "sqlite3" && cfg.SQLitePath == ":memory:" {
		// Each pooled connection to :memory: would be its own empty
		// database; pin the pool to one.
		db.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := Migrate(db, cfg.Driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return db, nil
}
