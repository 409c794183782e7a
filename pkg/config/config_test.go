package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.False(t, cfg.Policy.AllowDuplicatePending)
	assert.Equal(t, time.Minute, cfg.Policy.ReconcileInterval)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ROUNDS_PORT", "9999")
	t.Setenv("ROUNDS_ALLOW_DUPLICATE_PENDING", "true")
	t.Setenv("ROUNDS_RECONCILE_INTERVAL", "30s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9999", cfg.Server.Port)
	assert.True(t, cfg.Policy.AllowDuplicatePending)
	assert.Equal(t, 30*time.Second, cfg.Policy.ReconcileInterval)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rounds.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "7070"
policy:
  allow_duplicate_pending: true
`), 0o644))
	t.Setenv("ROUNDS_CONFIG_FILE", path)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7070", cfg.Server.Port)
	assert.True(t, cfg.Policy.AllowDuplicatePending)
}

func TestEnvBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rounds.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"7070\"\n"), 0o644))
	t.Setenv("ROUNDS_CONFIG_FILE", path)
	t.Setenv("ROUNDS_PORT", "6060")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "6060", cfg.Server.Port)
}

func TestValidateFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"postgres without url", func(c *Config) {
			c.Database.Driver = "postgres"
			c.Database.PostgresURL = ""
		}},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mongodb" }},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true }},
		{"smtp without host", func(c *Config) { c.SMTP.Enabled = true }},
		{"oidc without issuer", func(c *Config) { c.OIDC.Enabled = true }},
		{"otel without endpoint", func(c *Config) { c.Observability.OTelEnabled = true }},
		{"reconcile interval too small", func(c *Config) { c.Policy.ReconcileInterval = time.Millisecond }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaults()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
