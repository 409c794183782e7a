package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cloudrounds/rounds/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Database      storage.Config      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	SMTP          SMTPConfig          `yaml:"smtp"`
	OIDC          OIDCConfig          `yaml:"oidc"`
	Policy        PolicyConfig        `yaml:"policy"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`

	CORSAllowedOrigins []string `yaml:"cors_allowed_origins"`
}

// RedisConfig holds the optional Redis connection used by the distributed
// rate limiter.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// SMTPConfig holds outbound mail settings for the notifier.
type SMTPConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	From     string `yaml:"from"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// OIDCConfig holds optional single sign-on settings.
type OIDCConfig struct {
	Enabled      bool   `yaml:"enabled"`
	IssuerURL    string `yaml:"issuer_url"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURL  string `yaml:"redirect_url"`
}

// PolicyConfig holds the behavioral policy knobs of the request engine.
type PolicyConfig struct {
	// AllowDuplicatePending controls whether a user may file a second
	// request for a purpose while an earlier one is still Pending.
	// When false (the default) the duplicate is rejected as a conflict.
	AllowDuplicatePending bool `yaml:"allow_duplicate_pending"`

	// ReconcileInterval is the cron cadence for retrying approved
	// requests whose membership grant has not been applied.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`

	// AuditRetention bounds how long audit events are kept.
	AuditRetention time.Duration `yaml:"audit_retention"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// Load builds configuration from an optional YAML file (ROUNDS_CONFIG_FILE)
// overridden by environment variables, then validates it.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("ROUNDS_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host:               "0.0.0.0",
			Port:               "8080",
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       15 * time.Second,
			IdleTimeout:        60 * time.Second,
			ShutdownTimeout:    30 * time.Second,
			HealthPort:         "9090",
			CORSAllowedOrigins: []string{"*"},
		},
		Database: storage.DefaultConfig(),
		Policy: PolicyConfig{
			AllowDuplicatePending: false,
			ReconcileInterval:     time.Minute,
			AuditRetention:        90 * 24 * time.Hour,
		},
		Observability: ObservabilityConfig{
			LogLevel:           "info",
			MetricsEnabled:     true,
			OTelServiceName:    "rounds",
			OTelServiceVersion: "dev",
		},
	}
}

func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("ROUNDS_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("ROUNDS_PORT", cfg.Server.Port)
	cfg.Server.HealthPort = getEnv("ROUNDS_HEALTH_PORT", cfg.Server.HealthPort)
	cfg.Server.ReadTimeout = getEnvDuration("ROUNDS_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("ROUNDS_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("ROUNDS_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("ROUNDS_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)

	cfg.Database.Driver = getEnv("ROUNDS_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.PostgresURL = getEnv("ROUNDS_POSTGRES_URL", cfg.Database.PostgresURL)
	cfg.Database.SQLitePath = getEnv("ROUNDS_SQLITE_PATH", cfg.Database.SQLitePath)
	cfg.Database.MaxOpenConns = getEnvInt("ROUNDS_DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("ROUNDS_DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)

	cfg.Redis.Enabled = getEnvBool("ROUNDS_REDIS_ENABLED", cfg.Redis.Enabled)
	cfg.Redis.Addr = getEnv("ROUNDS_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("ROUNDS_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = getEnvInt("ROUNDS_REDIS_DB", cfg.Redis.DB)

	cfg.SMTP.Enabled = getEnvBool("ROUNDS_SMTP_ENABLED", cfg.SMTP.Enabled)
	cfg.SMTP.Host = getEnv("ROUNDS_SMTP_HOST", cfg.SMTP.Host)
	cfg.SMTP.Port = getEnvInt("ROUNDS_SMTP_PORT", cfg.SMTP.Port)
	cfg.SMTP.From = getEnv("ROUNDS_SMTP_FROM", cfg.SMTP.From)
	cfg.SMTP.Username = getEnv("ROUNDS_SMTP_USERNAME", cfg.SMTP.Username)
	cfg.SMTP.Password = getEnv("ROUNDS_SMTP_PASSWORD", cfg.SMTP.Password)

	cfg.OIDC.Enabled = getEnvBool("ROUNDS_OIDC_ENABLED", cfg.OIDC.Enabled)
	cfg.OIDC.IssuerURL = getEnv("ROUNDS_OIDC_ISSUER_URL", cfg.OIDC.IssuerURL)
	cfg.OIDC.ClientID = getEnv("ROUNDS_OIDC_CLIENT_ID", cfg.OIDC.ClientID)
	cfg.OIDC.ClientSecret = getEnv("ROUNDS_OIDC_CLIENT_SECRET", cfg.OIDC.ClientSecret)
	cfg.OIDC.RedirectURL = getEnv("ROUNDS_OIDC_REDIRECT_URL", cfg.OIDC.RedirectURL)

	cfg.Policy.AllowDuplicatePending = getEnvBool("ROUNDS_ALLOW_DUPLICATE_PENDING", cfg.Policy.AllowDuplicatePending)
	cfg.Policy.ReconcileInterval = getEnvDuration("ROUNDS_RECONCILE_INTERVAL", cfg.Policy.ReconcileInterval)
	cfg.Policy.AuditRetention = getEnvDuration("ROUNDS_AUDIT_RETENTION", cfg.Policy.AuditRetention)

	cfg.Observability.LogLevel = getEnv("ROUNDS_LOG_LEVEL", cfg.Observability.LogLevel)
	cfg.Observability.MetricsEnabled = getEnvBool("ROUNDS_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.OTelEnabled = getEnvBool("ROUNDS_OTEL_ENABLED", cfg.Observability.OTelEnabled)
	cfg.Observability.OTelEndpoint = getEnv("ROUNDS_OTEL_ENDPOINT", cfg.Observability.OTelEndpoint)
	cfg.Observability.OTelServiceName = getEnv("ROUNDS_OTEL_SERVICE_NAME", cfg.Observability.OTelServiceName)
	cfg.Observability.OTelInsecure = getEnvBool("ROUNDS_OTEL_INSECURE", cfg.Observability.OTelInsecure)
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.PostgresURL == "" {
			return fmt.Errorf("ROUNDS_POSTGRES_URL is required when driver is postgres")
		}
	case "sqlite3":
		if c.Database.SQLitePath == "" {
			return fmt.Errorf("ROUNDS_SQLITE_PATH is required when driver is sqlite3")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("ROUNDS_REDIS_ADDR is required when redis is enabled")
	}
	if c.SMTP.Enabled && (c.SMTP.Host == "" || c.SMTP.From == "") {
		return fmt.Errorf("ROUNDS_SMTP_HOST and ROUNDS_SMTP_FROM are required when smtp is enabled")
	}
	if c.OIDC.Enabled && (c.OIDC.IssuerURL == "" || c.OIDC.ClientID == "") {
		return fmt.Errorf("ROUNDS_OIDC_ISSUER_URL and ROUNDS_OIDC_CLIENT_ID are required when oidc is enabled")
	}
	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("ROUNDS_OTEL_ENDPOINT is required when otel is enabled")
	}
	if c.Policy.ReconcileInterval < time.Second {
		return fmt.Errorf("reconcile interval must be at least 1s")
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
