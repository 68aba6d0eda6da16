// ABOUTME: Configuration loading and parsing for asobi-gateway
// ABOUTME: YAML or TOML files with ${VAR} expansion, then an environment overlay via envconfig

package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultAdminToken is used when no admin token is configured.
const DefaultAdminToken = "changeme"

// Config represents the complete asobi-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Mailer    MailerConfig    `yaml:"mailer" toml:"mailer"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	ReadTimeout     time.Duration `yaml:"-" toml:"-"`
	WriteTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	// Raw string values for file unmarshaling
	ReadTimeoutRaw     string `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeoutRaw    string `yaml:"write_timeout" toml:"write_timeout"`
	ShutdownTimeoutRaw string `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// AuthConfig holds guard configuration
type AuthConfig struct {
	AdminToken      string         `yaml:"admin_token" toml:"admin_token"`
	RequireAppCheck bool           `yaml:"require_app_check" toml:"require_app_check"`
	RequiredRole    string         `yaml:"required_role" toml:"required_role"`
	IDToken         VerifierConfig `yaml:"id_token" toml:"id_token"`
	AppCheck        VerifierConfig `yaml:"app_check" toml:"app_check"`
}

// VerifierConfig holds the key material and expected claims for one token kind.
// PublicKeyFile selects RS256; otherwise Secret selects HS256.
type VerifierConfig struct {
	Secret        string `yaml:"secret" toml:"secret"`
	PublicKeyFile string `yaml:"public_key_file" toml:"public_key_file"`
	Issuer        string `yaml:"issuer" toml:"issuer"`
	Audience      string `yaml:"audience" toml:"audience"`
}

// HasKey reports whether any key material is configured.
func (v VerifierConfig) HasKey() bool {
	return v.Secret != "" || v.PublicKeyFile != ""
}

// PublicKeyPEM reads the configured public key file, or returns nil if none is set.
func (v VerifierConfig) PublicKeyPEM() ([]byte, error) {
	if v.PublicKeyFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(v.PublicKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading public key file: %w", err)
	}
	return data, nil
}

// DatabaseConfig holds Invite Ledger configuration
type DatabaseConfig struct {
	Driver string `yaml:"driver" toml:"driver"`
	DSN    string `yaml:"dsn" toml:"dsn"`
}

// MailerConfig holds notification delivery configuration
type MailerConfig struct {
	Endpoint   string        `yaml:"endpoint" toml:"endpoint"`
	From       string        `yaml:"from" toml:"from"`
	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// CORSConfig holds the browser origin allow-list
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// RateLimitConfig holds the per-IP limit applied to admin routes. Zero disables it.
type RateLimitConfig struct {
	AdminRequestsPerMinute int `yaml:"admin_requests_per_minute" toml:"admin_requests_per_minute"`
}

// TailscaleConfig holds tsnet configuration. When enabled, the admin API is
// served only on the tailnet and removed from the public listener.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"` // falls back to TS_AUTHKEY
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"` // serve on :443 with the node's tailnet certificate
}

// Default returns the configuration used when no file or environment sets a value.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPAddr:           "0.0.0.0:8080",
			ReadTimeout:        15 * time.Second,
			WriteTimeout:       15 * time.Second,
			ShutdownTimeout:    10 * time.Second,
			ReadTimeoutRaw:     "15s",
			WriteTimeoutRaw:    "15s",
			ShutdownTimeoutRaw: "10s",
		},
		Auth: AuthConfig{
			AdminToken:      DefaultAdminToken,
			RequireAppCheck: true,
			RequiredRole:    "beta_user",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "./data/asobi.db",
		},
		Mailer: MailerConfig{
			Timeout:    10 * time.Second,
			TimeoutRaw: "10s",
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{
				"http://localhost:3000",
				"http://127.0.0.1:3000",
				"http://localhost:5173",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		RateLimit: RateLimitConfig{
			AdminRequestsPerMinute: 60,
		},
		Tailscale: TailscaleConfig{
			Hostname: "asobi-admin",
		},
	}
}

// Load builds a Config from defaults, the file at path (skipped when path is
// empty), and environment overrides, in that order.
// The file format is chosen by extension: .toml is TOML, anything else is YAML.
// Environment variables in the format ${VAR_NAME} are expanded in the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables in the raw content
		expanded := expandEnvVars(string(data))

		if isTOML(path) {
			if _, err := toml.Decode(expanded, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// envOverlay lists the environment variables that override file values.
// Nil fields were not set in the environment.
type envOverlay struct {
	AdminToken      *string  `envconfig:"ADMIN_API_TOKEN"`
	MailerEndpoint  *string  `envconfig:"MAILER_ENDPOINT"`
	RequireAppCheck *bool    `envconfig:"REQUIRE_APP_CHECK"`
	AllowedOrigins  []string `envconfig:"ALLOWED_ORIGINS"`
	HTTPAddr        *string  `envconfig:"ASOBI_HTTP_ADDR"`
	DBDriver        *string  `envconfig:"ASOBI_DB_DRIVER"`
	DBDSN           *string  `envconfig:"ASOBI_DB_DSN"`
	LogLevel        *string  `envconfig:"ASOBI_LOG_LEVEL"`
	LogFormat       *string  `envconfig:"ASOBI_LOG_FORMAT"`
	IDTokenSecret   *string  `envconfig:"ID_TOKEN_SECRET"`
	AppCheckSecret  *string  `envconfig:"APP_CHECK_SECRET"`
	IDTokenKeyFile  *string  `envconfig:"ID_TOKEN_PUBLIC_KEY_FILE"`
	AppCheckKeyFile *string  `envconfig:"APP_CHECK_PUBLIC_KEY_FILE"`
	Tailscale       *bool    `envconfig:"ASOBI_TAILSCALE"`
}

func applyEnv(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process("", &env); err != nil {
		return err
	}

	setString(&cfg.Auth.AdminToken, env.AdminToken)
	setString(&cfg.Mailer.Endpoint, env.MailerEndpoint)
	setString(&cfg.Server.HTTPAddr, env.HTTPAddr)
	setString(&cfg.Database.Driver, env.DBDriver)
	setString(&cfg.Database.DSN, env.DBDSN)
	setString(&cfg.Logging.Level, env.LogLevel)
	setString(&cfg.Logging.Format, env.LogFormat)
	setString(&cfg.Auth.IDToken.Secret, env.IDTokenSecret)
	setString(&cfg.Auth.AppCheck.Secret, env.AppCheckSecret)
	setString(&cfg.Auth.IDToken.PublicKeyFile, env.IDTokenKeyFile)
	setString(&cfg.Auth.AppCheck.PublicKeyFile, env.AppCheckKeyFile)

	if env.RequireAppCheck != nil {
		cfg.Auth.RequireAppCheck = *env.RequireAppCheck
	}
	if env.Tailscale != nil {
		cfg.Tailscale.Enabled = *env.Tailscale
	}
	if env.AllowedOrigins != nil {
		origins := make([]string, 0, len(env.AllowedOrigins))
		for _, o := range env.AllowedOrigins {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
		cfg.CORS.AllowedOrigins = origins
	}
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}

	switch c.Database.Driver {
	case "sqlite", "postgres", "redis":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for driver %q", c.Database.Driver)
		}
	case "memory":
	default:
		return fmt.Errorf("database.driver must be one of sqlite, postgres, redis, memory (got %q)", c.Database.Driver)
	}

	if c.Auth.RequireAppCheck && !c.Auth.AppCheck.HasKey() {
		return fmt.Errorf("auth.app_check.secret or auth.app_check.public_key_file is required when require_app_check is enabled")
	}
	if c.Auth.RequiredRole == "" {
		return fmt.Errorf("auth.required_role is required")
	}

	if c.Mailer.Timeout <= 0 {
		return fmt.Errorf("mailer.timeout must be positive")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error (got %q)", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}
	if c.RateLimit.AdminRequestsPerMinute < 0 {
		return fmt.Errorf("rate_limit.admin_requests_per_minute must not be negative")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.read_timeout", cfg.Server.ReadTimeoutRaw, &cfg.Server.ReadTimeout},
		{"server.write_timeout", cfg.Server.WriteTimeoutRaw, &cfg.Server.WriteTimeout},
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"mailer.timeout", cfg.Mailer.TimeoutRaw, &cfg.Mailer.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}

// Marshal renders c in the format implied by path's extension.
func (c *Config) Marshal(path string) ([]byte, error) {
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, fmt.Errorf("encoding toml: %w", err)
		}
		return buf.Bytes(), nil
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding yaml: %w", err)
	}
	return data, nil
}
