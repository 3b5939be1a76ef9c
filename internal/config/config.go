// Package config loads the service configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/MJE43/arcade-scoregate/internal/anticheat"
	"github.com/MJE43/arcade-scoregate/internal/secrets"
)

// Config is the full service configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Session     SessionConfig     `yaml:"session"`
	AntiCheat   anticheat.Rules   `yaml:"anticheat"`
	Leaderboard LeaderboardConfig `yaml:"leaderboard"`
	Admin       AdminConfig       `yaml:"admin"`
	Secrets     SecretsConfig     `yaml:"secrets"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

// StorageConfig selects and configures the persistence backend.
type StorageConfig struct {
	// Driver is one of memory, sqlite or postgres.
	Driver         string `yaml:"driver"`
	Path           string `yaml:"path"`
	DSN            string `yaml:"dsn"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	ConnectRetries uint64 `yaml:"connect_retries"`
}

// SessionConfig configures session lifetime.
type SessionConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// LeaderboardConfig configures leaderboard reads.
type LeaderboardConfig struct {
	Limit int `yaml:"limit"`
}

// AdminConfig guards the maintenance endpoints. TokenHash is a bcrypt hash;
// when empty the admin routes are disabled.
type AdminConfig struct {
	TokenHash string `yaml:"token_hash"`
}

// SecretsConfig configures secret resolution.
type SecretsConfig struct {
	FallbackPath string `yaml:"fallback_path"`
}

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Default returns a configuration that runs entirely in memory.
func Default() Config {
	cfg := Config{AntiCheat: anticheat.DefaultRules()}
	applyDefaults(&cfg)
	return cfg
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are ignored.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("loading %s: %w", f, err)
		}
	}
	return nil
}

// Load reads and parses the configuration file at path. ${VAR} references
// are expanded from the environment before parsing; unset fields take
// their defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document into a Config.
func Parse(data []byte) (Config, error) {
	cfg := Config{AntiCheat: anticheat.DefaultRules()}
	data = []byte(expandEnvVars(string(data)))
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	applyDefaults(&cfg)
	return cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 15 * time.Second
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = 60 * time.Second
	}
	if cfg.Server.RequestTimeout == 0 {
		cfg.Server.RequestTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = DriverMemory
	}
	if cfg.Storage.Driver == DriverSQLite && cfg.Storage.Path == "" {
		cfg.Storage.Path = "scoregate.db"
	}
	if cfg.Storage.MaxOpenConns == 0 {
		cfg.Storage.MaxOpenConns = 10
	}
	if cfg.Storage.ConnectRetries == 0 {
		cfg.Storage.ConnectRetries = 5
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 10 * time.Minute
	}
	if cfg.Session.CleanupInterval == 0 {
		cfg.Session.CleanupInterval = time.Minute
	}
	if cfg.Leaderboard.Limit == 0 {
		cfg.Leaderboard.Limit = 100
	}
}

// Validate reports every problem with the configuration at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverSQLite:
		if c.Storage.Path == "" {
			errs = append(errs, "storage.path is required for sqlite")
		}
	case DriverPostgres:
		if c.Storage.DSN == "" {
			errs = append(errs, "storage.dsn is required for postgres")
		}
	default:
		errs = append(errs, fmt.Sprintf("storage.driver %q is not one of memory, sqlite, postgres", c.Storage.Driver))
	}

	if c.Session.TTL < time.Second {
		errs = append(errs, "session.ttl must be at least 1s")
	}
	if c.Session.CleanupInterval < 0 {
		errs = append(errs, "session.cleanup_interval must not be negative")
	}
	if c.Leaderboard.Limit < 1 || c.Leaderboard.Limit > 100 {
		errs = append(errs, "leaderboard.limit must be between 1 and 100")
	}
	if err := c.AntiCheat.Validate(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ResolveSecrets replaces secret references in the configuration with
// their values.
func (c *Config) ResolveSecrets(r *secrets.Resolver) error {
	for _, field := range []*string{&c.Storage.DSN, &c.Admin.TokenHash} {
		if !secrets.IsReference(*field) {
			continue
		}
		val, err := r.Resolve(*field)
		if err != nil {
			return fmt.Errorf("resolving secret: %w", err)
		}
		*field = val
	}
	return nil
}
