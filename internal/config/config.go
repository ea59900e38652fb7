// Package config loads wallet settings from an optional YAML file and
// WALLET_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/wallet/internal/enforcer"
)

// Config aggregates application configuration values.
type Config struct {
	Store    StoreConfig    `yaml:"store"`
	Enforcer EnforcerConfig `yaml:"enforcer"`
	Redis    RedisConfig    `yaml:"redis"`
	HTTP     HTTPConfig     `yaml:"http"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// StoreConfig selects the storage backend.
type StoreConfig struct {
	Backend string `yaml:"backend"` // sqlite|bolt|memory
	Path    string `yaml:"path"`
}

// EnforcerConfig tunes retries and the concurrency policy.
type EnforcerConfig struct {
	MaxAttempts int             `yaml:"max_attempts"`
	BaseDelay   time.Duration   `yaml:"base_delay"`
	MaxDelay    time.Duration   `yaml:"max_delay"`
	Jitter      float64         `yaml:"jitter"`
	Policy      enforcer.Policy `yaml:"policy"`
}

// RedisConfig describes the lock server used by the owner-lock policy.
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
}

// HTTPConfig governs the HTTP server.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	RateLimit       float64       `yaml:"rate_limit"` // requests per second per owner; 0 disables
	Burst           int           `yaml:"burst"`
}

// LoggingConfig controls structured logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text|json
}

const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendMemory = "memory"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			Backend: BackendSQLite,
			Path:    "wallet.db",
		},
		Enforcer: EnforcerConfig{
			MaxAttempts: enforcer.DefaultMaxAttempts,
			BaseDelay:   20 * time.Millisecond,
			MaxDelay:    500 * time.Millisecond,
			Jitter:      0.5,
			Policy:      enforcer.PolicyLastWriterWins,
		},
		Redis: RedisConfig{
			LockTTL: 5 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			RateLimit:       20,
			Burst:           40,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type lookupFunc func(key string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	setString(lookup, "WALLET_STORE_BACKEND", &c.Store.Backend)
	setString(lookup, "WALLET_STORE_PATH", &c.Store.Path)
	setString(lookup, "WALLET_REDIS_ADDR", &c.Redis.Addr)
	setString(lookup, "WALLET_REDIS_PASSWORD", &c.Redis.Password)
	setString(lookup, "WALLET_HTTP_ADDR", &c.HTTP.Addr)
	setString(lookup, "WALLET_LOG_LEVEL", &c.Logging.Level)
	setString(lookup, "WALLET_LOG_FORMAT", &c.Logging.Format)

	if v, ok := lookup("WALLET_ENFORCER_POLICY"); ok && v != "" {
		c.Enforcer.Policy = enforcer.Policy(v)
	}

	var errs []error
	errs = append(errs,
		setInt(lookup, "WALLET_ENFORCER_MAX_ATTEMPTS", &c.Enforcer.MaxAttempts),
		setDuration(lookup, "WALLET_ENFORCER_BASE_DELAY", &c.Enforcer.BaseDelay),
		setDuration(lookup, "WALLET_ENFORCER_MAX_DELAY", &c.Enforcer.MaxDelay),
		setFloat(lookup, "WALLET_ENFORCER_JITTER", &c.Enforcer.Jitter),
		setInt(lookup, "WALLET_REDIS_DB", &c.Redis.DB),
		setDuration(lookup, "WALLET_REDIS_LOCK_TTL", &c.Redis.LockTTL),
		setDuration(lookup, "WALLET_HTTP_READ_TIMEOUT", &c.HTTP.ReadTimeout),
		setDuration(lookup, "WALLET_HTTP_WRITE_TIMEOUT", &c.HTTP.WriteTimeout),
		setDuration(lookup, "WALLET_HTTP_SHUTDOWN_TIMEOUT", &c.HTTP.ShutdownTimeout),
		setFloat(lookup, "WALLET_HTTP_RATE_LIMIT", &c.HTTP.RateLimit),
		setInt(lookup, "WALLET_HTTP_BURST", &c.HTTP.Burst),
	)
	return errors.Join(errs...)
}

// Validate reports every invalid setting at once.
func (c Config) Validate() error {
	var errs []error

	switch c.Store.Backend {
	case BackendSQLite, BackendBolt:
		if c.Store.Path == "" {
			errs = append(errs, fmt.Errorf("store.path is required for backend %q", c.Store.Backend))
		}
	case BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("store.backend %q is not one of sqlite, bolt, memory", c.Store.Backend))
	}

	if c.Enforcer.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("enforcer.max_attempts must be at least 1, got %d", c.Enforcer.MaxAttempts))
	}
	if c.Enforcer.BaseDelay < 0 || c.Enforcer.MaxDelay < 0 {
		errs = append(errs, errors.New("enforcer delays must not be negative"))
	}
	if c.Enforcer.MaxDelay > 0 && c.Enforcer.BaseDelay > c.Enforcer.MaxDelay {
		errs = append(errs, errors.New("enforcer.base_delay must not exceed enforcer.max_delay"))
	}
	if c.Enforcer.Jitter < 0 || c.Enforcer.Jitter > 1 {
		errs = append(errs, fmt.Errorf("enforcer.jitter must be within [0, 1], got %g", c.Enforcer.Jitter))
	}
	if !c.Enforcer.Policy.IsValid() {
		errs = append(errs, fmt.Errorf("enforcer.policy %q is not one of %s, %s",
			c.Enforcer.Policy, enforcer.PolicyLastWriterWins, enforcer.PolicyOwnerLock))
	}

	if c.HTTP.RateLimit < 0 {
		errs = append(errs, errors.New("http.rate_limit must not be negative"))
	}
	if c.HTTP.RateLimit > 0 && c.HTTP.Burst < 1 {
		errs = append(errs, errors.New("http.burst must be at least 1 when rate limiting is enabled"))
	}

	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// ParseLevel converts a level name into a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("logging.level %q: %w", s, err)
	}
	return level, nil
}

func setString(lookup lookupFunc, key string, dst *string) {
	if v, ok := lookup(key); ok && v != "" {
		*dst = v
	}
}

func setInt(lookup lookupFunc, key string, dst *int) error {
	v, ok := lookup(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	*dst = n
	return nil
}

func setFloat(lookup lookupFunc, key string, dst *float64) error {
	v, ok := lookup(key)
	if !ok || v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	*dst = f
	return nil
}

func setDuration(lookup lookupFunc, key string, dst *time.Duration) error {
	v, ok := lookup(key)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", key, v, err)
	}
	*dst = d
	return nil
}
