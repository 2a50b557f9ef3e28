// Package config resolves the harness settings. Sources are layered, later
// ones winning: built-in defaults, an optional apiconform.yaml, a .env
// file, environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/wondertwin-ai/apiconform/internal/contract"
)

// DefaultConfigName is the config file looked up in the working directory
// when none is given explicitly.
const DefaultConfigName = "apiconform"

// EnvPrefix prefixes the environment variable of every key.
const EnvPrefix = "APICONFORM"

var (
	ErrNoBaseURL      = errors.New("base URL is required")
	ErrBadBaseURL     = errors.New("base URL must be an absolute http(s) URL")
	ErrNoCredentials  = errors.New("email and password are required")
	ErrNotPositive    = errors.New("must be positive")
	ErrBadLogLevel    = errors.New("unknown log level")
	ErrConfigNotFound = errors.New("config file not found")
)

// Config holds the resolved settings.
type Config struct {
	BaseURL      string        `mapstructure:"base_url"`
	AdminURL     string        `mapstructure:"admin_url"`
	Email        string        `mapstructure:"email"`
	Password     string        `mapstructure:"password"`
	Timeout      time.Duration `mapstructure:"timeout"`
	LatencyBound time.Duration `mapstructure:"latency_bound"`
	Concurrency  int           `mapstructure:"concurrency"`
	PageLimit    int           `mapstructure:"page_limit"`
	MaxPages     int           `mapstructure:"max_pages"`
	FixtureCount int           `mapstructure:"fixture_count"`
	ContractFile string        `mapstructure:"contract"`
	LogLevel     string        `mapstructure:"log_level"`

	// File is the config file that was read, if any.
	File string `mapstructure:"-"`
}

// defaults are applied before any other source.
var defaults = map[string]any{
	"base_url":      "http://localhost:8000/api/v1",
	"admin_url":     "",
	"email":         "admin@example.com",
	"password":      "admin123",
	"timeout":       "5s",
	"latency_bound": "2s",
	"concurrency":   10,
	"page_limit":    5,
	"max_pages":     50,
	"fixture_count": 12,
	"contract":      "",
	"log_level":     "info",
}

// legacyEnv lists unprefixed variables accepted alongside APICONFORM_*.
var legacyEnv = map[string]string{
	"base_url": "API_BASE_URL",
	"email":    "API_EMAIL",
	"password": "API_PASSWORD",
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"base-url":      "base_url",
	"admin-url":     "admin_url",
	"email":         "email",
	"password":      "password",
	"timeout":       "timeout",
	"latency-bound": "latency_bound",
	"concurrency":   "concurrency",
	"page-limit":    "page_limit",
	"max-pages":     "max_pages",
	"fixtures":      "fixture_count",
	"contract":      "contract",
	"log-level":     "log_level",
}

// Options selects the sources Load reads.
type Options struct {
	// ConfigFile is an explicit config file; it must exist. When empty,
	// apiconform.yaml in Dir is read if present.
	ConfigFile string
	// EnvFile is loaded into the environment when it exists. Variables
	// already set are not overridden. Defaults to Dir/.env.
	EnvFile string
	// Dir is where the default files are looked up. Defaults to ".".
	Dir string
	// Flags, when set, override every other source for flags the user
	// changed. Flag names are listed by RegisterFlags.
	Flags *pflag.FlagSet
}

// RegisterFlags adds the config flags to fs. Their defaults are only
// shown in help; values come from Load.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("base-url", "", "base URL of the API under test (env API_BASE_URL)")
	fs.String("admin-url", "", "base URL of the backend's /admin control plane, if any")
	fs.String("email", "", "login email (env API_EMAIL)")
	fs.String("password", "", "login password (env API_PASSWORD)")
	fs.Duration("timeout", 0, "per-request timeout (default 5s)")
	fs.Duration("latency-bound", 0, "per-response latency bound under concurrent load (default 2s)")
	fs.Int("concurrency", 0, "fan-out of the concurrency scenarios (default 10)")
	fs.Int("page-limit", 0, "page size for the pagination walk (default 5)")
	fs.Int("max-pages", 0, "page bound for the pagination walk (default 50)")
	fs.Int("fixtures", 0, "fixtures created for the pagination walk (default 12)")
	fs.String("contract", "", "contract file (YAML) overriding paths and status codes")
	fs.String("log-level", "", "log level: debug, info, warn or error (default info)")
}

// Load resolves a Config from every source and validates it.
func Load(opts Options) (*Config, error) {
	dir := opts.Dir
	if dir == "" {
		dir = "."
	}

	v := viper.New()
	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if opts.ConfigFile != "" {
		if _, err := os.Stat(opts.ConfigFile); err != nil {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, opts.ConfigFile)
		}
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName(DefaultConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config read %q: %w", v.ConfigFileUsed(), err)
		}
	}

	envFile := opts.EnvFile
	if envFile == "" {
		envFile = filepath.Join(dir, ".env")
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		if err := v.BindEnv(key, EnvPrefix+"_"+strings.ToUpper(key), legacy); err != nil {
			return nil, err
		}
	}

	if opts.Flags != nil {
		for name, key := range flagKeys {
			if f := opts.Flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.AdminURL = strings.TrimRight(cfg.AdminURL, "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return ErrNoBaseURL
	}
	if !isHTTPURL(c.BaseURL) {
		return fmt.Errorf("%w: %q", ErrBadBaseURL, c.BaseURL)
	}
	if c.AdminURL != "" && !isHTTPURL(c.AdminURL) {
		return fmt.Errorf("admin URL: %w: %q", ErrBadBaseURL, c.AdminURL)
	}
	if c.Email == "" || c.Password == "" {
		return ErrNoCredentials
	}

	positive := []struct {
		name  string
		value int64
	}{
		{"timeout", int64(c.Timeout)},
		{"latency_bound", int64(c.LatencyBound)},
		{"concurrency", int64(c.Concurrency)},
		{"page_limit", int64(c.PageLimit)},
		{"max_pages", int64(c.MaxPages)},
		{"fixture_count", int64(c.FixtureCount)},
	}
	for _, p := range positive {
		if p.value <= 0 {
			return fmt.Errorf("%s %w", p.name, ErrNotPositive)
		}
	}

	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("%w %q", ErrBadLogLevel, c.LogLevel)
	}
	return level, nil
}

// Contract loads ContractFile, or returns the default contract when no
// file is configured.
func (c *Config) Contract() (*contract.Contract, error) {
	if c.ContractFile == "" {
		return contract.Default(), nil
	}
	return contract.Load(c.ContractFile)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
