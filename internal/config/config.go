// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystride Contributors

// Package config loads Keystride settings from defaults, a YAML file,
// the environment and command-line flags, in increasing precedence.
package config

import (
	"errors"
	"io/fs"
	"net/url"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
	"golang.org/x/crypto/bcrypt"

	"github.com/keystride/keystride/internal/xdg"
)

// Config is the full runtime configuration.
type Config struct {
	HTTP     HTTPConfig     `koanf:"http" yaml:"http"`
	Metrics  MetricsConfig  `koanf:"metrics" yaml:"metrics"`
	Database DatabaseConfig `koanf:"database" yaml:"database"`
	Auth     AuthConfig     `koanf:"auth" yaml:"auth"`
	Cache    CacheConfig    `koanf:"cache" yaml:"cache"`
	Log      LogConfig      `koanf:"log" yaml:"log"`
}

// HTTPConfig configures the public API listener.
type HTTPConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// MetricsConfig configures the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" yaml:"addr"`
}

// DatabaseConfig configures PostgreSQL access.
type DatabaseConfig struct {
	URL         string `koanf:"url" yaml:"url"`
	MaxConns    int32  `koanf:"max_conns" yaml:"max_conns"`
	AutoMigrate bool   `koanf:"auto_migrate" yaml:"auto_migrate"`
}

// AuthConfig configures hashing and session tokens.
type AuthConfig struct {
	JWTSecret  string        `koanf:"jwt_secret" yaml:"jwt_secret"`
	TokenTTL   time.Duration `koanf:"token_ttl" yaml:"token_ttl"`
	BcryptCost int           `koanf:"bcrypt_cost" yaml:"bcrypt_cost"`
}

// CacheConfig configures the optional Redis progress cache. An empty RedisAddr disables it.
type CacheConfig struct {
	RedisAddr string        `koanf:"redis_addr" yaml:"redis_addr"`
	TTL       time.Duration `koanf:"ttl" yaml:"ttl"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Format string `koanf:"format" yaml:"format"`
	Level  string `koanf:"level" yaml:"level"`
}

// Default values.
const (
	DefaultHTTPAddr    = ":3000"
	DefaultMetricsAddr = "127.0.0.1:9100"
	DefaultTokenTTL    = time.Hour
	DefaultBcryptCost  = 10
	DefaultCacheTTL    = 5 * time.Minute
	DefaultLogFormat   = "json"
	DefaultLogLevel    = "info"
)

var defaults = map[string]any{
	"http.addr":             DefaultHTTPAddr,
	"metrics.addr":          DefaultMetricsAddr,
	"database.max_conns":    0,
	"database.auto_migrate": true,
	"auth.token_ttl":        DefaultTokenTTL,
	"auth.bcrypt_cost":      DefaultBcryptCost,
	"cache.ttl":             DefaultCacheTTL,
	"log.format":            DefaultLogFormat,
	"log.level":             DefaultLogLevel,
}

// env is decoded by envconfig. Nil fields were not set.
type env struct {
	DatabaseURL *string        `envconfig:"DATABASE_URL"`
	JWTSecret   *string        `envconfig:"JWT_SECRET"`
	Port        *string        `envconfig:"PORT"`
	HTTPAddr    *string        `envconfig:"KEYSTRIDE_HTTP_ADDR"`
	MetricsAddr *string        `envconfig:"KEYSTRIDE_METRICS_ADDR"`
	LogFormat   *string        `envconfig:"KEYSTRIDE_LOG_FORMAT"`
	LogLevel    *string        `envconfig:"KEYSTRIDE_LOG_LEVEL"`
	TokenTTL    *time.Duration `envconfig:"KEYSTRIDE_TOKEN_TTL"`
	RedisAddr   *string        `envconfig:"KEYSTRIDE_REDIS_ADDR"`
	AutoMigrate *bool          `envconfig:"KEYSTRIDE_AUTO_MIGRATE"`
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"http-addr":    "http.addr",
	"metrics-addr": "metrics.addr",
	"database-url": "database.url",
	"max-conns":    "database.max_conns",
	"auto-migrate": "database.auto_migrate",
	"token-ttl":    "auth.token_ttl",
	"redis-addr":   "cache.redis_addr",
	"cache-ttl":    "cache.ttl",
	"log-format":   "log.format",
	"log-level":    "log.level",
}

// RegisterFlags adds the flags understood by Load to fs.
// Flag defaults are informational; only flags set on the command line override other layers.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", DefaultHTTPAddr, "HTTP API listen address")
	fs.String("metrics-addr", DefaultMetricsAddr, "metrics/health HTTP address (empty = disabled)")
	fs.String("database-url", "", "PostgreSQL connection URL (default: $DATABASE_URL)")
	fs.Int32("max-conns", 0, "maximum database connections (0 = pgx default)")
	fs.Bool("auto-migrate", true, "apply the embedded schema on startup")
	fs.Duration("token-ttl", DefaultTokenTTL, "session token lifetime")
	fs.String("redis-addr", "", "Redis address for the progress cache (empty = disabled)")
	fs.Duration("cache-ttl", DefaultCacheTTL, "progress cache entry lifetime")
	fs.String("log-format", DefaultLogFormat, "log format (json or text)")
	fs.String("log-level", DefaultLogLevel, "log level (debug, info, warn, error)")
}

// Load builds the configuration. path is an explicit config file; when empty
// the XDG config file is read if it exists. flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, oops.Code("CONFIG_DEFAULTS_FAILED").With("key", key).Wrap(err)
		}
	}

	if err := loadFile(k, path); err != nil {
		return nil, err
	}

	if err := loadEnv(k); err != nil {
		return nil, err
	}

	if flags != nil {
		provider := posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, f.Value.String()
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_FLAGS_FAILED").Wrap(err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return &cfg, nil
}

func loadFile(k *koanf.Koanf, path string) error {
	explicit := path != ""
	if !explicit {
		var err error
		path, err = xdg.ConfigFile()
		if err != nil {
			// No home directory means no default file to read.
			return nil //nolint:nilerr // the default file is optional
		}
	}

	if _, err := os.Stat(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return oops.Code("CONFIG_READ_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

func loadEnv(k *koanf.Koanf) error {
	var e env
	if err := envconfig.Process("", &e); err != nil {
		return oops.Code("CONFIG_ENV_INVALID").Wrap(err)
	}

	set := map[string]any{}
	if e.DatabaseURL != nil {
		set["database.url"] = *e.DatabaseURL
	}
	if e.JWTSecret != nil {
		set["auth.jwt_secret"] = *e.JWTSecret
	}
	if e.Port != nil && *e.Port != "" {
		set["http.addr"] = ":" + *e.Port
	}
	if e.HTTPAddr != nil {
		set["http.addr"] = *e.HTTPAddr
	}
	if e.MetricsAddr != nil {
		set["metrics.addr"] = *e.MetricsAddr
	}
	if e.LogFormat != nil {
		set["log.format"] = *e.LogFormat
	}
	if e.LogLevel != nil {
		set["log.level"] = *e.LogLevel
	}
	if e.TokenTTL != nil {
		set["auth.token_ttl"] = *e.TokenTTL
	}
	if e.RedisAddr != nil {
		set["cache.redis_addr"] = *e.RedisAddr
	}
	if e.AutoMigrate != nil {
		set["database.auto_migrate"] = *e.AutoMigrate
	}

	for key, val := range set {
		if err := k.Set(key, val); err != nil {
			return oops.Code("CONFIG_ENV_INVALID").With("key", key).Wrap(err)
		}
	}
	return nil
}

// Validate checks that the configuration can start a server.
func (c *Config) Validate() error {
	switch {
	case c.HTTP.Addr == "":
		return invalid("http.addr", "is required")
	case c.Database.URL == "":
		return invalid("database.url", "is required (set DATABASE_URL)")
	case c.Database.MaxConns < 0:
		return invalid("database.max_conns", "must not be negative")
	case c.Auth.JWTSecret == "":
		return invalid("auth.jwt_secret", "is required (set JWT_SECRET)")
	case c.Auth.TokenTTL <= 0:
		return invalid("auth.token_ttl", "must be positive")
	case c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost:
		return invalid("auth.bcrypt_cost", "must be between 4 and 31")
	case c.Cache.RedisAddr != "" && c.Cache.TTL <= 0:
		return invalid("cache.ttl", "must be positive when the cache is enabled")
	case c.Log.Format != "json" && c.Log.Format != "text":
		return invalid("log.format", "must be 'json' or 'text', got \""+c.Log.Format+"\"")
	}
	return nil
}

// Redacted returns a copy safe to print: the JWT secret is masked and so
// is any password in the database URL.
func (c Config) Redacted() Config {
	out := c
	if out.Auth.JWTSecret != "" {
		out.Auth.JWTSecret = redactedValue
	}
	if u, err := url.Parse(out.Database.URL); err == nil && u.User != nil {
		out.Database.URL = u.Redacted()
	}
	return out
}

const redactedValue = "[REDACTED]"

func invalid(key, msg string) error {
	return oops.Code("CONFIG_INVALID").With("key", key).Errorf("%s %s", key, msg)
}
