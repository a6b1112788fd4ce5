// Package config loads server settings from defaults, an optional YAML file,
// environment variables, and command-line flags, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// MinSecretLength is the shortest accepted JWT signing secret.
const MinSecretLength = 32

type Config struct {
	HTTP      HTTPConfig      `koanf:"http"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	RateLimit RateLimitConfig `koanf:"ratelimit"`
	Mail      MailConfig      `koanf:"mail"`
	Log       LogConfig       `koanf:"log"`
}

type HTTPConfig struct {
	Addr              string        `koanf:"addr"`
	ReadHeaderTimeout time.Duration `koanf:"read_header_timeout"`
	IdleTimeout       time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout   time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Driver is "sqlite" or "postgres".
	Driver string `koanf:"driver"`
	Path   string `koanf:"path"`
	URL    string `koanf:"url"`
}

type AuthConfig struct {
	JWTSecret  string        `koanf:"jwt_secret"`
	TokenTTL   time.Duration `koanf:"token_ttl"`
	BcryptCost int           `koanf:"bcrypt_cost"`
	// StrictResetTicket only accepts the latest unused reset ticket.
	StrictResetTicket bool   `koanf:"strict_reset_ticket"`
	ResetURL          string `koanf:"reset_url"`
}

type RateLimitConfig struct {
	// Backend is "memory", "redis", or "off".
	Backend string `koanf:"backend"`

	// Token bucket settings for the memory backend.
	Rate  float64 `koanf:"rate"`
	Burst float64 `koanf:"burst"`

	// Fixed window settings for the redis backend.
	RedisURL    string        `koanf:"redis_url"`
	Window      time.Duration `koanf:"window"`
	MaxAttempts int64         `koanf:"max_attempts"`
}

type MailConfig struct {
	// Backend is "log" or "smtp".
	Backend  string `koanf:"backend"`
	Host     string `koanf:"host"`
	Port     int    `koanf:"port"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
	From     string `koanf:"from"`
	Secure   bool   `koanf:"secure"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

var defaults = map[string]any{
	"http.addr":                ":8081",
	"http.read_header_timeout": "10s",
	"http.idle_timeout":        "120s",
	"http.shutdown_timeout":    "5s",

	"database.driver": "sqlite",
	"database.path":   "daily-report.db",
	"database.url":    "",

	"auth.jwt_secret":          "",
	"auth.token_ttl":           "24h",
	"auth.bcrypt_cost":         12,
	"auth.strict_reset_ticket": true,
	"auth.reset_url":           "http://localhost:3000/auth/reset-password",

	"ratelimit.backend":      "memory",
	"ratelimit.rate":         0.2,
	"ratelimit.burst":        10,
	"ratelimit.redis_url":    "",
	"ratelimit.window":       "10m",
	"ratelimit.max_attempts": 10,

	"mail.backend":  "log",
	"mail.host":     "",
	"mail.port":     587,
	"mail.username": "",
	"mail.password": "",
	"mail.from":     "",
	"mail.secure":   false,

	"log.level":  "info",
	"log.format": "text",
}

// envKeys maps environment variables to config keys.
var envKeys = map[string]string{
	"DATABASE_DRIVER":     "database.driver",
	"DATABASE_PATH":       "database.path",
	"DATABASE_URL":        "database.url",
	"JWT_SECRET":          "auth.jwt_secret",
	"TOKEN_TTL":           "auth.token_ttl",
	"BCRYPT_COST":         "auth.bcrypt_cost",
	"STRICT_RESET_TICKET": "auth.strict_reset_ticket",
	"RESET_URL":           "auth.reset_url",
	"RATE_LIMIT_BACKEND":  "ratelimit.backend",
	"REDIS_URL":           "ratelimit.redis_url",
	"MAIL_BACKEND":        "mail.backend",
	"SMTP_HOST":           "mail.host",
	"SMTP_PORT":           "mail.port",
	"SMTP_USER":           "mail.username",
	"SMTP_PASS":           "mail.password",
	"SMTP_FROM":           "mail.from",
	"SMTP_SECURE":         "mail.secure",
	"LOG_LEVEL":           "log.level",
	"LOG_FORMAT":          "log.format",
}

// flagKeys maps command-line flag names to config keys.
var flagKeys = map[string]string{
	"addr":            "http.addr",
	"database-driver": "database.driver",
	"database-path":   "database.path",
	"database-url":    "database.url",
	"log-level":       "log.level",
	"log-format":      "log.format",
}

// RegisterFlags adds the overridable settings to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("addr", "", "listen address, e.g. :8081")
	fs.String("database-driver", "", "database driver: sqlite or postgres")
	fs.String("database-path", "", "SQLite database file")
	fs.String("database-url", "", "PostgreSQL connection URL")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.String("log-format", "", "log format: text or json")
}

// Load builds a validated Config. path may be empty to skip the file layer;
// flags may be nil.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	for key, val := range defaults {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("set default %s: %w", key, err)
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file: %w", err)
		}
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
			return key, posflag.FlagVal(flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, fmt.Errorf("load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadEnv(k *koanf.Koanf) error {
	// PORT is kept for compatibility with container platforms.
	if port, ok := os.LookupEnv("PORT"); ok && port != "" {
		if err := k.Set("http.addr", ":"+port); err != nil {
			return fmt.Errorf("set PORT: %w", err)
		}
	}
	for env, key := range envKeys {
		val, ok := os.LookupEnv(env)
		if !ok || val == "" {
			continue
		}
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set %s: %w", env, err)
		}
	}
	return nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required"))
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			errs = append(errs, errors.New("database.path is required for sqlite"))
		}
	case "postgres":
		if c.Database.URL == "" {
			errs = append(errs, errors.New("database.url is required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver))
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret (JWT_SECRET) is required"))
	} else if len(c.Auth.JWTSecret) < MinSecretLength {
		errs = append(errs, fmt.Errorf("auth.jwt_secret must be at least %d characters", MinSecretLength))
	}
	if c.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 14 {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost must be between 4 and 14, got %d", c.Auth.BcryptCost))
	}

	switch c.RateLimit.Backend {
	case "off":
	case "memory":
		if c.RateLimit.Burst < 1 {
			errs = append(errs, errors.New("ratelimit.burst must be at least 1"))
		}
	case "redis":
		if c.RateLimit.RedisURL == "" {
			errs = append(errs, errors.New("ratelimit.redis_url is required for redis"))
		}
		if c.RateLimit.Window <= 0 || c.RateLimit.MaxAttempts < 1 {
			errs = append(errs, errors.New("ratelimit.window and ratelimit.max_attempts must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("ratelimit.backend must be memory, redis or off, got %q", c.RateLimit.Backend))
	}

	switch c.Mail.Backend {
	case "log":
	case "smtp":
		if c.Mail.Host == "" || c.Mail.From == "" {
			errs = append(errs, errors.New("mail.host and mail.from are required for smtp"))
		}
	default:
		errs = append(errs, fmt.Errorf("mail.backend must be log or smtp, got %q", c.Mail.Backend))
	}

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
