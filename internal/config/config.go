// Package config loads the wager engine's configuration from built-in
// defaults, an optional TOML file, a .env file and WAGER_* environment
// variables, in that order of precedence (last wins).
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "WAGER_"

// Config is the top-level configuration.
type Config struct {
	LogLevel string `toml:"log_level" env:"LOG_LEVEL"`

	Server   ServerConfig   `toml:"server" envPrefix:"SERVER_"`
	Exchange ExchangeConfig `toml:"exchange" envPrefix:"EXCHANGE_"`
	Auth     AuthConfig     `toml:"auth" envPrefix:"AUTH_"`
	Postgres PostgresConfig `toml:"postgres" envPrefix:"POSTGRES_"`
	Redis    RedisConfig    `toml:"redis" envPrefix:"REDIS_"`
	S3       S3Config       `toml:"s3" envPrefix:"S3_"`
	Faucet   FaucetConfig   `toml:"faucet" envPrefix:"FAUCET_"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port            int           `toml:"port" env:"PORT"`
	CORSOrigins     []string      `toml:"cors_origins" env:"CORS_ORIGINS" envSeparator:","`
	RequestTimeout  time.Duration `toml:"request_timeout" env:"REQUEST_TIMEOUT"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string { return fmt.Sprintf(":%d", s.Port) }

// ExchangeConfig holds the engine's fixed parameters.
type ExchangeConfig struct {
	Operator    string        `toml:"operator" env:"OPERATOR"`
	Escrow      string        `toml:"escrow" env:"ESCROW"`
	AmountScale int32         `toml:"amount_scale" env:"AMOUNT_SCALE"`
	LockKey     string        `toml:"lock_key" env:"LOCK_KEY"`
	LockTTL     time.Duration `toml:"lock_ttl" env:"LOCK_TTL"`
}

// OperatorAddress parses Operator. Call Validate first.
func (e ExchangeConfig) OperatorAddress() common.Address { return common.HexToAddress(e.Operator) }

// EscrowAddress parses Escrow. Call Validate first.
func (e ExchangeConfig) EscrowAddress() common.Address { return common.HexToAddress(e.Escrow) }

// AuthConfig controls how callers are identified.
type AuthConfig struct {
	// RequireSignature rejects requests whose address header is not backed
	// by a valid signature. Disable only for local development.
	RequireSignature bool          `toml:"require_signature" env:"REQUIRE_SIGNATURE"`
	MaxSkew          time.Duration `toml:"max_skew" env:"MAX_SKEW"`
	// SessionSecret enables bearer sessions when set. At least 32 bytes.
	SessionSecret string        `toml:"session_secret" env:"SESSION_SECRET"`
	SessionTTL    time.Duration `toml:"session_ttl" env:"SESSION_TTL"`
}

// PostgresConfig selects the durable backend. An empty URL means in-memory.
type PostgresConfig struct {
	URL     string `toml:"url" env:"URL"`
	Migrate bool   `toml:"migrate" env:"MIGRATE"`
}

// RedisConfig enables the read-through cache, the cross-instance lock and
// the event relay. An empty URL disables all three.
type RedisConfig struct {
	URL           string        `toml:"url" env:"URL"`
	CacheTTL      time.Duration `toml:"cache_ttl" env:"CACHE_TTL"`
	EventsChannel string        `toml:"events_channel" env:"EVENTS_CHANNEL"`
	Lock          bool          `toml:"lock" env:"LOCK"`
	LockRetry     time.Duration `toml:"lock_retry" env:"LOCK_RETRY"`
}

// S3Config configures the event archive. An empty Bucket disables it.
type S3Config struct {
	Bucket          string        `toml:"bucket" env:"BUCKET"`
	Prefix          string        `toml:"prefix" env:"PREFIX"`
	Region          string        `toml:"region" env:"REGION"`
	Endpoint        string        `toml:"endpoint" env:"ENDPOINT"`
	AccessKeyID     string        `toml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey string        `toml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
	UsePathStyle    bool          `toml:"use_path_style" env:"USE_PATH_STYLE"`
	Interval        time.Duration `toml:"interval" env:"INTERVAL"`
	BatchSize       int           `toml:"batch_size" env:"BATCH_SIZE"`
}

// FaucetConfig gates the operator mint endpoint.
type FaucetConfig struct {
	Enabled bool `toml:"enabled" env:"ENABLED"`
}

// Defaults returns a Config populated with sensible defaults for local
// development. Operator and escrow must still be supplied.
func Defaults() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Port:            8080,
			CORSOrigins:     []string{"*"},
			RequestTimeout:  30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Exchange: ExchangeConfig{
			AmountScale: 18,
			LockKey:     "wager:engine",
			LockTTL:     10 * time.Second,
		},
		Auth: AuthConfig{
			RequireSignature: true,
			MaxSkew:          5 * time.Minute,
			SessionTTL:       12 * time.Hour,
		},
		Postgres: PostgresConfig{Migrate: true},
		Redis: RedisConfig{
			CacheTTL:      30 * time.Second,
			EventsChannel: "wager:events",
			LockRetry:     50 * time.Millisecond,
		},
		S3: S3Config{
			Prefix:    "events/",
			Region:    "us-east-1",
			Interval:  time.Minute,
			BatchSize: 500,
		},
	}
}

var validLogLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel maps LogLevel to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	if lvl, ok := validLogLevels[strings.ToLower(c.LogLevel)]; ok {
		return lvl
	}
	return slog.LevelInfo
}

// Validate checks the configuration for errors and returns all of them at
// once.
func (c *Config) Validate() error {
	var errs []string

	if _, ok := validLogLevels[strings.ToLower(c.LogLevel)]; !ok {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port %d out of range", c.Server.Port))
	}

	operatorOK := checkAddress(&errs, "exchange: operator", c.Exchange.Operator)
	escrowOK := checkAddress(&errs, "exchange: escrow", c.Exchange.Escrow)
	if operatorOK && escrowOK && c.Exchange.OperatorAddress() == c.Exchange.EscrowAddress() {
		errs = append(errs, "exchange: operator and escrow must differ")
	}
	if c.Exchange.AmountScale < 0 || c.Exchange.AmountScale > 36 {
		errs = append(errs, fmt.Sprintf("exchange: amount_scale %d out of range [0, 36]", c.Exchange.AmountScale))
	}

	if c.Exchange.LockTTL <= 0 {
		errs = append(errs, "exchange: lock_ttl must be positive")
	}

	if c.Auth.MaxSkew <= 0 {
		errs = append(errs, "auth: max_skew must be positive")
	}
	if c.Auth.SessionSecret != "" {
		if len(c.Auth.SessionSecret) < 32 {
			errs = append(errs, "auth: session_secret must be at least 32 bytes")
		}
		if c.Auth.SessionTTL <= 0 {
			errs = append(errs, "auth: session_ttl must be positive")
		}
	}

	if c.Redis.Lock && c.Redis.URL == "" {
		errs = append(errs, "redis: lock requires url")
	}

	if c.S3.Bucket != "" {
		if c.S3.Interval <= 0 {
			errs = append(errs, "s3: interval must be positive")
		}
		if c.S3.BatchSize <= 0 {
			errs = append(errs, "s3: batch_size must be positive")
		}
		if (c.S3.AccessKeyID == "") != (c.S3.SecretAccessKey == "") {
			errs = append(errs, "s3: access_key_id and secret_access_key must be set together")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func checkAddress(errs *[]string, field, v string) bool {
	switch {
	case v == "":
		*errs = append(*errs, field+" is required")
	case !common.IsHexAddress(v):
		*errs = append(*errs, fmt.Sprintf("%s %q is not a hex address", field, v))
	case common.HexToAddress(v) == (common.Address{}):
		*errs = append(*errs, field+" must not be the zero address")
	default:
		return true
	}
	return false
}
