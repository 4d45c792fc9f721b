// Package config defines the tradeledger configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by TRADELEDGER_* environment variables.
type Config struct {
	Brokerage BrokerageConfig `toml:"brokerage"`
	Monitor   MonitorConfig   `toml:"monitor"`
	Store     StoreConfig     `toml:"store"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Server    ServerConfig    `toml:"server"`
	Ledger    LedgerConfig    `toml:"ledger"`
	Notify    NotifyConfig    `toml:"notify"`
	Mode      string          `toml:"mode"`
	LogLevel  string          `toml:"log_level"`
}

// BrokerageConfig holds the brokerage REST endpoint and credentials.
type BrokerageConfig struct {
	BaseURL    string   `toml:"base_url"`
	APIKey     string   `toml:"api_key"`
	Timeout    duration `toml:"timeout"`
	RateLimit  int      `toml:"rate_limit"` // requests per rate_window; 0 disables pacing
	RateWindow duration `toml:"rate_window"`
}

// MonitorConfig controls settlement polling.
type MonitorConfig struct {
	PollInterval duration `toml:"poll_interval"`
	Timeout      duration `toml:"timeout"`
	Concurrency  int      `toml:"concurrency"` // orders monitored at once in settle mode
}

// StoreConfig selects the ledger backend: "postgres" or "memory".
type StoreConfig struct {
	Driver string `toml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string   `toml:"dsn"`
	Host          string   `toml:"host"`
	Port          int      `toml:"port"`
	Database      string   `toml:"database"`
	User          string   `toml:"user"`
	Password      string   `toml:"password"`
	SSLMode       string   `toml:"ssl_mode"`
	PoolMaxConns  int      `toml:"pool_max_conns"`
	PoolMinConns  int      `toml:"pool_min_conns"`
	ConnLifetime  duration `toml:"conn_lifetime"`
	RunMigrations bool     `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled, locks, the
// event bus and rate limiting run in-process.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	KeyPrefix  string `toml:"key_prefix"`
}

// S3Config holds S3-compatible object storage parameters for the settlement
// journal. When disabled, settlements are not archived.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Port         int      `toml:"port"`
	CORSOrigins  []string `toml:"cors_origins"`
	WriteTimeout duration `toml:"write_timeout"`
	APIKey       string   `toml:"api_key"` // empty disables authentication
}

// LedgerConfig tunes the position ledger.
type LedgerConfig struct {
	LockTTL duration `toml:"lock_ttl"`
}

// NotifyConfig controls chat alerts for ledger events. Senders without
// credentials are skipped.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"` // empty forwards every event
}

// duration wraps time.Duration so TOML strings like "5s" decode directly.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config suitable for local development against the
// docker-compose services.
func Defaults() Config {
	return Config{
		Brokerage: BrokerageConfig{
			BaseURL:    "http://localhost:8081/api/v3/brokerage",
			Timeout:    duration{30 * time.Second},
			RateLimit:  10,
			RateWindow: duration{time.Second},
		},
		Monitor: MonitorConfig{
			PollInterval: duration{2 * time.Second},
			Timeout:      duration{10 * time.Minute},
			Concurrency:  4,
		},
		Store: StoreConfig{Driver: "postgres"},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradeledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			ConnLifetime:  duration{time.Hour},
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
			KeyPrefix:  "tradeledger",
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradeledger",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Port:         8000,
			CORSOrigins:  []string{"http://localhost:3000"},
			WriteTimeout: duration{15 * time.Minute},
		},
		Ledger: LedgerConfig{
			LockTTL: duration{30 * time.Second},
		},
		Notify: NotifyConfig{
			Events: []string{"position_closed"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true,
	"settle": true,
}

var validDrivers = map[string]bool{
	"postgres": true,
	"memory":   true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, settle)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if strings.TrimSpace(c.Brokerage.BaseURL) == "" {
		errs = append(errs, "brokerage: base_url must not be empty")
	}
	if c.Brokerage.RateLimit < 0 {
		errs = append(errs, "brokerage: rate_limit must be >= 0")
	}
	if c.Brokerage.RateLimit > 0 && c.Brokerage.RateWindow.Duration <= 0 {
		errs = append(errs, "brokerage: rate_window must be > 0 when rate_limit is set")
	}

	if c.Monitor.PollInterval.Duration <= 0 {
		errs = append(errs, "monitor: poll_interval must be > 0")
	}
	if c.Monitor.Timeout.Duration <= 0 {
		errs = append(errs, "monitor: timeout must be > 0")
	}
	if c.Monitor.Timeout.Duration > 0 && c.Monitor.Timeout.Duration < c.Monitor.PollInterval.Duration {
		errs = append(errs, "monitor: timeout must not be shorter than poll_interval")
	}
	if c.Monitor.Concurrency < 1 {
		errs = append(errs, "monitor: concurrency must be >= 1")
	}

	driver := strings.ToLower(c.Store.Driver)
	if !validDrivers[driver] {
		errs = append(errs, fmt.Sprintf("store: unknown driver %q (valid: postgres, memory)", c.Store.Driver))
	}
	if driver == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}

	if strings.ToLower(c.Mode) == "server" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if c.Ledger.LockTTL.Duration <= 0 {
		errs = append(errs, "ledger: lock_ttl must be > 0")
	}

	if (c.Notify.TelegramToken == "") != (c.Notify.TelegramChatID == "") {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
