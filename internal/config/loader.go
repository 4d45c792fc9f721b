package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies TRADELEDGER_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

const envPrefix = "TRADELEDGER_"

// applyEnvOverrides overwrites Config fields from TRADELEDGER_* environment
// variables that are set and non-empty, so secrets can be injected at deploy
// time without touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Brokerage ──
	setStr(&cfg.Brokerage.BaseURL, envPrefix+"BROKERAGE_BASE_URL")
	setStr(&cfg.Brokerage.APIKey, envPrefix+"BROKERAGE_API_KEY")
	setDuration(&cfg.Brokerage.Timeout, envPrefix+"BROKERAGE_TIMEOUT")
	setInt(&cfg.Brokerage.RateLimit, envPrefix+"BROKERAGE_RATE_LIMIT")
	setDuration(&cfg.Brokerage.RateWindow, envPrefix+"BROKERAGE_RATE_WINDOW")

	// ── Monitor ──
	setDuration(&cfg.Monitor.PollInterval, envPrefix+"MONITOR_POLL_INTERVAL")
	setDuration(&cfg.Monitor.Timeout, envPrefix+"MONITOR_TIMEOUT")
	setInt(&cfg.Monitor.Concurrency, envPrefix+"MONITOR_CONCURRENCY")

	// ── Store ──
	setStr(&cfg.Store.Driver, envPrefix+"STORE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.DSN, envPrefix+"POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, envPrefix+"POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, envPrefix+"POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, envPrefix+"POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, envPrefix+"POSTGRES_USER")
	setStr(&cfg.Postgres.Password, envPrefix+"POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, envPrefix+"POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, envPrefix+"POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, envPrefix+"POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, envPrefix+"POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, envPrefix+"REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, envPrefix+"REDIS_ADDR")
	setStr(&cfg.Redis.Password, envPrefix+"REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, envPrefix+"REDIS_DB")
	setInt(&cfg.Redis.PoolSize, envPrefix+"REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, envPrefix+"REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, envPrefix+"REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, envPrefix+"REDIS_KEY_PREFIX")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, envPrefix+"S3_ENABLED")
	setStr(&cfg.S3.Endpoint, envPrefix+"S3_ENDPOINT")
	setStr(&cfg.S3.Region, envPrefix+"S3_REGION")
	setStr(&cfg.S3.Bucket, envPrefix+"S3_BUCKET")
	setStr(&cfg.S3.Prefix, envPrefix+"S3_PREFIX")
	setStr(&cfg.S3.AccessKey, envPrefix+"S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, envPrefix+"S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, envPrefix+"S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, envPrefix+"S3_FORCE_PATH_STYLE")

	// ── Server ──
	setInt(&cfg.Server.Port, envPrefix+"SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, envPrefix+"SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, envPrefix+"SERVER_API_KEY")

	// ── Ledger ──
	setDuration(&cfg.Ledger.LockTTL, envPrefix+"LEDGER_LOCK_TTL")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, envPrefix+"NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, envPrefix+"NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, envPrefix+"NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, envPrefix+"NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, envPrefix+"MODE")
	setStr(&cfg.LogLevel, envPrefix+"LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
