package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COPIER_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COPIER_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject API secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Source account ──
	setStr(&cfg.Source.ApiKey, "COPIER_SOURCE_API_KEY")
	setStr(&cfg.Source.SecretKey, "COPIER_SOURCE_SECRET_KEY")
	setStr(&cfg.Source.BaseURL, "COPIER_SOURCE_BASE_URL")
	setStr(&cfg.Source.WsURL, "COPIER_SOURCE_WS_URL")

	// ── Target account ──
	setStr(&cfg.Target.ApiKey, "COPIER_TARGET_API_KEY")
	setStr(&cfg.Target.SecretKey, "COPIER_TARGET_SECRET_KEY")
	setStr(&cfg.Target.BaseURL, "COPIER_TARGET_BASE_URL")
	setStr(&cfg.Target.WsURL, "COPIER_TARGET_WS_URL")
	setInt(&cfg.Target.RecvWindowMs, "COPIER_TARGET_RECV_WINDOW_MS")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "COPIER_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "COPIER_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "COPIER_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "COPIER_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "COPIER_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "COPIER_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "COPIER_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "COPIER_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "COPIER_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "COPIER_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COPIER_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COPIER_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COPIER_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COPIER_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COPIER_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COPIER_REDIS_TLS_ENABLED")

	// ── Mirror ──
	setStringSlice(&cfg.Mirror.Symbols, "COPIER_MIRROR_SYMBOLS")
	setDuration(&cfg.Mirror.PollInterval, "COPIER_MIRROR_POLL_INTERVAL")
	setDuration(&cfg.Mirror.PollTimeout, "COPIER_MIRROR_POLL_TIMEOUT")
	setDuration(&cfg.Mirror.InterPollDelay, "COPIER_MIRROR_INTER_POLL_DELAY")
	setDuration(&cfg.Mirror.InterOrderDelay, "COPIER_MIRROR_INTER_ORDER_DELAY")
	setInt(&cfg.Mirror.ReplicateRetries, "COPIER_MIRROR_REPLICATE_RETRIES")
	setDuration(&cfg.Mirror.RetryDelay, "COPIER_MIRROR_RETRY_DELAY")
	setInt(&cfg.Mirror.OrderRateLimit, "COPIER_MIRROR_ORDER_RATE_LIMIT")
	setDuration(&cfg.Mirror.OrderRateWindow, "COPIER_MIRROR_ORDER_RATE_WINDOW")
	setDuration(&cfg.Mirror.PositionSyncInterval, "COPIER_MIRROR_POSITION_SYNC_INTERVAL")

	// ── Stream ──
	setDuration(&cfg.Stream.BackoffBase, "COPIER_STREAM_BACKOFF_BASE")
	setDuration(&cfg.Stream.BackoffCap, "COPIER_STREAM_BACKOFF_CAP")
	setInt(&cfg.Stream.MaxAttempts, "COPIER_STREAM_MAX_ATTEMPTS")
	setDuration(&cfg.Stream.FloorInterval, "COPIER_STREAM_FLOOR_INTERVAL")
	setDuration(&cfg.Stream.StabilityWindow, "COPIER_STREAM_STABILITY_WINDOW")
	setDuration(&cfg.Stream.RenewInterval, "COPIER_STREAM_RENEW_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "COPIER_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "COPIER_SERVER_PORT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "COPIER_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "COPIER_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "COPIER_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "COPIER_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COPIER_MODE")
	setStr(&cfg.LogLevel, "COPIER_LOG_LEVEL")
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
