// Package config defines the top-level configuration for the trade copier
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COPIER_* environment variables.
type Config struct {
	Source   AccountConfig  `toml:"source"`
	Target   AccountConfig  `toml:"target"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	Mirror   MirrorConfig   `toml:"mirror"`
	Stream   StreamConfig   `toml:"stream"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// AccountConfig holds exchange API credentials and endpoints for one account.
type AccountConfig struct {
	ApiKey    string `toml:"api_key"`
	SecretKey string `toml:"secret_key"`
	BaseURL   string `toml:"base_url"`
	WsURL     string `toml:"ws_url"`
	// RecvWindowMs widens the signed-request acceptance window so clock skew
	// between us and the venue does not reject orders.
	RecvWindowMs int `toml:"recv_window_ms"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// MirrorConfig holds the mirroring engine parameters.
type MirrorConfig struct {
	// Symbols is the instrument set the polling reconciler scans.
	Symbols []string `toml:"symbols"`
	// PollInterval is the delay between full polling passes.
	PollInterval duration `toml:"poll_interval"`
	// PollTimeout bounds each per-symbol history request.
	PollTimeout duration `toml:"poll_timeout"`
	// InterPollDelay is the pause between symbols within one pass.
	InterPollDelay duration `toml:"inter_poll_delay"`
	// InterOrderDelay is the minimum spacing between orders on the target.
	InterOrderDelay duration `toml:"inter_order_delay"`
	// ReplicateRetries caps transport-level retries per order.
	ReplicateRetries int      `toml:"replicate_retries"`
	RetryDelay       duration `toml:"retry_delay"`
	// OrderRateLimit / OrderRateWindow feed the distributed rate limiter.
	OrderRateLimit       int      `toml:"order_rate_limit"`
	OrderRateWindow      duration `toml:"order_rate_window"`
	PositionSyncInterval duration `toml:"position_sync_interval"`
}

// StreamConfig holds the stream client's reconnect and renewal parameters.
type StreamConfig struct {
	BackoffBase duration `toml:"backoff_base"`
	BackoffCap  duration `toml:"backoff_cap"`
	// MaxAttempts is the consecutive-fault count after which the client
	// reports exhaustion; the orchestrator then retries at FloorInterval.
	MaxAttempts     int      `toml:"max_attempts"`
	FloorInterval   duration `toml:"floor_interval"`
	StabilityWindow duration `toml:"stability_window"`
	// RenewInterval is how often the session listen key is kept alive,
	// independent of connection faults.
	RenewInterval duration `toml:"renew_interval"`
}

// ServerConfig holds the read-only HTTP API parameters.
type ServerConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Source: AccountConfig{
			BaseURL: "https://fapi.binance.com",
			WsURL:   "wss://fstream.binance.com",
		},
		Target: AccountConfig{
			BaseURL:      "https://testnet.binancefuture.com",
			WsURL:        "wss://stream.binancefuture.com",
			RecvWindowMs: 60_000,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "tradecopier",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
		},
		Mirror: MirrorConfig{
			Symbols:              []string{"BTCUSDT", "ETHUSDT"},
			PollInterval:         duration{10 * time.Second},
			PollTimeout:          duration{15 * time.Second},
			InterPollDelay:       duration{100 * time.Millisecond},
			InterOrderDelay:      duration{500 * time.Millisecond},
			ReplicateRetries:     3,
			RetryDelay:           duration{time.Second},
			OrderRateLimit:       10,
			OrderRateWindow:      duration{time.Second},
			PositionSyncInterval: duration{30 * time.Second},
		},
		Stream: StreamConfig{
			BackoffBase:     duration{5 * time.Second},
			BackoffCap:      duration{80 * time.Second},
			MaxAttempts:     5,
			FloorInterval:   duration{2 * time.Minute},
			StabilityWindow: duration{30 * time.Second},
			RenewInterval:   duration{30 * time.Minute},
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    8000,
		},
		Notify: NotifyConfig{
			Events: []string{"stream_exhausted", "replication_failed"},
		},
		Mode:     "mirror",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"mirror":  true,
	"poll":    true,
	"monitor": true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: mirror, poll, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Source credentials are needed in every mode; the engine cannot observe
	// anything without them.
	if c.Source.ApiKey == "" || c.Source.SecretKey == "" {
		errs = append(errs, "source: api_key and secret_key must be set")
	}
	if c.Source.BaseURL == "" {
		errs = append(errs, "source: base_url must not be empty")
	}

	// Target credentials are only required when orders will be placed.
	placesOrders := c.Mode == "mirror" || c.Mode == "poll"
	if placesOrders {
		if c.Target.ApiKey == "" || c.Target.SecretKey == "" {
			errs = append(errs, "target: api_key and secret_key must be set for mode "+c.Mode)
		}
		if c.Target.BaseURL == "" {
			errs = append(errs, "target: base_url must not be empty")
		}
		if c.Target.RecvWindowMs <= 0 {
			errs = append(errs, "target: recv_window_ms must be > 0")
		}
	}

	if c.Mode == "mirror" && c.Source.WsURL == "" {
		errs = append(errs, "source: ws_url must not be empty in mirror mode")
	}

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

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if len(c.Mirror.Symbols) == 0 {
		errs = append(errs, "mirror: symbols must not be empty")
	}
	if c.Mirror.PollInterval.Duration <= 0 {
		errs = append(errs, "mirror: poll_interval must be > 0")
	}
	if c.Mirror.PollTimeout.Duration <= 0 {
		errs = append(errs, "mirror: poll_timeout must be > 0")
	}
	if c.Mirror.ReplicateRetries < 0 {
		errs = append(errs, "mirror: replicate_retries must be >= 0")
	}
	if c.Mirror.OrderRateLimit < 1 {
		errs = append(errs, "mirror: order_rate_limit must be >= 1")
	}
	if c.Mirror.PositionSyncInterval.Duration <= 0 {
		errs = append(errs, "mirror: position_sync_interval must be > 0")
	}

	if c.Stream.BackoffBase.Duration <= 0 {
		errs = append(errs, "stream: backoff_base must be > 0")
	}
	if c.Stream.BackoffCap.Duration < c.Stream.BackoffBase.Duration {
		errs = append(errs, "stream: backoff_cap must be >= backoff_base")
	}
	if c.Stream.MaxAttempts < 1 {
		errs = append(errs, "stream: max_attempts must be >= 1")
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
