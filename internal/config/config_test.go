package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validConfig returns defaults plus the credentials Validate requires.
func validConfig() Config {
	cfg := Defaults()
	cfg.Source.ApiKey = "src-key"
	cfg.Source.SecretKey = "src-secret"
	cfg.Target.ApiKey = "tgt-key"
	cfg.Target.SecretKey = "tgt-secret"
	return cfg
}

func TestDefaultsWithCredentialsValidate(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "unknown mode",
			mutate:  func(c *Config) { c.Mode = "replay" },
			wantMsg: "unknown mode",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.LogLevel = "trace" },
			wantMsg: "unknown log_level",
		},
		{
			name:    "missing source credentials",
			mutate:  func(c *Config) { c.Source.ApiKey = "" },
			wantMsg: "source: api_key and secret_key",
		},
		{
			name:    "missing target credentials in mirror mode",
			mutate:  func(c *Config) { c.Target.SecretKey = "" },
			wantMsg: "target: api_key and secret_key",
		},
		{
			name:    "missing ws url in mirror mode",
			mutate:  func(c *Config) { c.Source.WsURL = "" },
			wantMsg: "ws_url must not be empty",
		},
		{
			name:    "empty symbol set",
			mutate:  func(c *Config) { c.Mirror.Symbols = nil },
			wantMsg: "symbols must not be empty",
		},
		{
			name:    "backoff cap below base",
			mutate:  func(c *Config) { c.Stream.BackoffCap = duration{time.Second} },
			wantMsg: "backoff_cap must be >= backoff_base",
		},
		{
			name: "pool min above max",
			mutate: func(c *Config) {
				c.Postgres.PoolMinConns = 20
				c.Postgres.PoolMaxConns = 10
			},
			wantMsg: "pool_min_conns must not exceed pool_max_conns",
		},
		{
			name:    "bad server port",
			mutate:  func(c *Config) { c.Server.Port = 99999 },
			wantMsg: "server: port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "bogus"
	cfg.Source.ApiKey = ""
	cfg.Redis.Addr = ""

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "source: api_key")
	assert.Contains(t, err.Error(), "redis: addr")
}

func TestMonitorModeSkipsTargetCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "monitor"
	cfg.Target.ApiKey = ""
	cfg.Target.SecretKey = ""
	cfg.Source.WsURL = ""

	require.NoError(t, cfg.Validate())
}

func TestPollModeSkipsWsURL(t *testing.T) {
	cfg := validConfig()
	cfg.Mode = "poll"
	cfg.Source.WsURL = ""

	require.NoError(t, cfg.Validate())
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode = "poll"
log_level = "debug"

[source]
api_key = "file-key"
secret_key = "file-secret"

[mirror]
symbols = ["SOLUSDT"]
poll_interval = "5s"

[stream]
backoff_base = "2s"
backoff_cap = "1m"
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "poll", cfg.Mode)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "file-key", cfg.Source.ApiKey)
	assert.Equal(t, []string{"SOLUSDT"}, cfg.Mirror.Symbols)
	assert.Equal(t, 5*time.Second, cfg.Mirror.PollInterval.Duration)
	assert.Equal(t, 2*time.Second, cfg.Stream.BackoffBase.Duration)
	assert.Equal(t, time.Minute, cfg.Stream.BackoffCap.Duration)

	// Untouched sections keep their defaults.
	assert.Equal(t, "https://fapi.binance.com", cfg.Source.BaseURL)
	assert.Equal(t, 60_000, cfg.Target.RecvWindowMs)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[source]
api_key = "file-key"
secret_key = "file-secret"
`), 0o600))

	t.Setenv("COPIER_SOURCE_API_KEY", "env-key")
	t.Setenv("COPIER_MIRROR_SYMBOLS", "BTCUSDT, XRPUSDT")
	t.Setenv("COPIER_STREAM_MAX_ATTEMPTS", "7")
	t.Setenv("COPIER_MIRROR_POLL_INTERVAL", "30s")
	t.Setenv("COPIER_SERVER_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.Source.ApiKey)
	assert.Equal(t, "file-secret", cfg.Source.SecretKey)
	assert.Equal(t, []string{"BTCUSDT", "XRPUSDT"}, cfg.Mirror.Symbols)
	assert.Equal(t, 7, cfg.Stream.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.Mirror.PollInterval.Duration)
	assert.False(t, cfg.Server.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}
