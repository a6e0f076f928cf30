package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pvolkov/tradecopier/internal/cache/redis"
	"github.com/pvolkov/tradecopier/internal/config"
	"github.com/pvolkov/tradecopier/internal/domain"
	"github.com/pvolkov/tradecopier/internal/notify"
	"github.com/pvolkov/tradecopier/internal/platform/binance"
	"github.com/pvolkov/tradecopier/internal/store/postgres"
)

// Dependencies bundles everything the operating modes need. It is constructed
// by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Venue clients
	Source *binance.Client
	Target *binance.Client

	// Stores
	ReplicationStore domain.ReplicationStore
	CursorStore      domain.CursorStore
	PositionStore    domain.PositionStore
	SettingStore     domain.SettingStore

	// Caches
	RateLimiter   domain.RateLimiter
	SignalBus     domain.SignalBus
	PositionCache domain.PositionCache

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Venue clients ---
	deps.Source = binance.NewClient(
		cfg.Source.BaseURL, cfg.Source.ApiKey, cfg.Source.SecretKey,
		binance.WithRecvWindow(cfg.Source.RecvWindowMs),
	)
	deps.Target = binance.NewClient(
		cfg.Target.BaseURL, cfg.Target.ApiKey, cfg.Target.SecretKey,
		binance.WithRecvWindow(cfg.Target.RecvWindowMs),
	)

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	deps.ReplicationStore = postgres.NewReplicationStore(pgClient)
	deps.CursorStore = postgres.NewCursorStore(pgClient)
	deps.PositionStore = postgres.NewPositionStore(pgClient)
	deps.SettingStore = postgres.NewSettingStore(pgClient)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	deps.PositionCache = redis.NewPositionCache(redisClient)

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
