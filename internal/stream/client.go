// Package stream supervises the source account's user-data websocket: it
// mints listen keys, keeps them alive, and reconnects with exponential
// backoff when the session drops.
package stream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pvolkov/tradecopier/internal/domain"
)

// KeySource mints and refreshes user-data stream listen keys.
type KeySource interface {
	NewListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context) error
}

// Session is a single websocket connection lifetime. Listen blocks until the
// connection drops or the context is cancelled.
type Session interface {
	Listen(ctx context.Context, listenKey string) error
}

// Config holds the reconnect and renewal parameters.
type Config struct {
	BackoffBase     time.Duration
	BackoffCap      time.Duration
	MaxAttempts     int
	StabilityWindow time.Duration
	RenewInterval   time.Duration
}

// Client runs one websocket session at a time and owns the full reconnect
// policy. It never touches storage; trade events flow out through the
// Session's handler.
type Client struct {
	keys       KeySource
	session    Session
	cfg        Config
	logger     *slog.Logger
	reconnects atomic.Int64
}

// NewClient creates a stream Client supervising the given session.
func NewClient(keys KeySource, session Session, cfg Config, logger *slog.Logger) *Client {
	if cfg.RenewInterval <= 0 {
		cfg.RenewInterval = 30 * time.Minute
	}
	return &Client{
		keys:    keys,
		session: session,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "stream")),
	}
}

// Reconnects returns the number of reconnect cycles performed so far.
func (c *Client) Reconnects() int64 {
	return c.reconnects.Load()
}

// Run connects and listens until ctx is cancelled, reconnecting with
// exponential backoff on faults. A connection that stays up for the
// stability window resets the backoff sequence. After MaxAttempts
// consecutive faults Run returns an error wrapping domain.ErrExhausted;
// the caller decides whether to retry the whole cycle.
func (c *Client) Run(ctx context.Context) error {
	bo := newBackoff(c.cfg.BackoffBase, c.cfg.BackoffCap)
	attempts := 0

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		start := time.Now()
		err := c.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		// A credential rejection will not heal with backoff. Surface it to
		// the supervisor instead of burning the reconnect budget.
		if errors.Is(err, domain.ErrAuth) {
			return fmt.Errorf("stream: credentials rejected: %w", err)
		}

		if c.cfg.StabilityWindow > 0 && time.Since(start) >= c.cfg.StabilityWindow {
			bo.Reset()
			attempts = 0
		}

		attempts++
		if c.cfg.MaxAttempts > 0 && attempts >= c.cfg.MaxAttempts {
			return fmt.Errorf("stream: %d consecutive faults (last: %v): %w", attempts, err, domain.ErrExhausted)
		}

		delay := bo.Next()
		c.logger.Warn("stream disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
			slog.Int("attempt", attempts),
		)
		c.reconnects.Add(1)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runSession mints a fresh listen key, starts the keepalive timer, and
// listens until the connection drops. A failed keepalive cancels the session
// so the next cycle mints a new key instead of riding an expired one.
func (c *Client) runSession(ctx context.Context) error {
	key, err := c.keys.NewListenKey(ctx)
	if err != nil {
		return fmt.Errorf("stream: listen key: %w", err)
	}

	sessCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.keepAlive(sessCtx, cancel)

	c.logger.Info("stream connected")
	return c.session.Listen(sessCtx, key)
}

func (c *Client) keepAlive(ctx context.Context, cancel context.CancelFunc) {
	ticker := time.NewTicker(c.cfg.RenewInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.keys.KeepAliveListenKey(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("listen key keepalive failed, recycling session",
					slog.String("error", err.Error()))
				cancel()
				return
			}
			c.logger.Debug("listen key renewed")
		}
	}
}
