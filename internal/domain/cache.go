package domain

import (
	"context"
	"time"
)

// RateLimiter provides distributed rate limiting for outbound venue calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string, limit int, window time.Duration) error
}

// SignalBus provides pub/sub for mirroring events so external tooling (the
// dashboard, alert pipelines) can observe the engine without touching its
// write paths.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// PositionCache mirrors the latest snapshot set for cheap dashboard reads.
type PositionCache interface {
	SetAll(ctx context.Context, account AccountRole, snaps []PositionSnapshot) error
	GetAll(ctx context.Context, account AccountRole) ([]PositionSnapshot, error)
}
