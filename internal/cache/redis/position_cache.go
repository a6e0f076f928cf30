package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pvolkov/tradecopier/internal/domain"
)

// positionTTL bounds staleness when the sync loop stops writing.
const positionTTL = 5 * time.Minute

// PositionCache implements domain.PositionCache using a single Redis string
// per account holding the JSON-encoded snapshot list. The whole set is
// replaced on every sync, so one key per account is enough.
type PositionCache struct {
	rdb *redis.Client
}

// NewPositionCache creates a PositionCache backed by the given Client.
func NewPositionCache(c *Client) *PositionCache {
	return &PositionCache{rdb: c.Underlying()}
}

func positionKey(account domain.AccountRole) string {
	return "positions:" + string(account)
}

// SetAll stores the full snapshot set for an account, replacing any previous
// value.
func (pc *PositionCache) SetAll(ctx context.Context, account domain.AccountRole, snaps []domain.PositionSnapshot) error {
	data, err := json.Marshal(snaps)
	if err != nil {
		return fmt.Errorf("redis: encode positions %s: %w", account, err)
	}
	if err := pc.rdb.Set(ctx, positionKey(account), data, positionTTL).Err(); err != nil {
		return fmt.Errorf("redis: set positions %s: %w", account, err)
	}
	return nil
}

// GetAll retrieves the cached snapshot set for an account. It returns
// domain.ErrNotFound when no snapshot has been cached.
func (pc *PositionCache) GetAll(ctx context.Context, account domain.AccountRole) ([]domain.PositionSnapshot, error) {
	data, err := pc.rdb.Get(ctx, positionKey(account)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("redis: get positions %s: %w", account, err)
	}

	var snaps []domain.PositionSnapshot
	if err := json.Unmarshal(data, &snaps); err != nil {
		return nil, fmt.Errorf("redis: decode positions %s: %w", account, err)
	}
	return snaps, nil
}

// Compile-time interface check.
var _ domain.PositionCache = (*PositionCache)(nil)
