package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pvolkov/tradecopier/internal/domain"
)

// CursorStore persists the per-symbol polling cursor.
type CursorStore struct {
	pool *pgxpool.Pool
}

// NewCursorStore creates a CursorStore backed by the given client.
func NewCursorStore(client *Client) *CursorStore {
	return &CursorStore{pool: client.Pool()}
}

// Get returns the cursor for a symbol, or ErrNotFound when none exists.
func (s *CursorStore) Get(ctx context.Context, symbol string) (domain.Cursor, error) {
	const query = `
		SELECT symbol, last_event_time_ms, updated_at
		FROM cursors
		WHERE symbol = $1`

	var c domain.Cursor
	err := s.pool.QueryRow(ctx, query, symbol).Scan(&c.Symbol, &c.LastEventTimeMs, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Cursor{}, fmt.Errorf("%w: cursor %s", domain.ErrNotFound, symbol)
		}
		return domain.Cursor{}, fmt.Errorf("%w: get cursor %s: %v", domain.ErrStorage, symbol, err)
	}
	return c, nil
}

// Put upserts the cursor for a symbol. The cursor only moves forward, so a
// stale write is absorbed by the GREATEST guard rather than rewinding it.
func (s *CursorStore) Put(ctx context.Context, symbol string, lastEventTimeMs int64) error {
	const query = `
		INSERT INTO cursors (symbol, last_event_time_ms, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (symbol) DO UPDATE
		SET last_event_time_ms = GREATEST(cursors.last_event_time_ms, EXCLUDED.last_event_time_ms),
			updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, symbol, lastEventTimeMs); err != nil {
		return fmt.Errorf("%w: put cursor %s: %v", domain.ErrStorage, symbol, err)
	}
	return nil
}
