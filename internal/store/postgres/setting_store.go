package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pvolkov/tradecopier/internal/domain"
)

// SettingStore persists small key/value operational state, such as the
// timestamp monitoring first started.
type SettingStore struct {
	pool *pgxpool.Pool
}

// NewSettingStore creates a SettingStore backed by the given client.
func NewSettingStore(client *Client) *SettingStore {
	return &SettingStore{pool: client.Pool()}
}

// Get returns the value for a key, or ErrNotFound when the key is absent.
func (s *SettingStore) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: setting %s", domain.ErrNotFound, key)
		}
		return "", fmt.Errorf("%w: get setting %s: %v", domain.ErrStorage, key, err)
	}
	return value, nil
}

// Put stores a value for a key, overwriting any existing value.
func (s *SettingStore) Put(ctx context.Context, key, value string) error {
	const query = `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE
		SET value = EXCLUDED.value, updated_at = NOW()`

	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("%w: put setting %s: %v", domain.ErrStorage, key, err)
	}
	return nil
}

// CompareAndInsert stores the value only when the key is absent. It reports
// whether this call created the row, so the first writer wins and later
// callers observe the original value.
func (s *SettingStore) CompareAndInsert(ctx context.Context, key, value string) (bool, error) {
	const query = `
		INSERT INTO settings (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, key, value)
	if err != nil {
		return false, fmt.Errorf("%w: insert setting %s: %v", domain.ErrStorage, key, err)
	}
	return tag.RowsAffected() > 0, nil
}
