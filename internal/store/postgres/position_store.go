package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pvolkov/tradecopier/internal/domain"
)

// PositionStore persists the latest position snapshot per account.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a PositionStore backed by the given client.
func NewPositionStore(client *Client) *PositionStore {
	return &PositionStore{pool: client.Pool()}
}

// ReplaceAll swaps the stored snapshot for an account in a single
// transaction. Symbols absent from snaps disappear, so a closed position
// leaves no stale row behind.
func (s *PositionStore) ReplaceAll(ctx context.Context, account domain.AccountRole, snaps []domain.PositionSnapshot) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: begin replace positions: %v", domain.ErrStorage, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE account = $1`, string(account)); err != nil {
		return fmt.Errorf("%w: clear positions %s: %v", domain.ErrStorage, account, err)
	}

	const insert = `
		INSERT INTO positions
			(account, symbol, side, size, entry_price, mark_price, unrealized_pnl, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, snap := range snaps {
		if _, err := tx.Exec(ctx, insert,
			string(account),
			snap.Symbol,
			string(snap.Side),
			snap.Size,
			snap.EntryPrice,
			snap.MarkPrice,
			snap.UnrealizedPnl,
			snap.UpdatedAt,
		); err != nil {
			return fmt.Errorf("%w: insert position %s/%s: %v", domain.ErrStorage, account, snap.Symbol, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("%w: commit replace positions: %v", domain.ErrStorage, err)
	}
	return nil
}

// List returns the stored positions for an account ordered by symbol.
func (s *PositionStore) List(ctx context.Context, account domain.AccountRole) ([]domain.PositionSnapshot, error) {
	const query = `
		SELECT account, symbol, side, size, entry_price, mark_price, unrealized_pnl, updated_at
		FROM positions
		WHERE account = $1
		ORDER BY symbol`

	rows, err := s.pool.Query(ctx, query, string(account))
	if err != nil {
		return nil, fmt.Errorf("%w: list positions %s: %v", domain.ErrStorage, account, err)
	}
	defer rows.Close()

	var snaps []domain.PositionSnapshot
	for rows.Next() {
		var (
			snap    domain.PositionSnapshot
			acct    string
			side    string
		)
		if err := rows.Scan(&acct, &snap.Symbol, &side, &snap.Size, &snap.EntryPrice, &snap.MarkPrice, &snap.UnrealizedPnl, &snap.UpdatedAt); err != nil {
			return nil, fmt.Errorf("%w: scan position: %v", domain.ErrStorage, err)
		}
		snap.Account = domain.AccountRole(acct)
		snap.Side = domain.Side(side)
		snaps = append(snaps, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate positions: %v", domain.ErrStorage, err)
	}
	return snaps, nil
}
