package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pvolkov/tradecopier/internal/domain"
)

// ReplicationStore persists replication records and enforces at-most-once
// admission of source trades.
type ReplicationStore struct {
	pool *pgxpool.Pool
}

// NewReplicationStore creates a ReplicationStore backed by the given client.
func NewReplicationStore(client *Client) *ReplicationStore {
	return &ReplicationStore{pool: client.Pool()}
}

// Admit attempts to claim a source trade for replication. The insert either
// creates a pending record (Accepted) or hits the primary key and affects no
// rows (AlreadyProcessed). Concurrent callers race on the same insert, so at
// most one of them observes Accepted.
func (s *ReplicationStore) Admit(ctx context.Context, ev domain.TradeEvent) (domain.AdmissionResult, error) {
	const query = `
		INSERT INTO replication_records
			(source_trade_id, symbol, side, quantity, price, status, event_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (source_trade_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		ev.SourceTradeID,
		ev.Symbol,
		string(ev.Side),
		ev.Quantity,
		ev.Price,
		string(domain.ReplicationPending),
		ev.EventTime,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: admit trade %s: %v", domain.ErrStorage, ev.SourceTradeID, err)
	}

	if tag.RowsAffected() == 0 {
		return domain.AlreadyProcessed, nil
	}
	return domain.Accepted, nil
}

// Complete records the terminal outcome of a replication attempt. Only a
// pending record can transition, so a repeated terminal write is rejected.
func (s *ReplicationStore) Complete(ctx context.Context, sourceTradeID string, out domain.Outcome) error {
	const query = `
		UPDATE replication_records
		SET status = $2,
			target_order_id = $3,
			error_detail = $4,
			attempt_count = $5,
			completed_at = NOW()
		WHERE source_trade_id = $1 AND status = $6`

	tag, err := s.pool.Exec(ctx, query,
		sourceTradeID,
		string(out.Status),
		out.TargetOrderID,
		out.ErrorDetail,
		out.AttemptCount,
		string(domain.ReplicationPending),
	)
	if err != nil {
		return fmt.Errorf("%w: complete trade %s: %v", domain.ErrStorage, sourceTradeID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: complete trade %s: no pending record", sourceTradeID)
	}
	return nil
}

// Get returns the replication record for a source trade ID.
func (s *ReplicationStore) Get(ctx context.Context, sourceTradeID string) (domain.ReplicationRecord, error) {
	const query = `
		SELECT source_trade_id, symbol, side, quantity, price, target_order_id,
			status, error_detail, attempt_count, event_time, created_at, completed_at
		FROM replication_records
		WHERE source_trade_id = $1`

	rec, err := scanRecord(s.pool.QueryRow(ctx, query, sourceTradeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ReplicationRecord{}, fmt.Errorf("%w: trade %s", domain.ErrNotFound, sourceTradeID)
		}
		return domain.ReplicationRecord{}, fmt.Errorf("%w: get trade %s: %v", domain.ErrStorage, sourceTradeID, err)
	}
	return rec, nil
}

// ListRecent returns replication records ordered by creation time, newest
// first, honoring the limit, offset and optional since filter in opts.
func (s *ReplicationStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.ReplicationRecord, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT source_trade_id, symbol, side, quantity, price, target_order_id,
			status, error_detail, attempt_count, event_time, created_at, completed_at
		FROM replication_records`
	args := []any{}
	if opts.Since != nil {
		query += ` WHERE created_at >= $1`
		args = append(args, *opts.Since)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2)
	args = append(args, limit, opts.Offset)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list records: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	var records []domain.ReplicationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan record: %v", domain.ErrStorage, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate records: %v", domain.ErrStorage, err)
	}
	return records, nil
}

// CountByStatus returns the number of records in each replication status.
func (s *ReplicationStore) CountByStatus(ctx context.Context) (map[domain.ReplicationStatus]int64, error) {
	const query = `SELECT status, COUNT(*) FROM replication_records GROUP BY status`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: count by status: %v", domain.ErrStorage, err)
	}
	defer rows.Close()

	counts := make(map[domain.ReplicationStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("%w: scan count: %v", domain.ErrStorage, err)
		}
		counts[domain.ReplicationStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate counts: %v", domain.ErrStorage, err)
	}
	return counts, nil
}

func scanRecord(row pgx.Row) (domain.ReplicationRecord, error) {
	var (
		rec         domain.ReplicationRecord
		side        string
		status      string
		completedAt *time.Time
	)
	err := row.Scan(
		&rec.SourceTradeID,
		&rec.Symbol,
		&side,
		&rec.Quantity,
		&rec.Price,
		&rec.TargetOrderID,
		&status,
		&rec.ErrorDetail,
		&rec.AttemptCount,
		&rec.EventTime,
		&rec.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return domain.ReplicationRecord{}, err
	}
	rec.Side = domain.Side(side)
	rec.Status = domain.ReplicationStatus(status)
	rec.CompletedAt = completedAt
	return rec, nil
}
