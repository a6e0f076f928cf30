package mirror

import (
	"context"
	"log/slog"
	"time"

	"github.com/pvolkov/tradecopier/internal/domain"
	"github.com/pvolkov/tradecopier/internal/platform/binance"
)

// PositionSource reads open positions from one account.
type PositionSource interface {
	PositionRisk(ctx context.Context) ([]binance.PositionRisk, error)
}

// PositionSyncer periodically snapshots open positions on both accounts and
// replaces the stored state wholesale. The two accounts are fetched
// independently, so one venue being down does not stale the other's view.
type PositionSyncer struct {
	sources  map[domain.AccountRole]PositionSource
	store    domain.PositionStore
	cache    domain.PositionCache
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewPositionSyncer creates a syncer over the given account sources. cache
// may be nil.
func NewPositionSyncer(sources map[domain.AccountRole]PositionSource, store domain.PositionStore, cache domain.PositionCache, interval time.Duration, logger *slog.Logger) *PositionSyncer {
	return &PositionSyncer{
		sources:  sources,
		store:    store,
		cache:    cache,
		interval: interval,
		logger:   logger.With(slog.String("component", "position_syncer")),
		now:      time.Now,
	}
}

// Run syncs at the configured interval until ctx is cancelled. The first
// sync runs immediately.
func (ps *PositionSyncer) Run(ctx context.Context) error {
	ticker := time.NewTicker(ps.interval)
	defer ticker.Stop()

	ps.syncAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			ps.syncAll(ctx)
		}
	}
}

func (ps *PositionSyncer) syncAll(ctx context.Context) {
	for account, source := range ps.sources {
		if err := ps.syncAccount(ctx, account, source); err != nil {
			if ctx.Err() != nil {
				return
			}
			ps.logger.Warn("position sync failed",
				slog.String("account", string(account)),
				slog.String("error", err.Error()))
		}
	}
}

func (ps *PositionSyncer) syncAccount(ctx context.Context, account domain.AccountRole, source PositionSource) error {
	risks, err := source.PositionRisk(ctx)
	if err != nil {
		return err
	}

	now := ps.now().UTC()
	snaps := make([]domain.PositionSnapshot, 0, len(risks))
	for _, r := range risks {
		// Flat symbols are reported with a zero amount; skipping them here is
		// what makes ReplaceAll drop closed positions.
		if r.PositionAmt.IsZero() {
			continue
		}
		side := domain.SideBuy
		if r.PositionAmt.IsNegative() {
			side = domain.SideSell
		}
		snaps = append(snaps, domain.PositionSnapshot{
			Account:       account,
			Symbol:        r.Symbol,
			Side:          side,
			Size:          r.PositionAmt.Abs(),
			EntryPrice:    r.EntryPrice,
			MarkPrice:     r.MarkPrice,
			UnrealizedPnl: r.UnRealizedProfit,
			UpdatedAt:     now,
		})
	}

	if err := ps.store.ReplaceAll(ctx, account, snaps); err != nil {
		return err
	}
	if ps.cache != nil {
		if err := ps.cache.SetAll(ctx, account, snaps); err != nil {
			ps.logger.Warn("position cache update failed",
				slog.String("account", string(account)),
				slog.String("error", err.Error()))
		}
	}

	ps.logger.Debug("positions synced",
		slog.String("account", string(account)),
		slog.Int("open", len(snaps)))
	return nil
}
