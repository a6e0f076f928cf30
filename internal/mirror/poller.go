package mirror

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/pvolkov/tradecopier/internal/domain"
	"github.com/pvolkov/tradecopier/internal/platform/binance"
)

// pollBatchLimit caps how many trades one history request returns.
const pollBatchLimit = 1000

// TradeSource fetches account trade history from the source venue.
type TradeSource interface {
	AccountTrades(ctx context.Context, symbol string, startTime int64, limit int) ([]binance.AccountTrade, error)
}

// FillSink accepts fills for replication.
type FillSink interface {
	Submit(ctx context.Context, ev domain.TradeEvent) error
}

// PollerConfig holds the reconciliation loop parameters.
type PollerConfig struct {
	Symbols        []string
	Interval       time.Duration
	SymbolTimeout  time.Duration
	InterPollDelay time.Duration
	// StartTime is the deployment's recorded monitoring start. Fresh cursors
	// are initialized here so a symbol first seen after a restart still
	// covers the gap back to deployment start, while trades predating the
	// deployment are never replayed. Zero means "now".
	StartTime time.Time
}

// Poller periodically scans source trade history per symbol and forwards
// anything at or past the stored cursor. It backstops the stream: a fill the
// websocket missed is picked up here, and admission drops the overlap.
type Poller struct {
	source   TradeSource
	cursors  domain.CursorStore
	sink     FillSink
	counters *Counters
	cfg      PollerConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewPoller creates a Poller over the configured symbols.
func NewPoller(source TradeSource, cursors domain.CursorStore, sink FillSink, counters *Counters, cfg PollerConfig, logger *slog.Logger) *Poller {
	return &Poller{
		source:   source,
		cursors:  cursors,
		sink:     sink,
		counters: counters,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "poller")),
		now:      time.Now,
	}
}

// Run executes polling passes at the configured interval until ctx is
// cancelled. The first pass runs immediately.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.pollAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.pollAll(ctx)
		}
	}
}

func (p *Poller) pollAll(ctx context.Context) {
	for i, symbol := range p.cfg.Symbols {
		if ctx.Err() != nil {
			return
		}
		if i > 0 && p.cfg.InterPollDelay > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(p.cfg.InterPollDelay):
			}
		}
		if err := p.pollSymbol(ctx, symbol); err != nil {
			if ctx.Err() != nil {
				return
			}
			// One bad symbol must not starve the rest of the pass.
			p.logger.Warn("poll failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()))
		}
	}
	p.counters.PollCycles.Add(1)
}

// pollSymbol fetches history past the symbol's cursor and forwards every
// trade before committing the cursor. Submit returns only after the trade is
// durably admitted, so a crash at any point replays trades rather than
// losing them.
func (p *Poller) pollSymbol(ctx context.Context, symbol string) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.SymbolTimeout)
	defer cancel()

	cursor, err := p.cursors.Get(ctx, symbol)
	if err != nil {
		if !domain.IsNotFound(err) {
			return err
		}
		// First sight of this symbol: start from the deployment boundary.
		// Historical trades predating the copier are deliberately not
		// replayed.
		startMs := p.now().UnixMilli()
		if !p.cfg.StartTime.IsZero() {
			startMs = p.cfg.StartTime.UnixMilli()
		}
		if err := p.cursors.Put(ctx, symbol, startMs); err != nil {
			return err
		}
		p.logger.Info("cursor initialized",
			slog.String("symbol", symbol),
			slog.Int64("start_ms", startMs))
		return nil
	}

	trades, err := p.source.AccountTrades(ctx, symbol, cursor.LastEventTimeMs, pollBatchLimit)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		return nil
	}

	// The venue usually returns trades time-ordered, but downstream ordering
	// is a contract, not a hope.
	sort.Slice(trades, func(i, j int) bool { return trades[i].Time < trades[j].Time })

	maxTime := cursor.LastEventTimeMs
	for _, t := range trades {
		ev := tradeEventFromHistory(symbol, t)
		if err := p.sink.Submit(ctx, ev); err != nil {
			return err
		}
		if t.Time > maxTime {
			maxTime = t.Time
		}
	}

	if maxTime > cursor.LastEventTimeMs {
		if err := p.cursors.Put(ctx, symbol, maxTime); err != nil {
			return err
		}
	}
	return nil
}

func tradeEventFromHistory(symbol string, t binance.AccountTrade) domain.TradeEvent {
	price := t.Price
	return domain.TradeEvent{
		SourceTradeID: t.TradeID(),
		Symbol:        symbol,
		Side:          domain.Side(t.Side),
		Quantity:      t.Qty,
		Price:         &price,
		EventTime:     time.UnixMilli(t.Time).UTC(),
	}
}
