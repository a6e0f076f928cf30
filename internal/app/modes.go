package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pvolkov/tradecopier/internal/domain"
	"github.com/pvolkov/tradecopier/internal/mirror"
	"github.com/pvolkov/tradecopier/internal/platform/binance"
	"github.com/pvolkov/tradecopier/internal/server"
	"github.com/pvolkov/tradecopier/internal/server/handler"
	"github.com/pvolkov/tradecopier/internal/stream"
)

// startTimeKey records when this deployment first began observing fills.
// Trades predating it are never replicated, even across restarts.
const startTimeKey = "monitor_start_time"

// MirrorMode runs the full engine: websocket fills with the polling backstop,
// order replication, and position syncing.
func (a *App) MirrorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting mirror mode")
	return a.runEngine(ctx, deps, true, true)
}

// PollMode replicates from trade history polling only, with no websocket.
func (a *App) PollMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting poll mode")
	return a.runEngine(ctx, deps, false, true)
}

// MonitorMode observes positions on both accounts without placing orders.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	return a.runEngine(ctx, deps, false, false)
}

func (a *App) runEngine(ctx context.Context, deps *Dependencies, withStream, withOrders bool) error {
	startAt, err := a.recordStartTime(ctx, deps)
	if err != nil {
		return err
	}

	counters := &mirror.Counters{}
	mcfg := a.cfg.Mirror

	var runners []mirror.Runner
	var exec *mirror.Executor

	if withOrders {
		exec = mirror.NewExecutor(
			deps.Target,
			deps.ReplicationStore,
			deps.RateLimiter,
			deps.SignalBus,
			deps.Notifier,
			counters,
			mirror.ExecutorConfig{
				InterOrderDelay: mcfg.InterOrderDelay.Duration,
				Retries:         mcfg.ReplicateRetries,
				RetryDelay:      mcfg.RetryDelay.Duration,
				RateLimit:       mcfg.OrderRateLimit,
				RateWindow:      mcfg.OrderRateWindow.Duration,
			},
			a.logger,
		)
		runners = append(runners, exec)

		poller := mirror.NewPoller(
			deps.Source,
			deps.CursorStore,
			exec,
			counters,
			mirror.PollerConfig{
				Symbols:        mcfg.Symbols,
				Interval:       mcfg.PollInterval.Duration,
				SymbolTimeout:  mcfg.PollTimeout.Duration,
				InterPollDelay: mcfg.InterPollDelay.Duration,
				StartTime:      startAt,
			},
			a.logger,
		)
		runners = append(runners, poller)
	}

	sources := map[domain.AccountRole]mirror.PositionSource{
		domain.AccountSource: deps.Source,
	}
	probes := map[domain.AccountRole]mirror.TimeProbe{
		domain.AccountSource: deps.Source,
	}
	if withOrders || a.cfg.Target.ApiKey != "" {
		sources[domain.AccountTarget] = deps.Target
		probes[domain.AccountTarget] = deps.Target
	}
	syncer := mirror.NewPositionSyncer(
		sources,
		deps.PositionStore,
		deps.PositionCache,
		mcfg.PositionSyncInterval.Duration,
		a.logger,
	)
	runners = append(runners, syncer)

	var streamClient *stream.Client
	if withStream {
		ws := binance.NewWSClient(a.cfg.Source.WsURL)
		ws.OnFill(func(fillCtx context.Context, ev domain.TradeEvent) {
			if err := exec.Submit(fillCtx, ev); err != nil {
				a.logger.Warn("fill submit failed",
					slog.String("trade_id", ev.SourceTradeID),
					slog.String("error", err.Error()),
				)
			}
		})
		streamClient = stream.NewClient(deps.Source, ws, stream.Config{
			BackoffBase:     a.cfg.Stream.BackoffBase.Duration,
			BackoffCap:      a.cfg.Stream.BackoffCap.Duration,
			MaxAttempts:     a.cfg.Stream.MaxAttempts,
			StabilityWindow: a.cfg.Stream.StabilityWindow.Duration,
			RenewInterval:   a.cfg.Stream.RenewInterval.Duration,
		}, a.logger)
	}

	var streamRunner mirror.StreamRunner
	if streamClient != nil {
		streamRunner = streamClient
	}

	orch := mirror.NewOrchestrator(
		probes,
		streamRunner,
		runners,
		counters,
		deps.Notifier,
		mirror.OrchestratorConfig{
			StreamFloorInterval: a.cfg.Stream.FloorInterval.Duration,
		},
		a.logger,
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer orch.Stop()
		return orch.Run(gCtx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(gCtx, g, deps, orch)
	}

	return g.Wait()
}

// recordStartTime persists the first moment this deployment started and
// returns it, so the no-backfill boundary survives restarts: the poller
// initializes fresh cursors at this instant rather than at process start.
func (a *App) recordStartTime(ctx context.Context, deps *Dependencies) (time.Time, error) {
	now := time.Now().UTC().Truncate(time.Second)
	created, err := deps.SettingStore.CompareAndInsert(ctx, startTimeKey, now.Format(time.RFC3339))
	if err != nil {
		return time.Time{}, err
	}
	if created {
		a.logger.InfoContext(ctx, "monitoring start recorded", slog.Time("start", now))
		return now, nil
	}

	raw, err := deps.SettingStore.Get(ctx, startTimeKey)
	if err != nil {
		return time.Time{}, err
	}
	start, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("app: parse %s %q: %w", startTimeKey, raw, err)
	}
	a.logger.InfoContext(ctx, "monitoring start resumed", slog.Time("start", start))
	return start, nil
}

// startHTTPServer wires the read-only API and supervises it on the errgroup.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, orch *mirror.Orchestrator) {
	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, orch),
		Status:    handler.NewStatusHandler(a.cfg.Mode, a.cfg.Mirror.Symbols, orch),
		Trades:    handler.NewTradesHandler(deps.ReplicationStore, a.logger),
		Positions: handler.NewPositionsHandler(deps.PositionCache, deps.PositionStore, a.logger),
		Counters:  handler.NewCountersHandler(orch, deps.ReplicationStore, a.logger),
	}

	srv := server.NewServer(server.Config{Port: a.cfg.Server.Port}, handlers, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("server shutdown error", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}
